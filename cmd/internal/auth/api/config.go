package authapi

import (
	"os"
	"strconv"
	"strings"
)

// RefreshCookieName carries the refresh token for browser clients.
const RefreshCookieName = "tether_refresh"

// Config controls the auth HTTP API.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// RateRPS and RateBurst size the per-IP token bucket.
	RateRPS   float64
	RateBurst int

	CookieSecure bool
	CookiePath   string
}

func DefaultConfig() Config {
	return Config{
		MaxBodyBytes: 64 << 10,
		RateRPS:      1,
		RateBurst:    10,
		CookieSecure: true,
		CookiePath:   "/auth",
	}
}

// LoadConfigFromEnv reads TETHER_AUTH_* over the defaults.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.TrustProxy = envBool("TETHER_AUTH_TRUST_PROXY", cfg.TrustProxy)
	cfg.MaxBodyBytes = int64(envInt("TETHER_AUTH_MAX_BODY_BYTES", int(cfg.MaxBodyBytes)))
	cfg.RateRPS = envFloat("TETHER_AUTH_RATE_RPS", cfg.RateRPS)
	cfg.RateBurst = envInt("TETHER_AUTH_RATE_BURST", cfg.RateBurst)
	cfg.CookieSecure = envBool("TETHER_AUTH_COOKIE_SECURE", cfg.CookieSecure)
	return cfg
}

func envBool(key string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}
