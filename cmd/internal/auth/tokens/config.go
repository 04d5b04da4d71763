package tokens

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Config holds token lifetimes, signing keys and rotation cache bounds.
type Config struct {
	// Issuer is set as "iss" on both token kinds and required on verify.
	Issuer string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// ClockSkew is tolerated on nbf/exp checks.
	ClockSkew time.Duration

	// PasetoV4SecretKeyHex signs access tokens (Ed25519, hex).
	PasetoV4SecretKeyHex string

	// RefreshSecret signs refresh JWTs (HS256). At least 32 bytes.
	RefreshSecret []byte

	// RotationCacheSize and RotationCacheTTL bound the idempotency cache.
	RotationCacheSize int
	RotationCacheTTL  time.Duration
}

const minRefreshSecret = 32

// DefaultConfig returns the defaults without keys.
func DefaultConfig() Config {
	return Config{
		Issuer:            "tether",
		AccessTokenTTL:    15 * time.Minute,
		RefreshTokenTTL:   7 * 24 * time.Hour,
		ClockSkew:         30 * time.Second,
		RotationCacheSize: 10000,
		RotationCacheTTL:  2 * time.Minute,
	}
}

// LoadConfigFromEnv reads the TETHER_AUTH_*, TETHER_ROTATION_CACHE_* and key variables.
//
// Required:
//   - TETHER_PASETO_V4_SECRET_KEY_HEX
//   - TETHER_REFRESH_JWT_SECRET (32+ bytes)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDevConfigFromEnv is LoadConfigFromEnv with per-process keys generated for any key that is
// not configured. generated reports whether that happened; tokens then die with the process.
func LoadDevConfigFromEnv() (cfg Config, generated bool, err error) {
	cfg, err = loadConfig()
	if err != nil {
		return Config{}, false, err
	}
	if cfg.PasetoV4SecretKeyHex == "" {
		cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
		generated = true
	}
	if len(cfg.RefreshSecret) == 0 {
		b := make([]byte, minRefreshSecret)
		if _, err := rand.Read(b); err != nil {
			return Config{}, false, err
		}
		cfg.RefreshSecret = []byte(hex.EncodeToString(b))
		generated = true
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, false, err
	}
	return cfg, generated, nil
}

// Validate checks required keys and bounds.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Issuer) == "":
		return ErrConfig
	case c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.ClockSkew < 0:
		return ErrConfig
	case c.RefreshTokenTTL < c.AccessTokenTTL:
		return ErrConfig
	case c.PasetoV4SecretKeyHex == "":
		return ErrConfig
	case len(c.RefreshSecret) < minRefreshSecret:
		return ErrConfig
	case c.RotationCacheSize <= 0 || c.RotationCacheTTL <= 0:
		return ErrConfig
	}
	return nil
}

func loadConfig() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("TETHER_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	durations := []struct {
		env      string
		dst      *time.Duration
		allowNil bool
	}{
		{"TETHER_AUTH_ACCESS_TTL", &cfg.AccessTokenTTL, false},
		{"TETHER_AUTH_REFRESH_TTL", &cfg.RefreshTokenTTL, false},
		{"TETHER_AUTH_CLOCK_SKEW", &cfg.ClockSkew, true},
		{"TETHER_ROTATION_CACHE_TTL", &cfg.RotationCacheTTL, false},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.env))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 || (parsed == 0 && !d.allowNil) {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	if v := strings.TrimSpace(os.Getenv("TETHER_ROTATION_CACHE_SIZE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RotationCacheSize = n
	}

	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("TETHER_PASETO_V4_SECRET_KEY_HEX"))
	if v := strings.TrimSpace(os.Getenv("TETHER_REFRESH_JWT_SECRET")); v != "" {
		cfg.RefreshSecret = []byte(v)
	}
	return cfg, nil
}
