package realtime

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config tunes the gateway. Zero values fall back to defaults.
type Config struct {
	// DevInsecure skips websocket.Accept origin verification. Dev only.
	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration

	ReauthMargin time.Duration
}

func DefaultConfig() Config {
	return Config{
		OriginRequired:    true,
		AllowedOrigins:    splitCSV(defaultAllowedOrigins),
		WriteTimeout:      defaultWriteTimeout,
		ReadIdleTimeout:   defaultReadIdle,
		SendQueueSize:     defaultSendQueueSize,
		HeartbeatInterval: defaultHeartbeatInterval,
		HeartbeatTimeout:  defaultHeartbeatTimeout,
		RateEvents:        defaultRateEvents,
		RateWindow:        defaultRateWindow,
		ReauthMargin:      defaultReauthMargin,
	}
}

// LoadConfigFromEnv reads TETHER_WS_* over the defaults. Malformed values keep the default.
func LoadConfigFromEnv() Config {
	c := DefaultConfig()
	c.DevInsecure = envBool("TETHER_WS_DEV_INSECURE", c.DevInsecure)
	c.OriginRequired = envBool("TETHER_WS_ORIGIN_REQUIRED", c.OriginRequired)
	if v := strings.TrimSpace(os.Getenv("TETHER_WS_ALLOWED_ORIGINS")); v != "" {
		c.AllowedOrigins = splitCSV(v)
	}
	c.WriteTimeout = envDuration("TETHER_WS_WRITE_TIMEOUT", c.WriteTimeout)
	c.ReadIdleTimeout = envDuration("TETHER_WS_READ_IDLE_TIMEOUT", c.ReadIdleTimeout)
	c.SendQueueSize = envInt("TETHER_WS_SEND_QUEUE", c.SendQueueSize)
	c.HeartbeatInterval = envDuration("TETHER_WS_HEARTBEAT_INTERVAL", c.HeartbeatInterval)
	c.HeartbeatTimeout = envDuration("TETHER_WS_HEARTBEAT_TIMEOUT", c.HeartbeatTimeout)
	c.RateEvents = envInt("TETHER_WS_RATE_EVENTS", c.RateEvents)
	c.RateWindow = envDuration("TETHER_WS_RATE_WINDOW", c.RateWindow)
	c.ReauthMargin = envDuration("TETHER_WS_REAUTH_MARGIN", c.ReauthMargin)
	return c
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = d.ReadIdleTimeout
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = d.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	if c.ReauthMargin <= 0 {
		c.ReauthMargin = d.ReauthMargin
	}
	return c
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

func envDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
