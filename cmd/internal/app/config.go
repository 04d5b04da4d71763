package app

import "time"

// Config is the process configuration read from TETHER_* variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	// DatabaseURL empty means memory stores.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBMigrate   bool

	// ReadinessRequireDB makes /readyz fail when no database is configured.
	ReadinessRequireDB bool

	// DevEphemeralKeys generates missing token and field keys per process.
	DevEphemeralKeys bool

	RefreshSweepInterval time.Duration

	// RequireTokenHMAC refuses to start unless TETHER_TOKEN_HMAC_KEY is set.
	RequireTokenHMAC bool
}

// LoadConfig reads Config from the environment.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("TETHER_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("TETHER_LOG_LEVEL", "info"),
		LogFormat: EnvString("TETHER_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("TETHER_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("TETHER_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("TETHER_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("TETHER_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("TETHER_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxHeaderBytes:    EnvInt("TETHER_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("TETHER_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("TETHER_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("TETHER_DB_MIN_CONNS", 0),
		DBMigrate:   EnvBool("TETHER_DB_MIGRATE", true),

		ReadinessRequireDB: EnvBool("TETHER_READINESS_REQUIRE_DB", false),
		DevEphemeralKeys:   EnvBool("TETHER_DEV_EPHEMERAL_KEYS", false),

		RefreshSweepInterval: EnvDuration("TETHER_REFRESH_SWEEP_INTERVAL", 10*time.Minute),
		RequireTokenHMAC:     EnvBool("TETHER_REQUIRE_TOKEN_HMAC", false),
	}
}
