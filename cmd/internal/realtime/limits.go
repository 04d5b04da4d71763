package realtime

import "time"

const (
	// Max bytes per websocket frame read.
	maxFrameBytes = 256 << 10

	// Max encrypted payload length (bytes) per message.
	maxContentBytes = 64 << 10

	defaultSendQueueSize = 256
	minSendQueueSize     = 32

	defaultWriteTimeout = 5 * time.Second
	defaultReadIdle     = 2 * time.Minute
	closeGrace          = time.Second

	defaultHeartbeatInterval = 25 * time.Second
	defaultHeartbeatTimeout  = 5 * time.Second
	maxPingFailures          = 3

	// Per-connection event budget.
	defaultRateEvents = 120
	defaultRateWindow = 10 * time.Second

	// Consecutive limited events before the connection is dropped.
	maxRateStrikes = 20

	// reauth is pushed this long before the access token expires.
	defaultReauthMargin = 5 * time.Second

	defaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)
