package constants

import "time"

// Shared duration vocabulary for the timeouts below.
const (
	Duration2Seconds  = 2 * time.Second
	Duration5Seconds  = 5 * time.Second
	Duration10Seconds = 10 * time.Second
	Duration30Seconds = 30 * time.Second
	Duration54Seconds = 54 * time.Second
	Duration60Seconds = 60 * time.Second
)

// Language service backends.
const (
	// LanguageServiceRequestTimeout bounds a single completion, hover,
	// formatting or diagnostics request to an external backend.
	LanguageServiceRequestTimeout = Duration5Seconds
	// LanguageServerStartTimeout bounds the LSP initialize handshake.
	LanguageServerStartTimeout    = Duration10Seconds
	LanguageServerShutdownTimeout = Duration2Seconds
	GRPCBackendMinConnectTimeout  = Duration5Seconds
)

// Host transports and the daemon.
const (
	// BridgeCallTimeout bounds a host call waiting for the editor loop.
	BridgeCallTimeout = Duration30Seconds

	WebSocketReadTimeout  = Duration60Seconds
	WebSocketWriteTimeout = Duration10Seconds
	// WebSocketPingInterval stays below WebSocketReadTimeout so idle peers survive.
	WebSocketPingInterval = Duration54Seconds

	DaemonShutdownTimeout = Duration5Seconds
)
