package config

import "time"

// ConfigFileEnv names the environment variable holding the config file path
const ConfigFileEnv = "ASSESS_CONFIG_FILE"

// Timeout constants
const (
	// HTTP timeouts
	DefaultHTTPTimeout     = 60 * time.Second
	AIRequestTimeout       = 2 * time.Minute
	AIShutdownTimeout      = 30 * time.Second
	ServerShutdownTimeout  = 15 * time.Second
	AIShutdownPollInterval = 100 * time.Millisecond

	// Database timeouts
	DatabaseConnMaxLifetime = 5 * time.Minute

	// Session timeouts
	SessionMaxAge = 7 * 24 * time.Hour // 7 days

	// WebSocket timeouts
	WSWriteWait  = 10 * time.Second
	WSPongWait   = 60 * time.Second
	WSPingPeriod = (WSPongWait * 9) / 10
)

// Defaults applied when the config file leaves a value unset
const (
	DefaultServerPort            = "8080"
	DefaultMaxAIConcurrent       = 8
	DefaultAIMaxTokens           = 800
	DefaultBroadcastInterval     = 5 * time.Second
	DefaultDashboardTokenTTL     = 2 * time.Minute
	DefaultRecentActivity        = 20
	DefaultUploadsDir            = "uploads"
	DefaultUploadMaxBytes        = 50 << 20
	DefaultActivityKey           = "assess:activity"
	DefaultActivityLimit         = 200
	DefaultLeaderboardSchedule   = "@every 5m"
	DefaultStaleAttemptSchedule  = "@every 10m"
	DefaultStaleAttemptMaxAge    = 24 * time.Hour
	WSSendBufferSize             = 32
	WSMaxMessageBytes            = 4096
	DashboardTriggerBufferLength = 1
)

// Circuit breaker defaults
const (
	DefaultCircuitBreakerThreshold = 5
	DefaultCircuitBreakerTimeout   = 30 * time.Second
)

// Session configuration constants
const (
	SessionPath     = "/"
	SessionHTTPOnly = true
	SessionSecure   = false // Set to true in production with HTTPS

	SessionName = "assess-session"
)

// Security configuration constants
const (
	// Content Security Policy
	DefaultCSP = "default-src 'self'; style-src 'self' 'unsafe-inline'; script-src 'self'; img-src 'self' data: blob:; media-src 'self' blob: data:; connect-src 'self' ws: wss:;"
)
