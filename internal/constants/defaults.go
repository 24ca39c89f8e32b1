package constants

// Session lifecycle defaults
const (
	DefaultConnectTimeoutSec       = 120
	DefaultReconnectBaseDelaySec   = 2
	DefaultMaxReconnectAttempts    = 3
	DefaultSocketPollIntervalSec   = 2
	DefaultSocketHTTPTimeoutSec    = 30
	DefaultSessionStatusTimeoutSec = 5
)

// Outbound dispatch defaults
const (
	DefaultSendMaxAttempts    = 3
	DefaultSendBackoffSec     = 2
	DefaultDeleteMaxAttempts  = 2
	DefaultDeleteBackoffSec   = 1
	DefaultDeleteWindowHours  = 4
	DefaultReceiveMaxAttempts = 3
	DefaultReceiveBackoffSec  = 2
)

// Webhook delivery defaults
const (
	DefaultWebhookTimeoutSec       = 10
	DefaultWebhookMaxRetries       = 3
	DefaultWebhookBackoffSec       = 5
	DefaultWebhookFailureThreshold = 5
	DefaultBreakerOpenTimeoutSec   = 60
)

// Queue defaults
const (
	DefaultQueueShards   = 8
	DefaultQueuePrefix   = "wagate"
	DefaultQueuePrefetch = 16
)

// Server defaults
const (
	DefaultServerPort            = 8084
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	DefaultAuthCacheTTLSec       = 300
)

// Retry defaults
const (
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultMaxAttempts           = 5
	DefaultDatabaseRetryAttempts = 3
)

// Validation limits
const (
	MinPhoneNumberLength = 10
	MaxPhoneNumberLength = 20
	MaxMessageIDLength   = 128
	MinTokenLength       = 16
)

// Listing defaults
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// MaxWebhookResponseBytes caps how much of a webhook response body is
// stored on the event row.
const MaxWebhookResponseBytes = 1024

// Encryption salts for at-rest field encryption
const (
	EncryptionSalt            = "wagate-session-material-v1"
	MinEncryptionSecretLength = 32
)
