package models

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Queue    QueueConfig    `json:"queue"`
	Socket   SocketConfig   `json:"socket"`
	Webhook  WebhookConfig  `json:"webhook"`
	Retry    RetryConfig    `json:"retry"`
	Tracing  TracingConfig  `json:"tracing"`
	Seed     SeedConfig     `json:"seed"`
	LogLevel string         `json:"log_level"`
}

// ServerConfig holds HTTP server related configurations
type ServerConfig struct {
	Port            int `json:"port"`
	ReadTimeoutSec  int `json:"readTimeoutSec"`
	WriteTimeoutSec int `json:"writeTimeoutSec"`
	IdleTimeoutSec  int `json:"idleTimeoutSec"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
}

// QueueConfig holds durable queue related configurations. When AMQPURL is
// empty the in-memory driver is used.
type QueueConfig struct {
	AMQPURL  string `json:"amqp_url"`
	Prefix   string `json:"prefix"`
	Shards   int    `json:"shards"`
	Prefetch int    `json:"prefetch"`
}

// SocketConfig holds session-socket engine related configurations
type SocketConfig struct {
	EngineBaseURL      string `json:"engine_base_url"`
	APIKey             string `json:"api_key"`
	IntakeSecret       string `json:"intake_secret"`
	ConnectTimeoutSec  int    `json:"connectTimeoutSec"`
	PollIntervalSec    int    `json:"pollIntervalSec"`
	HTTPTimeoutSec     int    `json:"httpTimeoutSec"`
}

// WebhookConfig holds webhook delivery related configurations
type WebhookConfig struct {
	TimeoutSec       int `json:"timeoutSec"`
	MaxRetries       int `json:"maxRetries"`
	BackoffSec       int `json:"backoffSec"`
	FailureThreshold int `json:"failureThreshold"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// TracingConfig holds OpenTelemetry related configurations
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}

// SeedConfig optionally creates a default tenant at startup
type SeedConfig struct {
	TenantName  string `json:"tenant_name"`
	TenantToken string `json:"tenant_token"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
