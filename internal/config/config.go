package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"wagate/internal/constants"
	"wagate/internal/models"
	"wagate/internal/security"
)

var (
	ErrMissingEngineURL = models.ConfigError{Message: "missing socket engine base URL"}
	ErrMissingDBPath    = models.ConfigError{Message: "missing database path"}
)

// IsProduction reports whether the process runs in production mode. HTTPS
// enforcement for webhook URLs keys off this.
func IsProduction() bool {
	return os.Getenv("WAGATE_ENV") == "production"
}

func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - path validated above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Socket.EngineBaseURL == "" {
		return ErrMissingEngineURL
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}

	if c.Queue.Prefix == "" {
		c.Queue.Prefix = constants.DefaultQueuePrefix
	}
	if c.Queue.Shards <= 0 {
		c.Queue.Shards = constants.DefaultQueueShards
	}
	if c.Queue.Prefetch <= 0 {
		c.Queue.Prefetch = constants.DefaultQueuePrefetch
	}

	if c.Socket.ConnectTimeoutSec <= 0 {
		c.Socket.ConnectTimeoutSec = constants.DefaultConnectTimeoutSec
	}
	if c.Socket.PollIntervalSec <= 0 {
		c.Socket.PollIntervalSec = constants.DefaultSocketPollIntervalSec
	}
	if c.Socket.HTTPTimeoutSec <= 0 {
		c.Socket.HTTPTimeoutSec = constants.DefaultSocketHTTPTimeoutSec
	}

	if c.Webhook.TimeoutSec <= 0 {
		c.Webhook.TimeoutSec = constants.DefaultWebhookTimeoutSec
	}
	if c.Webhook.MaxRetries <= 0 {
		c.Webhook.MaxRetries = constants.DefaultWebhookMaxRetries
	}
	if c.Webhook.BackoffSec <= 0 {
		c.Webhook.BackoffSec = constants.DefaultWebhookBackoffSec
	}
	if c.Webhook.FailureThreshold <= 0 {
		c.Webhook.FailureThreshold = constants.DefaultWebhookFailureThreshold
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	if IsProduction() {
		if c.Socket.IntakeSecret == "" {
			return models.ConfigError{Message: "intake secret is required in production (set WAGATE_INTAKE_SECRET)"}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production"}
		}
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("WAGATE_ENGINE_URL"); url != "" {
		c.Socket.EngineBaseURL = url
	}
	if key := os.Getenv("WAGATE_ENGINE_API_KEY"); key != "" {
		c.Socket.APIKey = key
	}
	if secret := os.Getenv("WAGATE_INTAKE_SECRET"); secret != "" {
		c.Socket.IntakeSecret = secret
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if url := os.Getenv("AMQP_URL"); url != "" {
		c.Queue.AMQPURL = url
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if token := os.Getenv("WAGATE_SEED_TOKEN"); token != "" {
		c.Seed.TenantToken = token
	}
}
