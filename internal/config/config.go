package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"chatsync/internal/constants"
	"chatsync/internal/models"

	"github.com/go-playground/validator/v10"
)

var (
	ErrMissingRemoteURL   = models.ConfigError{Message: "missing remote API base URL"}
	ErrMissingRealtimeURL = models.ConfigError{Message: "missing realtime transport URL"}
	ErrMissingCachePath   = models.ConfigError{Message: "missing cache database path"}
	ErrMissingAuthorID    = models.ConfigError{Message: "missing author id"}
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig reads, validates and normalizes the application configuration.
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.ReadFile(path) // #nosec G304 - path comes from the operator's command line
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	return &config, nil
}

func validateConfig(c *models.Config) error {
	// Required-field checks first so the operator sees a readable message.
	if c.Remote.BaseURL == "" {
		return ErrMissingRemoteURL
	}
	if c.Realtime.URL == "" {
		return ErrMissingRealtimeURL
	}
	if c.Cache.Path == "" {
		return ErrMissingCachePath
	}
	if c.AuthorID == "" {
		return ErrMissingAuthorID
	}

	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			first := verrs[0]
			return models.ConfigError{
				Message: fmt.Sprintf("invalid config field %s (%s)", first.Namespace(), first.Tag()),
			}
		}
		return err
	}

	return nil
}

func applyDefaults(c *models.Config) {
	if c.Sync.IntervalSec <= 0 {
		c.Sync.IntervalSec = constants.DefaultSyncIntervalSec
	}
	if c.Sync.InitialLoadSize <= 0 {
		c.Sync.InitialLoadSize = constants.DefaultInitialLoadSize
	}
	if c.Sync.LoadMoreSize <= 0 {
		c.Sync.LoadMoreSize = constants.DefaultLoadMoreSize
	}
	if c.Sync.PrefetchSize <= 0 {
		c.Sync.PrefetchSize = constants.DefaultPrefetchSize
	}
	if c.Retry.Attempts <= 0 {
		c.Retry.Attempts = constants.DefaultRetryAttempts
	}
	if c.Retry.BaseDelayMs <= 0 {
		c.Retry.BaseDelayMs = constants.DefaultRetryBaseDelayMs
	}
	if c.Retry.BackoffFactor <= 0 {
		c.Retry.BackoffFactor = constants.DefaultRetryBackoffFactor
	}
	if c.Retry.MaxDelayMs <= 0 {
		c.Retry.MaxDelayMs = constants.DefaultRetryMaxDelayMs
	}
	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = constants.CBFailureThreshold
	}
	if c.Breaker.CooldownMs <= 0 {
		c.Breaker.CooldownMs = constants.CBCooldownMs
	}
	if c.Cache.RetentionDays <= 0 {
		c.Cache.RetentionDays = constants.DefaultRetentionDays
	}
	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Remote.TimeoutSec <= 0 {
		c.Remote.TimeoutSec = constants.DefaultHTTPTimeoutSec
	}
	if c.Realtime.WriteTimeoutSec <= 0 {
		c.Realtime.WriteTimeoutSec = constants.DefaultTransportWriteTimeoutSec
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "chatsync"
	}
	if c.Tracing.ServiceVersion == "" {
		c.Tracing.ServiceVersion = "dev"
	}
	if c.Tracing.Environment == "" {
		c.Tracing.Environment = "development"
	}
	if c.Tracing.OTLPEndpoint == "" {
		c.Tracing.OTLPEndpoint = "http://localhost:4318/v1/traces"
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = 0.1
	}
}

func applyEnvironmentOverrides(c *models.Config) {
	if v := os.Getenv("CHATSYNC_REMOTE_URL"); v != "" {
		c.Remote.BaseURL = v
	}
	if v := os.Getenv("CHATSYNC_REMOTE_TOKEN"); v != "" {
		c.Remote.AuthToken = v
	}
	if v := os.Getenv("CHATSYNC_REALTIME_URL"); v != "" {
		c.Realtime.URL = v
	}
	if v := os.Getenv("CHATSYNC_REALTIME_TOKEN"); v != "" {
		c.Realtime.AuthToken = v
	}
	if v := os.Getenv("CHATSYNC_CACHE_PATH"); v != "" {
		c.Cache.Path = v
	}
	if v := os.Getenv("CHATSYNC_AUTHOR_ID"); v != "" {
		c.AuthorID = v
	}
	if v := os.Getenv("CHATSYNC_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CHATSYNC_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("CHATSYNC_SYNC_INTERVAL_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			c.Sync.IntervalSec = sec
		}
	}
}
