package models

// Config holds the application configuration
type Config struct {
	Remote     RemoteConfig   `json:"remote"`
	Realtime   RealtimeConfig `json:"realtime"`
	Cache      CacheConfig    `json:"cache"`
	Sync       SyncConfig     `json:"sync"`
	Retry      RetryConfig    `json:"retry"`
	Breaker    BreakerConfig  `json:"circuitBreaker"`
	Server     ServerConfig   `json:"server"`
	Tracing    TracingConfig  `json:"tracing"`
	DeviceID   string         `json:"deviceId"`
	AuthorID   string         `json:"authorId" validate:"required"`
	AuthorName string         `json:"authorName"`
	LogLevel   string         `json:"log_level"`
}

// RemoteConfig holds Remote Record API related configuration
type RemoteConfig struct {
	BaseURL    string `json:"base_url" validate:"required,url"`
	Database   string `json:"database"`
	AuthToken  string `json:"auth_token"`
	TimeoutSec int    `json:"timeoutSec" validate:"omitempty,min=1,max=300"`
}

// RealtimeConfig holds realtime transport related configuration
type RealtimeConfig struct {
	URL             string `json:"url" validate:"required"`
	AuthToken       string `json:"auth_token"`
	WriteTimeoutSec int    `json:"writeTimeoutSec" validate:"omitempty,min=1,max=60"`
}

// CacheConfig holds the persistent message cache configuration
type CacheConfig struct {
	Path          string `json:"path" validate:"required"`
	RetentionDays int    `json:"retentionDays" validate:"omitempty,min=1"`
}

// SyncConfig holds reconciliation loop configuration
type SyncConfig struct {
	IntervalSec     int `json:"intervalSec" validate:"omitempty,min=1"`
	InitialLoadSize int `json:"initialLoadSize" validate:"omitempty,min=1,max=500"`
	LoadMoreSize    int `json:"loadMoreSize" validate:"omitempty,min=1,max=200"`
	PrefetchSize    int `json:"prefetchSize" validate:"omitempty,min=1,max=100"`
}

// RetryConfig holds upload retry configuration
type RetryConfig struct {
	Attempts      int     `json:"attempts" validate:"omitempty,min=1,max=20"`
	BaseDelayMs   int     `json:"baseDelayMs" validate:"omitempty,min=10"`
	BackoffFactor float64 `json:"backoffFactor" validate:"omitempty,min=1,max=10"`
	MaxDelayMs    int     `json:"maxDelayMs" validate:"omitempty,min=100"`
}

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	FailureThreshold int `json:"failureThreshold" validate:"omitempty,min=1"`
	CooldownMs       int `json:"cooldownMs" validate:"omitempty,min=100"`
}

// TracingConfig holds OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	UseStdout      bool    `json:"use_stdout"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate" validate:"omitempty,min=0,max=1"`
}

// ServerConfig holds the status HTTP server configuration
type ServerConfig struct {
	Port int `json:"port" validate:"omitempty,min=1,max=65535"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
