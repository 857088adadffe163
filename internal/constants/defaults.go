package constants

// Message limits
const (
	MaxContentLength  = 4000
	MaxAttachments    = 10
	MinKeywordLength  = 3
	DefaultPreviewLen = 100
)

// History loader defaults
const (
	DefaultInitialLoadSize   = 100
	DefaultLoadMoreSize      = 30
	DefaultPrefetchSize      = 20
	CacheHitMinimum          = 20
	DuplicateRequestWindowMs = 2000
)

// Reconciliation defaults
const (
	DefaultSyncIntervalSec     = 30
	ConflictIntervalMultiplier = 2
	ConflictWindowSec          = 5
	ConflictScanWindow         = 100
	ConflictMaxAgeSec          = 3600
	DefaultRetryAttempts       = 3
	DefaultRetryBaseDelayMs    = 1000
	DefaultRetryBackoffFactor  = 2.0
	DefaultRetryMaxDelayMs     = 60000
)

// Circuit breaker defaults
const (
	CBFailureThreshold = 3
	CBCooldownMs       = 30000
)

// Cache defaults
const (
	DefaultCacheRetryAttempts = 3
	DefaultCacheBackoffMs     = 50
	DefaultCacheMaxBackoffMs  = 500
	DefaultCacheOpenAttempts  = 5
	DefaultRetentionDays      = 30
	RetentionSweepHours       = 24
)

// Server and timeout defaults
const (
	DefaultServerPort               = 8082
	DefaultHTTPTimeoutSec           = 30
	DefaultGracefulShutdownSec      = 30
	DefaultServerReadTimeoutSec     = 15
	DefaultServerWriteTimeoutSec    = 15
	DefaultServerIdleTimeoutSec     = 60
	DefaultTransportWriteTimeoutSec = 10
)
