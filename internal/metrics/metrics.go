package metrics

import (
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter MetricType = "counter"
	Gauge   MetricType = "gauge"
)

// Metric represents a single metric with its metadata
type Metric struct {
	Name       string     `json:"name"`
	Type       MetricType `json:"type"`
	Value      float64    `json:"value"`
	LastUpdate time.Time  `json:"last_update"`
}

// Well-known metric names used across the sync engine.
const (
	MessagesSent      = "messages_sent"
	MessagesReceived  = "messages_received"
	MessagesFailed    = "messages_failed"
	SyncRuns          = "sync_runs"
	ConflictsResolved = "conflicts_resolved"
	UploadsExhausted  = "uploads_exhausted"
	CacheHits         = "cache_hits"
	CacheMisses       = "cache_misses"
	QueueDepth        = "queue_depth"
	HTTPRequests      = "http_requests_total"
	HTTPErrors        = "http_errors_total"
)

// Registry manages all metrics in memory
type Registry struct {
	mu        sync.RWMutex
	counters  map[string]*Metric
	gauges    map[string]*Metric
	startTime time.Time
}

// NewRegistry creates a new metrics registry
func NewRegistry() *Registry {
	return &Registry{
		counters:  make(map[string]*Metric),
		gauges:    make(map[string]*Metric),
		startTime: time.Now(),
	}
}

// IncrementCounter adds one to the named counter.
func (r *Registry) IncrementCounter(name string) {
	r.AddCounter(name, 1)
}

// AddCounter adds a delta to the named counter, creating it if needed.
func (r *Registry) AddCounter(name string, delta float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.counters[name]
	if !ok {
		m = &Metric{Name: name, Type: Counter}
		r.counters[name] = m
	}
	m.Value += delta
	m.LastUpdate = time.Now()
}

// SetGauge sets the named gauge to a value.
func (r *Registry) SetGauge(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.gauges[name]
	if !ok {
		m = &Metric{Name: name, Type: Gauge}
		r.gauges[name] = m
	}
	m.Value = value
	m.LastUpdate = time.Now()
}

// GetCounter returns the current value of a counter (zero if absent).
func (r *Registry) GetCounter(name string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.counters[name]; ok {
		return m.Value
	}
	return 0
}

// GetGauge returns the current value of a gauge (zero if absent).
func (r *Registry) GetGauge(name string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.gauges[name]; ok {
		return m.Value
	}
	return 0
}

// Snapshot returns a copy of all metrics plus registry uptime, for the
// /metrics endpoint and GetStatus.
func (r *Registry) Snapshot() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counters := make(map[string]float64, len(r.counters))
	for name, m := range r.counters {
		counters[name] = m.Value
	}
	gauges := make(map[string]float64, len(r.gauges))
	for name, m := range r.gauges {
		gauges[name] = m.Value
	}

	return map[string]interface{}{
		"counters":       counters,
		"gauges":         gauges,
		"uptime_seconds": time.Since(r.startTime).Seconds(),
	}
}
