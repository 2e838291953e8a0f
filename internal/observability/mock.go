package observability

import (
	"sync"
	"time"
)

// CountingRegistry is a MetricsRegistry for tests that counts each call by
// metric and label.
type CountingRegistry struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewCountingRegistry creates an empty CountingRegistry.
func NewCountingRegistry() *CountingRegistry {
	return &CountingRegistry{counts: make(map[string]int)}
}

func (r *CountingRegistry) inc(key string) {
	r.mu.Lock()
	r.counts[key]++
	r.mu.Unlock()
}

// Count returns how often metric was incremented with label, e.g.
// Count("resize", "accepted").
func (r *CountingRegistry) Count(metric, label string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[metric+":"+label]
}

func (r *CountingRegistry) IncrementRequests(endpoint, method, status string) {
	r.inc("requests:" + endpoint + ":" + status)
}

func (r *CountingRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}

func (r *CountingRegistry) IncrementAdURLs(kind string)             { r.inc("ad_urls:" + kind) }
func (r *CountingRegistry) IncrementMissingTargeting(reason string) { r.inc("missing_targeting:" + reason) }
func (r *CountingRegistry) IncrementResize(outcome string)          { r.inc("resize:" + outcome) }
func (r *CountingRegistry) IncrementClientIDLookups(source string)  { r.inc("client_id:" + source) }
func (r *CountingRegistry) IncrementEvent(eventType string)         { r.inc("events:" + eventType) }
