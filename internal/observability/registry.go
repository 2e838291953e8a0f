package observability

import "time"

// MetricsRegistry records application metrics. Components receive it by
// injection instead of touching the global Prometheus collectors.
type MetricsRegistry interface {
	// HTTP request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Ad URL pipeline metrics
	IncrementAdURLs(kind string)
	IncrementMissingTargeting(reason string)

	// Slot resize metrics
	IncrementResize(outcome string)

	// Client id metrics
	IncrementClientIDLookups(source string)

	// Analytics metrics
	IncrementEvent(eventType string)
}

// PrometheusRegistry implements MetricsRegistry on the global collectors.
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementAdURLs(kind string) {
	AdURLCount.WithLabelValues(kind).Inc()
}

func (r *PrometheusRegistry) IncrementMissingTargeting(reason string) {
	MissingTargetingCount.WithLabelValues(reason).Inc()
}

func (r *PrometheusRegistry) IncrementResize(outcome string) {
	ResizeCount.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) IncrementClientIDLookups(source string) {
	ClientIDLookups.WithLabelValues(source).Inc()
}

func (r *PrometheusRegistry) IncrementEvent(eventType string) {
	EventCount.WithLabelValues(eventType).Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementAdURLs(kind string)                                          {}
func (r *NoOpRegistry) IncrementMissingTargeting(reason string)                              {}
func (r *NoOpRegistry) IncrementResize(outcome string)                                       {}
func (r *NoOpRegistry) IncrementClientIDLookups(source string)                               {}
func (r *NoOpRegistry) IncrementEvent(eventType string)                                      {}
