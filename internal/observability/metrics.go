package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtcadserve_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rtcadserve_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// ad request URLs built, labelled targeted/untargeted
	AdURLCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtcadserve_ad_urls_total",
			Help: "Total ad request URLs built",
		},
		[]string{"kind"},
	)

	// RTC results that carried no usable targeting
	MissingTargetingCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtcadserve_missing_targeting_total",
			Help: "Total RTC results without targeting",
		},
		[]string{"reason"},
	)

	// size change requests by outcome
	ResizeCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtcadserve_resize_requests_total",
			Help: "Total slot size change requests",
		},
		[]string{"outcome"},
	)

	// client id lookups by source
	ClientIDLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtcadserve_client_id_lookups_total",
			Help: "Total client id lookups",
		},
		[]string{"source"},
	)

	// analytics events recorded, labelled by type
	EventCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtcadserve_events_total",
			Help: "Total events recorded",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		AdURLCount,
		MissingTargetingCount,
		ResizeCount,
		ClientIDLookups,
		EventCount,
	)
}
