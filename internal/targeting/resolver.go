package targeting

import (
	"go.uber.org/zap"

	"github.com/patrickwarner/rtcadserve/internal/observability"
	"github.com/patrickwarner/rtcadserve/internal/urlbuilder"
)

const (
	// DefaultBaseURL is the fake DFP endpoint ad requests are sent to.
	DefaultBaseURL = "https://prebid-support.lsd.test/ads"
	// DefaultMaxURLLength bounds the built ad request URL.
	DefaultMaxURLLength = 16384
)

// Reasons reported when an RTC result carries no usable targeting.
const (
	ReasonNoResults    = "no_results"
	ReasonEmptyResults = "empty_results"
	ReasonRtcError     = "rtc_error"
	ReasonNoResponse   = "no_response"
	ReasonNoTargeting  = "no_targeting"
)

// Resolver turns settled RTC results into ad request URLs.
type Resolver struct {
	baseURL   string
	maxLength int
	logger    *zap.Logger
	metrics   observability.MetricsRegistry
}

// NewResolver creates a Resolver. Empty baseURL and non-positive maxLength
// fall back to the defaults.
func NewResolver(baseURL string, maxLength int, logger *zap.Logger, metrics observability.MetricsRegistry) *Resolver {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxURLLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Resolver{
		baseURL:   baseURL,
		maxLength: maxLength,
		logger:    logger.Named("targeting"),
		metrics:   metrics,
	}
}

// BuildAdURL serializes t into the scp parameter of the base URL. A nil or
// empty map yields the base URL without scp.
func (r *Resolver) BuildAdURL(t *Map) string {
	scp := Serialize(t)
	if scp == nil {
		r.metrics.IncrementAdURLs("untargeted")
	} else {
		r.metrics.IncrementAdURLs("targeted")
	}
	return urlbuilder.BuildURL(r.baseURL, []urlbuilder.Param{{Key: ScpParam, Value: scp}}, r.maxLength)
}

// ResolveAdURL builds the ad URL from the first RTC result. Missing results,
// error results and results without targeting are logged and produce an
// untargeted URL.
func (r *Resolver) ResolveAdURL(results []Result) string {
	t, reason := Extract(results)
	if t == nil {
		fields := []zap.Field{zap.String("reason", reason)}
		if len(results) > 0 {
			fields = append(fields,
				zap.String("callout", results[0].Callout),
				zap.String("rtc_error", results[0].Error),
				zap.Int("rtc_time_ms", results[0].RtcTime))
		}
		r.logger.Warn("No targeting received from prebid server", fields...)
		r.metrics.IncrementMissingTargeting(reason)
	}
	return r.BuildAdURL(t)
}

// Extract returns the targeting of results[0], or nil and the reason it is
// unavailable. Only the first result is consulted.
func Extract(results []Result) (*Map, string) {
	switch {
	case results == nil:
		return nil, ReasonNoResults
	case len(results) == 0:
		return nil, ReasonEmptyResults
	}

	first := results[0]
	switch {
	case first.Response == nil && first.Error != "":
		return nil, ReasonRtcError
	case first.Response == nil:
		return nil, ReasonNoResponse
	case first.Response.Targeting == nil:
		return nil, ReasonNoTargeting
	}
	return first.Response.Targeting, ""
}
