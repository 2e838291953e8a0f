package targeting

import (
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/patrickwarner/rtcadserve/internal/observability"
)

const testBase = "https://ads.example.test/ads"

func newTestResolver(t *testing.T) (*Resolver, *observer.ObservedLogs, *observability.CountingRegistry) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	metrics := observability.NewCountingRegistry()
	return NewResolver(testBase, DefaultMaxURLLength, zap.New(core), metrics), logs, metrics
}

func decodeResults(t *testing.T, raw string) []Result {
	t.Helper()
	var results []Result
	require.NoError(t, json.Unmarshal([]byte(raw), &results))
	return results
}

func TestResolveAdURL_Targeting(t *testing.T) {
	r, logs, metrics := newTestResolver(t)

	got := r.ResolveAdURL(decodeResults(t, `[{"response":{"targeting":{"hb_pb":"3.20"}}}]`))

	assert.Equal(t, testBase+"?scp=hb_pb%3D3.20", got)
	assert.Equal(t, 0, logs.Len())
	assert.Equal(t, 1, metrics.Count("ad_urls", "targeted"))

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "hb_pb=3.20", u.Query().Get(ScpParam))
}

func TestResolveAdURL_MissingTargeting(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
		reason  string
	}{
		{"nil results", nil, ReasonNoResults},
		{"empty results", []Result{}, ReasonEmptyResults},
		{"rtc error", []Result{{Error: "10", Callout: "localhost/openrtb2/amp", RtcTime: 878}}, ReasonRtcError},
		{"no response", []Result{{Callout: "localhost/openrtb2/amp"}}, ReasonNoResponse},
		{"no targeting", []Result{{Response: &Response{}}}, ReasonNoTargeting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, logs, metrics := newTestResolver(t)

			got := r.ResolveAdURL(tt.results)

			assert.Equal(t, testBase, got)
			assert.NotContains(t, got, ScpParam+"=")

			warnings := logs.FilterMessage("No targeting received from prebid server").All()
			require.Len(t, warnings, 1)
			assert.Equal(t, zapcore.WarnLevel, warnings[0].Level)
			assert.Equal(t, tt.reason, warnings[0].ContextMap()["reason"])
			assert.Equal(t, 1, metrics.Count("missing_targeting", tt.reason))
			assert.Equal(t, 1, metrics.Count("ad_urls", "untargeted"))
		})
	}
}

func TestResolveAdURL_OnlyFirstResultConsulted(t *testing.T) {
	r, _, _ := newTestResolver(t)

	got := r.ResolveAdURL(decodeResults(t, `[
		{"error":"10"},
		{"response":{"targeting":{"hb_pb":"1.00"}}}
	]`))

	assert.Equal(t, testBase, got)
}

func TestBuildAdURL_NilAndEmpty(t *testing.T) {
	r, _, _ := newTestResolver(t)

	assert.Equal(t, testBase, r.BuildAdURL(nil))
	assert.Equal(t, testBase, r.BuildAdURL(NewMap()))
}

func TestBuildAdURL_RoundTrip(t *testing.T) {
	r, _, _ := newTestResolver(t)

	var m Map
	require.NoError(t, json.Unmarshal([]byte(`{
		"hb_bidder": "stroeerCore",
		"hb_cache_id": "0195991b-b143-4e8a-8289-b5e29670a601",
		"hb_pb": "3.20",
		"hb_size": ["300x250", "728x90"],
		"note": "a&b=c, d"
	}`), &m))

	adURL := r.BuildAdURL(&m)

	u, err := url.Parse(adURL)
	require.NoError(t, err)
	scp := u.Query().Get(ScpParam)
	assert.True(t, strings.HasPrefix(scp, "hb_bidder=stroeerCore&hb_cache_id="), scp)
	assert.Contains(t, scp, "hb_size=300x250,728x90")

	parsed, err := Parse(scp)
	require.NoError(t, err)

	want := []Entry{
		{Key: "hb_bidder", Values: []string{"stroeerCore"}},
		{Key: "hb_cache_id", Values: []string{"0195991b-b143-4e8a-8289-b5e29670a601"}},
		{Key: "hb_pb", Values: []string{"3.20"}},
		{Key: "hb_size", Values: []string{"300x250", "728x90"}, Multi: true},
		{Key: "note", Values: []string{"a&b=c, d"}},
	}
	assert.Equal(t, want, parsed.Entries())
}

func TestBuildAdURL_Truncated(t *testing.T) {
	r := NewResolver(testBase, 64, zap.NewNop(), nil)

	m := NewMap()
	m.Set("hb_cache_id", strings.Repeat("x", 200))

	got := r.BuildAdURL(m)
	assert.LessOrEqual(t, len(got), 64)
	assert.True(t, strings.HasSuffix(got, "&trunc=1"), got)
}
