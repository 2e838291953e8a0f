package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "8787", cfg.Port)
	assert.Equal(t, "https://prebid-support.lsd.test/ads", cfg.AdBaseURL)
	assert.Equal(t, 16384, cfg.AdURLMaxLength)
	assert.Equal(t, time.Second, cfg.MacroTimeout)
	assert.Equal(t, "rtcadserve", cfg.ServiceName)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AD_BASE_URL", "https://ads.example.test/serve")
	t.Setenv("AD_URL_MAX_LENGTH", "2048")
	t.Setenv("MACRO_TIMEOUT", "250ms")
	t.Setenv("FETCH_TIMEOUT", "3")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("TRACING_SAMPLE_RATE", "0.25")
	t.Setenv("RESIZE_MAX_WIDTH", "not-a-number")

	cfg := Load()
	assert.Equal(t, "https://ads.example.test/serve", cfg.AdBaseURL)
	assert.Equal(t, 2048, cfg.AdURLMaxLength)
	assert.Equal(t, 250*time.Millisecond, cfg.MacroTimeout)
	assert.Equal(t, 3*time.Second, cfg.FetchTimeout)
	assert.True(t, cfg.TracingEnabled)
	assert.InDelta(t, 0.25, cfg.TracingSampleRate, 1e-9)
	assert.Equal(t, 970, cfg.ResizeMaxWidth)
}
