package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/patrickwarner/rtcadserve/internal/config"
	"github.com/patrickwarner/rtcadserve/internal/macros"
	"github.com/patrickwarner/rtcadserve/internal/models"
	"github.com/patrickwarner/rtcadserve/internal/targeting"
)

func newTestRTCServer(t *testing.T) *RTCServer {
	logger := zaptest.NewLogger(t)
	return &RTCServer{
		cfg:    config.Config{AdBaseURL: "https://ads.example.test/ads", AdURLMaxLength: 16384},
		macros: macros.NewServiceForTesting(logger, time.Second),
		logger: logger,
	}
}

func TestResolveAdURLTool(t *testing.T) {
	s := newTestRTCServer(t)
	var results []targeting.Result
	require.NoError(t, json.Unmarshal([]byte(`[{"response":{"targeting":{"hb_pb":"3.20","hb_bidder":"appnexus"}}}]`), &results))

	_, out, err := s.ResolveAdURL(context.Background(), nil, ResolveAdURLInput{Results: results})
	require.NoError(t, err)
	assert.Equal(t, "https://ads.example.test/ads?scp=hb_pb%3D3.20%26hb_bidder%3Dappnexus", out.AdURL)
	assert.True(t, out.Targeted)
	assert.Empty(t, out.Reason)

	_, out, err = s.ResolveAdURL(context.Background(), nil, ResolveAdURLInput{BaseURL: "https://other.example.test/x"})
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.test/x", out.AdURL)
	assert.False(t, out.Targeted)
	assert.Equal(t, targeting.ReasonNoResults, out.Reason)
}

func TestExpandTemplateTool(t *testing.T) {
	s := newTestRTCServer(t)
	_, out, err := s.ExpandTemplate(context.Background(), nil, ExpandTemplateInput{
		Template:   "https://rtc.example.test/?pv=PAGEVIEWID&w=ATTR(width)&cid=ADCID&x=FOO(1)",
		Page:       models.Page{PageViewID: "pv-9"},
		Attributes: map[string]string{"width": "320"},
		ClientID:   "amp-xyz",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://rtc.example.test/?pv=pv-9&w=320&cid=amp-xyz&x=FOO(1)", out.URL)
	assert.Equal(t, "pv-9", out.PageViewID)
	assert.Equal(t, []string{"FOO"}, out.Unsupported)

	_, out, err = s.ExpandTemplate(context.Background(), nil, ExpandTemplateInput{Template: "cid=ADCID"})
	require.NoError(t, err)
	assert.Equal(t, "cid=", out.URL)
	assert.NotEmpty(t, out.PageViewID)

	_, _, err = s.ExpandTemplate(context.Background(), nil, ExpandTemplateInput{})
	assert.Error(t, err)
}

func TestNewMCPServer(t *testing.T) {
	assert.NotNil(t, newMCPServer(newTestRTCServer(t)))
}
