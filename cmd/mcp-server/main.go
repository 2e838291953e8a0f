package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/rtcadserve/internal/config"
	"github.com/patrickwarner/rtcadserve/internal/macros"
	"github.com/patrickwarner/rtcadserve/internal/models"
	"github.com/patrickwarner/rtcadserve/internal/observability"
	"github.com/patrickwarner/rtcadserve/internal/targeting"
)

// ResolveAdURLInput carries settled RTC results.
type ResolveAdURLInput struct {
	Results   []targeting.Result `json:"results"`
	BaseURL   string             `json:"base_url,omitempty"`
	MaxLength int                `json:"max_length,omitempty"`
}

// ResolveAdURLOutput is the built ad request URL.
type ResolveAdURLOutput struct {
	AdURL    string `json:"ad_url"`
	Targeted bool   `json:"targeted"`
	Reason   string `json:"reason,omitempty"`
}

// ExpandTemplateInput describes one RTC callout template and the slot and
// page it is expanded for.
type ExpandTemplateInput struct {
	Template   string            `json:"template"`
	Page       models.Page       `json:"page"`
	SlotID     string            `json:"slot_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	ClientID   string            `json:"client_id,omitempty"`
}

// ExpandTemplateOutput is the expanded callout URL.
type ExpandTemplateOutput struct {
	URL         string   `json:"url"`
	PageViewID  string   `json:"pageview_id"`
	Unsupported []string `json:"unsupported,omitempty"`
}

// RTCServer holds the tool dependencies.
type RTCServer struct {
	cfg    config.Config
	macros *macros.Service
	logger *zap.Logger
}

// fixedClientID serves a caller supplied client id for ADCID.
type fixedClientID string

func (f fixedClientID) GetOrCreate(ctx context.Context, scope, cookieName string) (string, error) {
	return string(f), nil
}

// ResolveAdURL implements the resolve_ad_url tool.
func (s *RTCServer) ResolveAdURL(ctx context.Context, req *mcp.CallToolRequest, input ResolveAdURLInput) (*mcp.CallToolResult, ResolveAdURLOutput, error) {
	base := input.BaseURL
	if base == "" {
		base = s.cfg.AdBaseURL
	}
	maxLength := input.MaxLength
	if maxLength <= 0 {
		maxLength = s.cfg.AdURLMaxLength
	}
	resolver := targeting.NewResolver(base, maxLength, s.logger, observability.NewNoOpRegistry())

	t, reason := targeting.Extract(input.Results)
	out := ResolveAdURLOutput{
		AdURL:    resolver.ResolveAdURL(input.Results),
		Targeted: t.Len() > 0,
		Reason:   reason,
	}
	s.logger.Info("Resolved ad URL",
		zap.Bool("targeted", out.Targeted),
		zap.Int("url_length", len(out.AdURL)))
	return nil, out, nil
}

// ExpandTemplate implements the expand_rtc_template tool. ADCID resolves
// only when a client id is supplied.
func (s *RTCServer) ExpandTemplate(ctx context.Context, req *mcp.CallToolRequest, input ExpandTemplateInput) (*mcp.CallToolResult, ExpandTemplateOutput, error) {
	if input.Template == "" {
		return nil, ExpandTemplateOutput{}, fmt.Errorf("template is required")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	page := input.Page
	if page.PageViewID == "" {
		page.PageViewID = uuid.NewString()
	}
	slotID := input.SlotID
	if slotID == "" {
		slotID = "mcp-slot"
	}
	slot := models.NewSlot(slotID, 0, input.Attributes)

	var cids macros.ClientIDSource
	if input.ClientID != "" {
		cids = fixedClientID(input.ClientID)
	}
	provider := s.macros.NewPageProvider(page, cids)

	return nil, ExpandTemplateOutput{
		URL:         s.macros.ExpandForSlot(ctx, provider, slot, input.Template),
		PageViewID:  page.PageViewID,
		Unsupported: macros.Unsupported(input.Template, provider.Table(slot)),
	}, nil
}

func newMCPServer(rtc *RTCServer) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "rtcadserve",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "resolve_ad_url",
		Description: "Build the ad request URL from settled real-time config results",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"results": map[string]interface{}{
					"type":        "array",
					"description": "RTC results; only the first one's response.targeting is used",
					"items":       map[string]interface{}{"type": "object"},
				},
				"base_url": map[string]interface{}{
					"type":        "string",
					"description": "Ad endpoint (optional, defaults to AD_BASE_URL)",
				},
				"max_length": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum URL length (optional, defaults to AD_URL_MAX_LENGTH)",
				},
			},
		},
	}, rtc.ResolveAdURL)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "expand_rtc_template",
		Description: "Expand the macros of an RTC callout URL template for one ad slot",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"template": map[string]interface{}{
					"type":        "string",
					"description": "Callout URL containing macros such as PAGEVIEWID or ATTR(width)",
				},
				"page": map[string]interface{}{
					"type":        "object",
					"description": "Page context: pageview_id, href, canonical_url, referrer",
				},
				"slot_id": map[string]interface{}{
					"type":        "string",
					"description": "Slot identifier (optional)",
				},
				"attributes": map[string]interface{}{
					"type":                 "object",
					"additionalProperties": map[string]interface{}{"type": "string"},
					"description":          "Slot element attributes",
				},
				"client_id": map[string]interface{}{
					"type":        "string",
					"description": "Client id ADCID expands to (optional)",
				},
			},
			"required": []string{"template"},
		},
	}, rtc.ExpandTemplate)

	return server
}

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName + "-mcp")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	server := newMCPServer(&RTCServer{
		cfg:    cfg,
		macros: macros.NewService(logger, cfg.MacroTimeout),
		logger: logger,
	})

	stdioTransport := &mcp.StdioTransport{}

	var logBuffer bytes.Buffer
	loggingTransport := &mcp.LoggingTransport{
		Transport: stdioTransport,
		Writer:    &logBuffer,
	}

	logger.Info("MCP Server running via stdio")

	if err := server.Run(context.Background(), loggingTransport); err != nil {
		logger.Fatal("Server error", zap.Error(err), zap.String("mcp_logs", logBuffer.String()))
	}
}
