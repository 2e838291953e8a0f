package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/patrickwarner/rtcadserve/internal/analytics"
	"github.com/patrickwarner/rtcadserve/internal/db"
	"github.com/patrickwarner/rtcadserve/internal/macros"
	"github.com/patrickwarner/rtcadserve/internal/middleware"
	"github.com/patrickwarner/rtcadserve/internal/models"
	"github.com/patrickwarner/rtcadserve/internal/observability"
	"github.com/patrickwarner/rtcadserve/internal/targeting"
	"github.com/patrickwarner/rtcadserve/internal/urlbuilder"
)

var tracer = observability.Tracer("api")

// maxRequestBytes bounds JSON request bodies.
const maxRequestBytes = 1 << 20

var errMissingSlot = errors.New("slot id or attributes required")

// SlotRef names a registered slot or declares one inline. Inline
// attributes take precedence over the registry.
type SlotRef struct {
	ID          string            `json:"id"`
	PublisherID int               `json:"publisher_id"`
	Attributes  map[string]string `json:"attributes"`
}

// resolveSlot returns the slot ref points at. A zero ref yields
// errMissingSlot; an unknown id yields db.ErrSlotNotFound.
func (s *Server) resolveSlot(ref SlotRef) (models.Slot, error) {
	if ref.Attributes != nil {
		id := ref.ID
		if id == "" {
			id = "inline-" + uuid.NewString()
		}
		return models.NewSlot(id, ref.PublisherID, ref.Attributes), nil
	}
	if ref.ID == "" {
		return models.Slot{}, errMissingSlot
	}
	slot, ok := s.Slots.GetSlot(ref.ID)
	if !ok {
		return models.Slot{}, fmt.Errorf("%w: %s", db.ErrSlotNotFound, ref.ID)
	}
	return slot, nil
}

func slotErrorStatus(err error) int {
	if errors.Is(err, db.ErrSlotNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer func() {
		_ = r.Body.Close()
	}()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(v); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	return nil
}

// AdURLRequest carries settled RTC results for one slot.
type AdURLRequest struct {
	Slot    SlotRef            `json:"slot"`
	Results []targeting.Result `json:"results"`
}

// AdURLResponse is the built ad request URL.
type AdURLResponse struct {
	RequestID string `json:"request_id"`
	AdURL     string `json:"ad_url"`
	Targeted  bool   `json:"targeted"`
	Truncated bool   `json:"truncated"`
}

// AdURLHandler handles POST /rtc/adurl. Only the first RTC result is
// used; missing targeting yields the untargeted base URL.
func (s *Server) AdURLHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "AdURLHandler",
		trace.WithAttributes(
			attribute.String("http.method", "POST"),
			attribute.String("http.route", "/rtc/adurl"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "rtc_adurl"
	const method = "POST"

	var req AdURLRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("decode request", zap.Error(err))
		s.record(endpoint, method, http.StatusBadRequest, start)
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	var slot models.Slot
	if req.Slot.ID != "" || req.Slot.Attributes != nil {
		var err error
		if slot, err = s.resolveSlot(req.Slot); err != nil {
			status := slotErrorStatus(err)
			s.record(endpoint, method, status, start)
			http.Error(w, err.Error(), status)
			return
		}
	}

	adURL := s.Resolver.ResolveAdURL(req.Results)
	t, _ := targeting.Extract(req.Results)
	resp := AdURLResponse{
		RequestID: middleware.RequestID(ctx),
		AdURL:     adURL,
		Targeted:  t != nil && t.Len() > 0,
		Truncated: strings.HasSuffix(adURL, urlbuilder.TruncParam),
	}
	if resp.RequestID == "" {
		resp.RequestID = uuid.NewString()
	}
	span.SetAttributes(
		attribute.Bool("targeted", resp.Targeted),
		attribute.Int("url_length", len(adURL)))

	s.recordAdURL(analytics.WithUserAgent(ctx, r.UserAgent()), logger, resp, slot, t)

	writeJSON(w, resp)
	s.record(endpoint, method, http.StatusOK, start)
}

func (s *Server) recordAdURL(ctx context.Context, logger *zap.Logger, resp AdURLResponse, slot models.Slot, t *targeting.Map) {
	if s.Analytics == nil {
		return
	}
	kv := map[string]string{}
	for _, e := range t.Entries() {
		kv[e.Key] = strings.Join(e.Values, ",")
	}
	err := s.Analytics.RecordAdURL(ctx, analytics.AdURLEvent{
		RequestID:   resp.RequestID,
		SlotID:      slot.ID,
		PublisherID: slot.PublisherID,
		Targeted:    resp.Targeted,
		Truncated:   resp.Truncated,
		URLLength:   len(resp.AdURL),
		KeyValues:   kv,
	})
	if err != nil && !errors.Is(err, analytics.ErrUnavailable) {
		logger.Warn("record ad url event", zap.Error(err))
	}
}

// ExpandRequest asks for RTC callout URLs for one slot on one page view.
type ExpandRequest struct {
	Page      models.Page       `json:"page"`
	UserID    string            `json:"user_id"`
	Slot      SlotRef           `json:"slot"`
	Templates map[string]string `json:"templates"`
}

// ExpandResponse maps each vendor to its expanded callout URL.
type ExpandResponse struct {
	PageViewID string            `json:"pageview_id"`
	Requests   map[string]string `json:"requests"`
}

// ExpandHandler handles POST /rtc/expand. Templates are expanded
// concurrently against one macro table, so every vendor sees the same
// page view id and client id. The user key falls back to the _ga cookie.
func (s *Server) ExpandHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "ExpandHandler",
		trace.WithAttributes(
			attribute.String("http.method", "POST"),
			attribute.String("http.route", "/rtc/expand"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "rtc_expand"
	const method = "POST"

	var req ExpandRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("decode request", zap.Error(err))
		s.record(endpoint, method, http.StatusBadRequest, start)
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if len(req.Templates) == 0 {
		s.record(endpoint, method, http.StatusBadRequest, start)
		http.Error(w, "templates required", http.StatusBadRequest)
		return
	}
	slot, err := s.resolveSlot(req.Slot)
	if err != nil {
		status := slotErrorStatus(err)
		s.record(endpoint, method, status, start)
		http.Error(w, err.Error(), status)
		return
	}

	if req.Page.PageViewID == "" {
		req.Page.PageViewID = uuid.NewString()
	}
	userKey := req.UserID
	if userKey == "" {
		if c, err := r.Cookie(macros.AdCIDCookie); err == nil {
			userKey = c.Value
		}
	}
	var cids macros.ClientIDSource
	if s.ClientIDs != nil {
		cids = s.ClientIDs.For(userKey)
	}
	provider := s.Macros.NewPageProvider(req.Page, cids)

	var mu sync.Mutex
	out := ExpandResponse{PageViewID: req.Page.PageViewID, Requests: make(map[string]string, len(req.Templates))}
	g, gctx := errgroup.WithContext(ctx)
	for vendor, tmpl := range req.Templates {
		g.Go(func() error {
			expanded := s.Macros.ExpandForSlot(gctx, provider, slot, tmpl)
			mu.Lock()
			out.Requests[vendor] = expanded
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.String("slot_id", slot.ID),
		attribute.Int("templates", len(req.Templates)))
	writeJSON(w, out)
	s.record(endpoint, method, http.StatusOK, start)
}

// RenderRequest runs the full ad pipeline for one slot.
type RenderRequest struct {
	Slot    SlotRef            `json:"slot"`
	Results []targeting.Result `json:"results"`
}

// RenderHandler handles POST /rtc/render: it builds the ad URL, fetches
// the creative and reconciles its size with the slot.
func (s *Server) RenderHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "RenderHandler",
		trace.WithAttributes(
			attribute.String("http.method", "POST"),
			attribute.String("http.route", "/rtc/render"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "rtc_render"
	const method = "POST"

	var req RenderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("decode request", zap.Error(err))
		s.record(endpoint, method, http.StatusBadRequest, start)
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	slot, err := s.resolveSlot(req.Slot)
	if err != nil {
		status := slotErrorStatus(err)
		s.record(endpoint, method, status, start)
		http.Error(w, err.Error(), status)
		return
	}

	rtc := make(chan []targeting.Result, 1)
	rtc <- req.Results
	close(rtc)

	ctx = analytics.WithUserAgent(ctx, r.UserAgent())
	rendered, err := s.Network.Render(ctx, slot, rtc)
	if err != nil {
		logger.Error("render failed", zap.Error(err), zap.String("slot_id", slot.ID))
		span.RecordError(err)
		s.record(endpoint, method, http.StatusBadGateway, start)
		http.Error(w, "ad request failed", http.StatusBadGateway)
		return
	}

	t, _ := targeting.Extract(req.Results)
	s.recordAdURL(ctx, logger, AdURLResponse{
		RequestID: rendered.RequestID,
		AdURL:     rendered.AdURL,
		Targeted:  t != nil && t.Len() > 0,
		Truncated: strings.HasSuffix(rendered.AdURL, urlbuilder.TruncParam),
	}, slot, t)

	writeJSON(w, rendered)
	s.record(endpoint, method, http.StatusOK, start)
}
