package api

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/rtcadserve/internal/middleware"
	"github.com/patrickwarner/rtcadserve/internal/render"
	"github.com/patrickwarner/rtcadserve/internal/resize"
	"github.com/patrickwarner/rtcadserve/internal/targeting"
)

// AdsHandler handles GET /ads, the fake ad network endpoint ad URLs point
// at. It decodes the scp targeting, picks the creative size from hb_size
// and reports it in the X-CreativeSize header. Without hb_size the size
// declared by the optional slot query parameter is used, then 300x250.
func (s *Server) AdsHandler(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "AdsHandler",
		trace.WithAttributes(
			attribute.String("http.method", "GET"),
			attribute.String("http.route", "/ads"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "ads"
	const method = "GET"

	q := r.URL.Query()
	t, err := targeting.Parse(q.Get(targeting.ScpParam))
	if err != nil {
		logger.Warn("invalid scp", zap.Error(err))
		s.record(endpoint, method, http.StatusBadRequest, start)
		http.Error(w, "invalid scp", http.StatusBadRequest)
		return
	}

	def := render.DefaultSize
	if id := q.Get("slot"); id != "" {
		if slot, ok := s.Slots.GetSlot(id); ok {
			if declared := resize.DeclaredSize(slot); declared.Width > 0 && declared.Height > 0 {
				def = declared
			}
		}
	}
	size := render.SizeFromTargeting(t, def)
	span.SetAttributes(
		attribute.String("creative_size", size.String()),
		attribute.Int("targeting_keys", t.Len()))

	w.Header().Set(resize.CreativeSizeHeader, size.String())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(render.ComposeCreativeHTML(render.Creative{Size: size, Targeting: t})))

	s.record(endpoint, method, http.StatusOK, start)
}
