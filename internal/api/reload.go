package api

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/rtcadserve/internal/middleware"
)

// ReloadHandler handles POST /reload: the slot registry is replaced with
// the slots currently stored in Postgres. A failed reload keeps the
// previous registry.
func (s *Server) ReloadHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "reload"
	const method = "POST"

	if err := s.Reload(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrPostgresUnavailable) {
			status = http.StatusServiceUnavailable
		}
		logger.Error("slot reload failed", zap.Error(err))
		s.record(endpoint, method, status, start)
		http.Error(w, "reload failed", status)
		return
	}

	logger.Info("Reloaded slots", zap.Int("count", s.Slots.Len()))
	s.record(endpoint, method, http.StatusNoContent, start)
	w.WriteHeader(http.StatusNoContent)
}
