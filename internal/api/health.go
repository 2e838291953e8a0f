package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HealthHandler responds with a status check. Redis is pinged when
// configured; a failed ping reports 503.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "health"
	const method = "GET"

	status := http.StatusOK
	body := map[string]any{"status": "ok", "slots": s.Slots.Len()}
	if s.Store != nil {
		if err := s.Store.Ping(r.Context()); err != nil {
			s.Logger.Warn("redis ping failed", zap.Error(err))
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}

	writeJSONStatus(w, status, body)
	s.Metrics.IncrementRequests(endpoint, method, statusLabel(status))
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}
