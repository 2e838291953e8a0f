package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/patrickwarner/rtcadserve/internal/middleware"
)

// Router registers every endpoint on a new mux router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.WithTraceLogger(s.Logger))

	r.HandleFunc("/rtc/adurl", s.AdURLHandler).Methods(http.MethodPost)
	r.HandleFunc("/rtc/expand", s.ExpandHandler).Methods(http.MethodPost)
	r.HandleFunc("/rtc/render", s.RenderHandler).Methods(http.MethodPost)
	r.HandleFunc("/ads", s.AdsHandler).Methods(http.MethodGet)
	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/reload", s.ReloadHandler).Methods(http.MethodPost)

	admin := r.PathPrefix("/api").Subrouter()
	admin.HandleFunc("/slots", s.ListSlots).Methods(http.MethodGet)
	admin.HandleFunc("/slots/{id}", s.GetSlot).Methods(http.MethodGet)
	admin.HandleFunc("/slots/{id}", s.PutSlot).Methods(http.MethodPut)

	r.Handle("/metrics", promhttp.Handler())
	return r
}
