package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/patrickwarner/rtcadserve/internal/db"
	"github.com/patrickwarner/rtcadserve/internal/models"
)

// helper function to write JSON response
func writeJSON(w http.ResponseWriter, v interface{}) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}

// record reports request count and latency for one handled request.
func (s *Server) record(endpoint, method string, status int, start time.Time) {
	s.Metrics.IncrementRequests(endpoint, method, statusLabel(status))
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}

// GetSlot handles GET /api/slots/{id}. Slots missing from the registry
// are looked up in Postgres, which another instance may have just written.
func (s *Server) GetSlot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	slot, ok := s.Slots.GetSlot(id)
	if !ok {
		if s.PG == nil {
			http.Error(w, "slot not found", http.StatusNotFound)
			return
		}
		var err error
		slot, err = s.PG.LoadSlot(r.Context(), id)
		if errors.Is(err, db.ErrSlotNotFound) {
			http.Error(w, "slot not found", http.StatusNotFound)
			return
		}
		if err != nil {
			s.Logger.Error("load slot from postgres", zap.Error(err), zap.String("slot_id", id))
			http.Error(w, "failed to load slot", http.StatusInternalServerError)
			return
		}
		s.Slots.Put(slot)
	}
	writeJSON(w, slot)
}

// ListSlots handles GET /api/slots. Slots are returned ordered by id.
func (s *Server) ListSlots(w http.ResponseWriter, r *http.Request) {
	all := s.Slots.All()
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	writeJSON(w, all)
}

// PutSlot handles PUT /api/slots/{id}. The slot is persisted to Postgres
// when configured, stored in the registry and announced to other instances.
func (s *Server) PutSlot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var p models.Slot
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	slot := models.NewSlot(id, p.PublisherID, p.Attributes)

	if s.PG != nil {
		if err := s.PG.UpsertSlot(r.Context(), slot); err != nil {
			s.Logger.Error("upsert slot to postgres", zap.Error(err), zap.String("slot_id", id))
			http.Error(w, "failed to persist slot", http.StatusInternalServerError)
			return
		}
	}
	s.Slots.Put(slot)
	s.notifyUpdate(r.Context(), "upsert", id)
	writeJSON(w, slot)
}
