package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/nerrad567/fieldmesh/internal/datum"
	"github.com/nerrad567/fieldmesh/internal/device"
	"github.com/nerrad567/fieldmesh/internal/readings"
	"github.com/nerrad567/fieldmesh/internal/transport"
)

// SensorReadings is one entry of the aggregate view. Datum is empty, never
// null, for a live sensor that has not been read yet.
type SensorReadings struct {
	ID    string        `json:"id"`
	Datum []datum.Datum `json:"datum"`
}

// handleDatum serves the latest Datum for ?id=, or the aggregate when no id
// is given.
func (s *Server) handleDatum(w http.ResponseWriter, r *http.Request) {
	if !r.URL.Query().Has("id") {
		s.handleAggregate(w, r)
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		transport.WriteBadRequest(w, "id must not be empty")
		return
	}

	d, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, readings.ErrNotFound) {
			transport.WriteNotFound(w, "no reading for sensor "+id)
			return
		}
		s.logger.Error("reading lookup failed", "sensor_id", id, "error", err)
		transport.WriteInternalError(w, "reading lookup failed")
		return
	}
	transport.WriteJSON(w, http.StatusOK, d)
}

// handleAggregate joins live sensors with their stored readings. Sensors
// that have left or expired are excluded even if a reading lingers.
func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	latest, err := s.store.Latest(r.Context())
	if err != nil {
		s.logger.Error("listing readings failed", "error", err)
		transport.WriteInternalError(w, "listing readings failed")
		return
	}
	byID := make(map[string]datum.Datum, len(latest))
	for _, rd := range latest {
		byID[rd.SensorID] = rd.Datum
	}

	sensors := s.registry.Snapshot(device.RoleSensor)
	out := make([]SensorReadings, 0, len(sensors))
	for _, rec := range sensors {
		entry := SensorReadings{ID: rec.ID, Datum: []datum.Datum{}}
		if d, ok := byID[rec.ID]; ok {
			entry.Datum = append(entry.Datum, d)
		}
		out = append(out, entry)
	}
	transport.WriteJSON(w, http.StatusOK, out)
}
