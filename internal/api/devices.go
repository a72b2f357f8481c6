package api

import (
	"net/http"

	"github.com/nerrad567/fieldmesh/internal/datum"
	"github.com/nerrad567/fieldmesh/internal/device"
	"github.com/nerrad567/fieldmesh/internal/transport"
)

// deviceView is the JSON shape of a registry record.
type deviceView struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Role       device.Role  `json:"role"`
	Model      device.Model `json:"model"`
	Address    string       `json:"address"`
	Capability string       `json:"capability"`
	LastSeen   string       `json:"last_seen"`
}

// handleListDevices returns live registry records, optionally filtered by
// ?role=sensor|actuator|environment.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	var role device.Role
	if raw := r.URL.Query().Get("role"); raw != "" {
		parsed, err := device.ParseRole(raw)
		if err != nil {
			transport.WriteBadRequest(w, err.Error())
			return
		}
		role = parsed
	}

	recs := s.registry.Snapshot(role)
	out := make([]deviceView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, deviceView{
			ID:         rec.ID,
			Name:       rec.Name,
			Role:       rec.Role,
			Model:      rec.Model,
			Address:    rec.Address,
			Capability: rec.Capability.Format(rec.Role),
			LastSeen:   rec.LastSeen.UTC().Format(datum.TimeFormat),
		})
	}
	transport.WriteJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}
