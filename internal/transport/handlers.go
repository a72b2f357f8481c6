package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fieldmesh/internal/datum"
	"github.com/nerrad567/fieldmesh/internal/device"
)

// ParseSelectors reads the kind and unit query parameters. An absent unit
// means unitless.
func ParseSelectors(r *http.Request) (datum.Kind, datum.Unit, error) {
	q := r.URL.Query()
	kind, err := datum.ParseKind(q.Get("kind"))
	if err != nil {
		return "", "", err
	}
	unit, err := datum.ParseUnit(q.Get("unit"))
	if err != nil {
		return "", "", err
	}
	return kind, unit, nil
}

// DecodeCommand reads a command body and the optional command id header.
func DecodeCommand(r *http.Request) (device.Command, error) {
	var cmd device.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		return device.Command{}, err
	}
	cmd.ID = r.Header.Get(HeaderCommandID)
	return cmd, nil
}

// SensorHandler serves GET /datum for s.
func SensorHandler(s device.Sensor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, unit, err := ParseSelectors(r)
		if err != nil {
			WriteBadRequest(w, err.Error())
			return
		}

		d, err := s.GetDatum(r.Context(), kind, unit)
		if err != nil {
			WriteDeviceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, d)
	}
}

// ActuatorHandler serves POST /command for a.
func ActuatorHandler(a device.Actuator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd, err := DecodeCommand(r)
		if err != nil {
			WriteBadRequest(w, "invalid command body: "+err.Error())
			return
		}
		if cmd.Name == "" {
			WriteBadRequest(w, "command name is required")
			return
		}

		if err := a.Command(r.Context(), cmd); err != nil {
			WriteDeviceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	}
}

// HealthHandler serves GET /health with the device's description.
func HealthHandler(d device.Describer, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"version": version,
			"device":  d.Describe(),
		})
	}
}

// MountSensor registers the sensor routes on r.
func MountSensor(r chi.Router, s device.Sensor) {
	r.Get("/datum", SensorHandler(s))
}

// MountActuator registers the actuator routes on r.
func MountActuator(r chi.Router, a device.Actuator) {
	r.Post("/command", ActuatorHandler(a))
}
