package environment

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fieldmesh/internal/datum"
	"github.com/nerrad567/fieldmesh/internal/device"
	"github.com/nerrad567/fieldmesh/internal/transport"
)

// Mount registers the environment routes on r:
//
//	GET  /datum/{id}?kind=&unit=
//	POST /command   (X-Device-Id, X-Device-Model, optional X-Command-Id)
func Mount(r chi.Router, e *Environment) {
	r.Get("/datum/{id}", e.handleDatum)
	r.Post("/command", e.handleCommand)
}

// NewHandler returns a complete router for the environment, health included.
func NewHandler(e *Environment, version string, logger transport.Logger) http.Handler {
	r := transport.NewRouter(logger)
	r.Get("/health", transport.HealthHandler(e, version))
	Mount(r, e)
	return r
}

func (e *Environment) handleDatum(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		transport.WriteBadRequest(w, "id is required")
		return
	}

	var (
		kind datum.Kind
		unit datum.Unit
	)
	q := r.URL.Query()
	if q.Get("kind") != "" {
		var err error
		kind, unit, err = transport.ParseSelectors(r)
		if err != nil {
			transport.WriteBadRequest(w, err.Error())
			return
		}
	}

	d, err := e.Datum(id, kind, unit)
	if err != nil {
		transport.WriteDeviceError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, d)
}

func (e *Environment) handleCommand(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.Header.Get(transport.HeaderDeviceID))
	rawModel := r.Header.Get(transport.HeaderDeviceModel)
	if id == "" || rawModel == "" {
		transport.WriteBadRequest(w, transport.HeaderDeviceID+" and "+transport.HeaderDeviceModel+" headers are required")
		return
	}
	model, err := device.ParseModel(rawModel)
	if err != nil {
		transport.WriteBadRequest(w, err.Error())
		return
	}

	cmd, err := transport.DecodeCommand(r)
	if err != nil {
		transport.WriteBadRequest(w, "invalid command body: "+err.Error())
		return
	}

	if err := e.Apply(r.Context(), id, model, cmd); err != nil {
		transport.WriteDeviceError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
