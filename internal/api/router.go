package api

import (
	"net/http"

	"github.com/nerrad567/fieldmesh/internal/panel"
	"github.com/nerrad567/fieldmesh/internal/transport"
)

// panelPrefix is where the dashboard is mounted.
const panelPrefix = "/ui"

func (s *Server) buildRouter() http.Handler {
	r := transport.NewRouter(s.logger)
	r.Use(s.cors)

	if s.self != nil {
		r.Get("/health", transport.HealthHandler(s.self, s.version))
	} else {
		r.Get("/health", s.handleHealth)
	}
	r.Get("/metrics", s.handleMetrics)

	r.Get("/datum", s.handleDatum)
	r.Get("/aggregate", s.handleAggregate)
	r.Get("/devices", s.handleListDevices)

	r.Get("/ws", s.handleWebSocket)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, panelPrefix+"/", http.StatusFound)
	})
	r.Handle(panelPrefix+"/*", http.StripPrefix(panelPrefix, panel.Handler(s.cfg.PanelDir)))

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	transport.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
