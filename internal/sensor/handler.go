package sensor

import (
	"net/http"

	"github.com/nerrad567/fieldmesh/internal/transport"
)

// NewHandler serves GET /datum and GET /health for s.
func NewHandler(s *Sensor, version string, logger transport.Logger) http.Handler {
	r := transport.NewRouter(logger)
	r.Get("/health", transport.HealthHandler(s, version))
	transport.MountSensor(r, s)
	return r
}
