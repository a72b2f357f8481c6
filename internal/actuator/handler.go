package actuator

import (
	"net/http"

	"github.com/nerrad567/fieldmesh/internal/transport"
)

// NewHandler serves POST /command and GET /health for a.
func NewHandler(a *Actuator, version string, logger transport.Logger) http.Handler {
	r := transport.NewRouter(logger)
	r.Get("/health", transport.HealthHandler(a, version))
	transport.MountActuator(r, a)
	return r
}
