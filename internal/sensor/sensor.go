package sensor

import (
	"context"
	"fmt"

	"github.com/nerrad567/fieldmesh/internal/datum"
	"github.com/nerrad567/fieldmesh/internal/device"
	"github.com/nerrad567/fieldmesh/internal/transport"
)

// Upstream finds the live environment. *registry.Registry implements it.
type Upstream interface {
	First(role device.Role) (device.Record, bool)
}

// EnvironmentClient reads from the environment. *transport.Client implements it.
type EnvironmentClient interface {
	GetEnvironmentDatum(ctx context.Context, addr, id string, kind datum.Kind, unit datum.Unit) (datum.Datum, error)
}

// Logger defines the logging interface used by the sensor.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Sensor forwards reads to the environment.
type Sensor struct {
	desc     device.Description
	upstream Upstream
	client   EnvironmentClient
	logger   Logger
}

// New validates desc as a sensor description and returns a Sensor.
func New(desc device.Description, upstream Upstream, client EnvironmentClient, logger Logger) (*Sensor, error) {
	if desc.Role != device.RoleSensor {
		return nil, fmt.Errorf("%w: sensor needs role %q, got %q", device.ErrInvalidRole, device.RoleSensor, desc.Role)
	}
	if err := device.ValidateDescription(desc); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Sensor{desc: desc, upstream: upstream, client: client, logger: logger}, nil
}

// NewTemperature describes a thermo5000 temperature sensor with the given id.
func NewTemperature(id, name string, upstream Upstream, client EnvironmentClient, logger Logger) (*Sensor, error) {
	return New(device.Description{
		ID:         id,
		Name:       name,
		Model:      device.ModelThermo5000,
		Role:       device.RoleSensor,
		Capability: device.TemperatureSensor(),
	}, upstream, client, logger)
}

// Describe implements device.Describer.
func (s *Sensor) Describe() device.Description {
	return s.desc
}

// GetDatum implements device.Sensor. A unit other than the declared one is
// ErrNotAvailable without contacting the environment.
func (s *Sensor) GetDatum(ctx context.Context, kind datum.Kind, unit datum.Unit) (datum.Datum, error) {
	if unit != s.desc.Capability.Unit {
		return datum.Datum{}, fmt.Errorf("%w: %s measures %q, not %q",
			device.ErrNotAvailable, s.desc.ID, s.desc.Capability.Unit, unit)
	}

	env, ok := s.upstream.First(device.RoleEnvironment)
	if !ok {
		s.logger.Warn("no environment known", "device_id", s.desc.ID)
		return datum.Datum{}, transport.ErrNoUpstream
	}

	d, err := s.client.GetEnvironmentDatum(ctx, env.Address, s.desc.ID, kind, unit)
	if err != nil {
		return datum.Datum{}, err
	}
	s.logger.Debug("forwarded reading", "device_id", s.desc.ID, "environment", env.Address, "datum", d.String())
	return d, nil
}
