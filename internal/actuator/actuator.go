package actuator

import (
	"context"
	"fmt"

	"github.com/nerrad567/fieldmesh/internal/device"
	"github.com/nerrad567/fieldmesh/internal/transport"
)

// Upstream finds the live environment. *registry.Registry implements it.
type Upstream interface {
	First(role device.Role) (device.Record, bool)
}

// EnvironmentClient sends commands to the environment. *transport.Client
// implements it.
type EnvironmentClient interface {
	SendEnvironmentCommand(ctx context.Context, addr, id string, model device.Model, cmd device.Command) error
}

// Logger defines the logging interface used by the actuator.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Actuator forwards commands to the environment.
type Actuator struct {
	desc     device.Description
	upstream Upstream
	client   EnvironmentClient
	logger   Logger
}

// New validates desc as an actuator description and returns an Actuator.
func New(desc device.Description, upstream Upstream, client EnvironmentClient, logger Logger) (*Actuator, error) {
	if desc.Role != device.RoleActuator {
		return nil, fmt.Errorf("%w: actuator needs role %q, got %q", device.ErrInvalidRole, device.RoleActuator, desc.Role)
	}
	if err := device.ValidateDescription(desc); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Actuator{desc: desc, upstream: upstream, client: client, logger: logger}, nil
}

// NewTemperature describes a thermo5000 heater/cooler with the given id.
func NewTemperature(id, name string, upstream Upstream, client EnvironmentClient, logger Logger) (*Actuator, error) {
	return New(device.Description{
		ID:         id,
		Name:       name,
		Model:      device.ModelThermo5000,
		Role:       device.RoleActuator,
		Capability: device.TemperatureActuator(),
	}, upstream, client, logger)
}

// Describe implements device.Describer.
func (a *Actuator) Describe() device.Description {
	return a.desc
}

// Command implements device.Actuator. The command id, when present, is
// forwarded so the environment can drop duplicates.
func (a *Actuator) Command(ctx context.Context, cmd device.Command) error {
	if err := device.CheckCommand(a.desc.Capability, cmd); err != nil {
		a.logger.Warn("command refused", "device_id", a.desc.ID, "command", cmd.String(), "error", err)
		return err
	}

	env, ok := a.upstream.First(device.RoleEnvironment)
	if !ok {
		a.logger.Warn("no environment known", "device_id", a.desc.ID)
		return transport.ErrNoUpstream
	}

	if err := a.client.SendEnvironmentCommand(ctx, env.Address, a.desc.ID, a.desc.Model, cmd); err != nil {
		return err
	}
	a.logger.Info("command applied", "device_id", a.desc.ID, "command", cmd.String(), "command_id", cmd.ID)
	return nil
}
