package environment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/fieldmesh/internal/datum"
	"github.com/nerrad567/fieldmesh/internal/device"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/config"
)

// DefaultDedupWindow is how long a command id is remembered.
const DefaultDedupWindow = 5 * time.Minute

// ErrUnknownID is returned when a command names an id that has never been read.
var ErrUnknownID = errors.New("environment: unknown id")

// Logger defines the logging interface used by the environment.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config parameterises new generators and command handling.
type Config struct {
	Coefficients Coefficients
	Noise        float64
	CommandGain  float64
	DedupWindow  time.Duration
}

// ConfigFrom reads the environment section of the process configuration.
func ConfigFrom(cfg config.EnvironmentConfig) Config {
	return Config{
		Coefficients: CoefficientsFrom(cfg),
		Noise:        cfg.Noise,
		CommandGain:  cfg.CommandGain,
		DedupWindow:  DefaultDedupWindow,
	}
}

// Option configures an Environment.
type Option func(*Environment)

// WithClock replaces time.Now for generators and the dedup window.
func WithClock(now func() time.Time) Option {
	return func(e *Environment) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(e *Environment) { e.logger = l }
}

// Environment owns one generator per sensor id.
type Environment struct {
	desc   device.Description
	cfg    Config
	now    func() time.Time
	logger Logger

	mu         sync.Mutex
	generators map[string]*Generator
	applied    map[string]time.Time
}

// New creates an environment that announces itself as desc.
func New(desc device.Description, cfg Config, opts ...Option) *Environment {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	e := &Environment{
		desc:       desc,
		cfg:        cfg,
		now:        time.Now,
		logger:     noopLogger{},
		generators: make(map[string]*Generator),
		applied:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Describe implements device.Describer.
func (e *Environment) Describe() device.Description {
	return e.desc
}

// Datum returns a reading for id. A known id ignores kind and unit. An
// unknown id is registered from them, which requires a float kind. An empty
// kind for an unknown id is ErrNotAvailable.
func (e *Environment) Datum(id string, kind datum.Kind, unit datum.Unit) (datum.Datum, error) {
	e.mu.Lock()
	g, ok := e.generators[id]
	if !ok {
		switch kind {
		case datum.KindFloat:
			g = NewGenerator(e.cfg.Coefficients, e.cfg.Noise, unit, e.now)
			e.generators[id] = g
			e.logger.Info("registered generator", "device_id", id, "unit", string(unit))
		case "":
			e.mu.Unlock()
			return datum.Datum{}, fmt.Errorf("%w: unknown id %q, kind and unit are required to register it", device.ErrNotAvailable, id)
		default:
			e.mu.Unlock()
			return datum.Datum{}, fmt.Errorf("%w: cannot simulate %s readings", device.ErrNotAvailable, kind)
		}
	}
	e.mu.Unlock()

	return g.Generate(), nil
}

// Apply executes cmd on behalf of the device id of the given model. Only
// thermo5000 devices may change the environment. A command with an id that
// was applied within the dedup window is accepted without effect.
func (e *Environment) Apply(_ context.Context, id string, model device.Model, cmd device.Command) error {
	switch model {
	case device.ModelThermo5000:
	case device.ModelController:
		return device.Reject(nil, "does not accept commands directly from the controller")
	case device.ModelEnvironment:
		return device.Reject(nil, "does not accept commands from itself")
	default:
		return device.Reject(device.ErrInvalidModel, "unsupported device model %q", model)
	}

	if err := device.CheckCommand(device.TemperatureActuator(), cmd); err != nil {
		return err
	}
	delta, err := cmd.SignedDelta()
	if err != nil {
		return device.Reject(err, "bad command %s", cmd)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	g, ok := e.generators[id]
	if !ok {
		return device.Reject(ErrUnknownID, "cannot update generator for unknown id %q", id)
	}

	if cmd.ID != "" {
		now := e.now()
		e.pruneLocked(now)
		if _, dup := e.applied[cmd.ID]; dup {
			e.logger.Debug("duplicate command ignored", "device_id", id, "command_id", cmd.ID)
			return nil
		}
		e.applied[cmd.ID] = now
	}

	g.Shift(delta * e.cfg.CommandGain)
	e.logger.Info("generator updated", "device_id", id, "command", cmd.String())
	return nil
}

// Generators returns the number of registered ids.
func (e *Environment) Generators() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.generators)
}

// Generator returns the generator for id.
func (e *Environment) Generator(id string) (*Generator, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.generators[id]
	return g, ok
}

func (e *Environment) pruneLocked(now time.Time) {
	for id, at := range e.applied {
		if now.Sub(at) > e.cfg.DedupWindow {
			delete(e.applied, id)
		}
	}
}
