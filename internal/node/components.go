package node

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nerrad567/fieldmesh/internal/actuator"
	"github.com/nerrad567/fieldmesh/internal/api"
	"github.com/nerrad567/fieldmesh/internal/controller"
	"github.com/nerrad567/fieldmesh/internal/device"
	"github.com/nerrad567/fieldmesh/internal/environment"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/config"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/logging"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/mqtt"
	"github.com/nerrad567/fieldmesh/internal/readings"
	"github.com/nerrad567/fieldmesh/internal/sensor"
)

// Default ids used when node.id is not configured. A standalone sensor and
// actuator pair because they share DefaultDeviceID.
const (
	DefaultEnvironmentID = "environment"
	DefaultControllerID  = "controller"
	DefaultDeviceID      = "thermo-1"
)

func idOr(cfg *config.Config, fallback string) string {
	if cfg.Node.ID != "" {
		return cfg.Node.ID
	}
	return fallback
}

func componentLogger(logger *logging.Logger, role device.Role, id string) *logging.Logger {
	if logger == nil {
		logger = logging.Discard()
	}
	return logger.With("component", string(role), "device_id", id)
}

// serveAndAnnounce binds handler, announces desc and browses for the
// environment when upstream is set. On failure the node is closed.
func (n *Node) serveAndAnnounce(desc device.Description, handler http.Handler, upstream bool) error {
	if _, err := n.Serve(handler); err != nil {
		n.Close() //nolint:errcheck // Best effort cleanup on error path
		return err
	}
	if err := n.Announce(desc); err != nil {
		n.Close() //nolint:errcheck // Best effort cleanup on error path
		return err
	}
	if upstream {
		n.Browse(device.RoleEnvironment)
	}
	return nil
}

// NewEnvironment builds the simulated environment: GET /datum/{id} and
// POST /command, announced with role environment.
func NewEnvironment(_ context.Context, cfg *config.Config, logger *logging.Logger, opts ...Option) (*Node, error) {
	id := idOr(cfg, DefaultEnvironmentID)
	logger = componentLogger(logger, device.RoleEnvironment, id)

	n, err := New(cfg, logger, opts...)
	if err != nil {
		return nil, err
	}

	desc := device.Description{
		ID:    id,
		Name:  cfg.Node.Name,
		Model: device.ModelEnvironment,
		Role:  device.RoleEnvironment,
	}
	env := environment.New(desc, environment.ConfigFrom(cfg.Environment), environment.WithLogger(logger))

	if err := n.serveAndAnnounce(desc, environment.NewHandler(env, n.version, logger), false); err != nil {
		return nil, err
	}
	return n, nil
}

// NewSensor builds a forwarding temperature sensor that reads through the
// environment it discovers.
func NewSensor(_ context.Context, cfg *config.Config, logger *logging.Logger, opts ...Option) (*Node, error) {
	id := idOr(cfg, DefaultDeviceID)
	logger = componentLogger(logger, device.RoleSensor, id)

	n, err := New(cfg, logger, opts...)
	if err != nil {
		return nil, err
	}

	s, err := sensor.NewTemperature(id, cfg.Node.Name, n.Registry(), n.Client(), logger)
	if err != nil {
		n.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, err
	}

	if err := n.serveAndAnnounce(s.Describe(), sensor.NewHandler(s, n.version, logger), true); err != nil {
		return nil, err
	}
	return n, nil
}

// NewActuator builds a forwarding temperature actuator that applies
// commands through the environment it discovers.
func NewActuator(_ context.Context, cfg *config.Config, logger *logging.Logger, opts ...Option) (*Node, error) {
	id := idOr(cfg, DefaultDeviceID)
	logger = componentLogger(logger, device.RoleActuator, id)

	n, err := New(cfg, logger, opts...)
	if err != nil {
		return nil, err
	}

	a, err := actuator.NewTemperature(id, cfg.Node.Name, n.Registry(), n.Client(), logger)
	if err != nil {
		n.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, err
	}

	if err := n.serveAndAnnounce(a.Describe(), actuator.NewHandler(a, n.version, logger), true); err != nil {
		return nil, err
	}
	return n, nil
}

// NewController builds the controller: the reading store, the scheduling
// loop, the HTTP API with its live feed, and a browser over every role.
// When discovery runs over MQTT, readings and commands are mirrored to the
// broker as well.
func NewController(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts ...Option) (*Node, error) {
	id := idOr(cfg, DefaultControllerID)
	logger = componentLogger(logger, device.RoleController, id)

	n, err := New(cfg, logger, opts...)
	if err != nil {
		return nil, err
	}
	if err := n.buildController(ctx, id, logger); err != nil {
		n.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, err
	}
	return n, nil
}

func (n *Node) buildController(ctx context.Context, id string, logger *logging.Logger) error {
	cfg := n.cfg

	store, err := readings.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening reading store: %w", err)
	}
	n.OnClose(store.Close)
	logger.Info("reading store opened", "backend", cfg.Store.Backend)

	policy, err := controller.NewPolicy(cfg.Controller.Policy)
	if err != nil {
		return err
	}

	hub := api.NewHub(cfg.WebSocket, logger)
	loopOpts := []controller.Option{
		controller.WithLogger(logger),
		controller.WithHub(hub),
	}
	if n.mqtt != nil {
		topics := mqtt.Topics{Prefix: cfg.Discovery.TopicPrefix}
		loopOpts = append(loopOpts, controller.WithMQTTMirror(n.mqtt, topics, byte(cfg.MQTT.QoS)))
	}

	loop, err := controller.New(n.registry, n.client, store, policy, controller.ConfigFrom(cfg.Controller), loopOpts...)
	if err != nil {
		return err
	}
	n.OnClose(func() error {
		loop.Close()
		return nil
	})

	n.self = device.Description{
		ID:    id,
		Name:  cfg.Node.Name,
		Model: device.ModelController,
		Role:  device.RoleController,
	}

	deps := api.Deps{
		Addr:     listenAddr(cfg.Node),
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   logger,
		Registry: n.registry,
		Store:    store,
		Loop:     loop,
		Self:     n,
		Hub:      hub,
		Version:  n.version,
	}
	if n.mqtt != nil {
		deps.MQTT = n.mqtt
	}
	server, err := api.New(deps)
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return err
	}
	n.OnClose(server.Close)

	if _, err := n.bind(server.Addr()); err != nil {
		return err
	}
	if err := n.Announce(n.self); err != nil {
		return err
	}
	n.Browse("")

	n.Go(func(ctx context.Context) error {
		hub.Run(ctx)
		return nil
	})
	n.Go(loop.Run)
	return nil
}
