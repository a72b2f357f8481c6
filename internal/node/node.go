package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/fieldmesh/internal/device"
	"github.com/nerrad567/fieldmesh/internal/discovery"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/config"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/logging"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/mqtt"
	"github.com/nerrad567/fieldmesh/internal/registry"
	"github.com/nerrad567/fieldmesh/internal/transport"
)

// ErrNotServing is returned by Announce before the node has an address.
var ErrNotServing = errors.New("node: not serving")

// Option configures a Node.
type Option func(*Node)

// WithBackend shares an existing discovery backend. The node does not close
// it; the caller owns it.
func WithBackend(b discovery.Backend) Option {
	return func(n *Node) { n.backend = b }
}

// WithVersion sets the build version reported by /health.
func WithVersion(v string) Option {
	return func(n *Node) { n.version = v }
}

// Node is one process: a listener, its discovery plumbing and the background
// tasks that run until the context is cancelled.
type Node struct {
	cfg     *config.Config
	logger  *logging.Logger
	version string

	backend     discovery.Backend
	ownsBackend bool
	mqtt        *mqtt.Client
	registry    *registry.Registry
	client      *transport.Client

	self device.Description
	addr string

	announcers []*discovery.Announcer
	browsers   []*discovery.Browser
	tasks      []func(ctx context.Context) error
	closers    []func() error

	closeOnce sync.Once
	closeErr  error
}

// New opens the discovery backend selected by cfg and creates an empty
// registry. Nothing runs until Run.
func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Node, error) {
	if cfg == nil {
		return nil, errors.New("node: config is required")
	}
	if logger == nil {
		logger = logging.Discard()
	}

	n := &Node{
		cfg:     cfg,
		logger:  logger,
		version: "dev",
	}
	for _, opt := range opts {
		opt(n)
	}

	reg, err := registry.New(cfg.Discovery.TTL.Std(), registry.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	n.registry = reg
	n.client = transport.NewClient(transport.WithTimeout(cfg.Controller.CallTimeout.Std()))

	if n.backend == nil {
		if err := n.openBackend(); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (n *Node) openBackend() error {
	d := n.cfg.Discovery
	switch d.Backend {
	case config.BackendLocal:
		n.logger.Warn("local discovery only reaches nodes in this process")
		n.backend = discovery.NewBus()

	case config.BackendMulticast, "":
		mc, err := discovery.NewMulticast(discovery.MulticastConfig{
			Group:     d.Group,
			Port:      d.Port,
			Interface: d.Interface,
			HopLimit:  d.HopLimit,
			// Peers on the same host are common in both modes.
			Loopback: true,
		}, n.logger)
		if err != nil {
			return fmt.Errorf("opening multicast discovery: %w", err)
		}
		n.backend = mc

	case config.BackendMQTT:
		mqttCfg := n.cfg.MQTT
		if mqttCfg.Broker.ClientID == "" {
			mqttCfg.Broker.ClientID = "fieldmesh-" + uuid.NewString()
		}
		client, err := mqtt.Connect(mqttCfg,
			mqtt.WithTopics(mqtt.Topics{Prefix: d.TopicPrefix}),
			mqtt.WithLogger(n.logger),
		)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		n.mqtt = client
		n.backend = discovery.NewMQTT(client, d.TopicPrefix, n.logger)

	default:
		return fmt.Errorf("%w: unknown discovery backend %q", config.ErrInvalidConfig, d.Backend)
	}
	n.ownsBackend = true
	return nil
}

// Registry returns the node's device table.
func (n *Node) Registry() *registry.Registry {
	return n.registry
}

// Client returns the node's HTTP client for talking to other devices.
func (n *Node) Client() *transport.Client {
	return n.client
}

// MQTT returns the broker client, or nil unless discovery runs over MQTT.
func (n *Node) MQTT() *mqtt.Client {
	return n.mqtt
}

// Description returns what the node announces.
func (n *Node) Description() device.Description {
	return n.self
}

// Describe implements device.Describer.
func (n *Node) Describe() device.Description {
	return n.self
}

// Addr returns the advertised address, empty before Serve.
func (n *Node) Addr() string {
	return n.addr
}

// Serve binds handler on the configured host and port and records the
// advertised address.
func (n *Node) Serve(handler http.Handler) (string, error) {
	srv := transport.NewServer(transport.ServerConfig{
		Addr:         listenAddr(n.cfg.Node),
		ReadTimeout:  n.cfg.GetReadTimeout(),
		WriteTimeout: n.cfg.GetWriteTimeout(),
		IdleTimeout:  n.cfg.GetIdleTimeout(),
	}, handler, n.logger)

	if err := srv.Start(context.Background()); err != nil {
		return "", err
	}
	n.OnClose(srv.Close)
	return n.bind(srv.Addr())
}

// bind records the advertised form of a bound listener address.
func (n *Node) bind(bound string) (string, error) {
	addr, err := advertiseAddr(n.cfg.Node, bound)
	if err != nil {
		return "", err
	}
	n.addr = addr
	return addr, nil
}

// Announce keeps desc visible at the node's address for as long as Run runs.
func (n *Node) Announce(desc device.Description) error {
	if n.addr == "" {
		return ErrNotServing
	}
	a, err := discovery.NewAnnouncer(n.backend, desc, n.addr, discovery.AnnouncerConfig{
		TTL:      n.cfg.Discovery.TTL.Std(),
		Interval: n.cfg.Discovery.AnnounceEvery(),
	}, n.logger)
	if err != nil {
		return err
	}
	n.self = desc
	n.announcers = append(n.announcers, a)
	return nil
}

// Browse feeds announcements for role into the registry. An empty role
// browses everything. The node's own announcement is skipped.
func (n *Node) Browse(role device.Role) {
	n.browsers = append(n.browsers, discovery.NewBrowser(n.backend, n.registry, discovery.BrowserConfig{
		Role:         role,
		RestartDelay: n.cfg.Discovery.RestartDelay.Std(),
		Self:         device.Key{ID: n.self.ID, Role: n.self.Role},
	}, n.logger))
}

// Go adds a task that runs alongside discovery. A task that fails stops the
// node.
func (n *Node) Go(task func(ctx context.Context) error) {
	n.tasks = append(n.tasks, task)
}

// OnClose registers fn to run when the node closes, in reverse order of
// registration.
func (n *Node) OnClose(fn func() error) {
	n.closers = append(n.closers, fn)
}

// Run runs announcers, browsers, the registry sweeper and every task until
// ctx is cancelled or one of them fails, then closes the node.
func (n *Node) Run(ctx context.Context) error {
	defer n.Close() //nolint:errcheck // close errors are logged

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range n.announcers {
		g.Go(func() error { return a.Run(gctx) })
	}
	for _, b := range n.browsers {
		g.Go(func() error { return b.Run(gctx) })
	}
	if len(n.browsers) > 0 {
		g.Go(func() error {
			registry.RunSweeper(gctx, n.registry, n.cfg.Controller.SweepInterval.Std())
			return nil
		})
	}
	for _, task := range n.tasks {
		g.Go(func() error { return task(gctx) })
	}

	n.logger.Info("node running", "address", n.addr, "announcers", len(n.announcers), "browsers", len(n.browsers))
	err := g.Wait()
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		err = nil
	}
	return err
}

// Close releases everything the node opened. It is safe to call more than
// once.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		var errs []error
		for i := len(n.closers) - 1; i >= 0; i-- {
			if err := n.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		if n.ownsBackend && n.backend != nil {
			if err := n.backend.Close(); err != nil && !errors.Is(err, discovery.ErrBackendClosed) {
				errs = append(errs, err)
			}
		}
		if n.mqtt != nil {
			if err := n.mqtt.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		n.closeErr = errors.Join(errs...)
		if n.closeErr != nil {
			n.logger.Warn("node closed with errors", "error", n.closeErr)
		} else {
			n.logger.Info("node closed")
		}
	})
	return n.closeErr
}
