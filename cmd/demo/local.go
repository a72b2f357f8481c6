package main

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/fieldmesh/internal/discovery"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/config"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/logging"
	"github.com/nerrad567/fieldmesh/internal/node"
)

// localConfig derives one component's configuration from the demo's.
func localConfig(base *config.Config, c component, pairID string) *config.Config {
	cfg := *base
	cfg.Node.Port = c.port(base.Demo)
	cfg.Node.ID = ""
	if c.paired {
		cfg.Node.ID = pairID
	}
	return &cfg
}

// runLocal runs every component in this process on one discovery bus.
func runLocal(ctx context.Context, cfg *config.Config, pairID string, log *logging.Logger) error {
	bus := discovery.NewBus()
	defer func() {
		log.Info("closing discovery bus")
		bus.Close() //nolint:errcheck // nodes are already stopped
	}()

	nodes := make([]*node.Node, 0, len(components))
	closeAll := func() {
		for _, n := range nodes {
			n.Close() //nolint:errcheck // Best effort cleanup on error path
		}
	}

	for _, c := range components {
		n, err := c.build(ctx, localConfig(cfg, c, pairID), log, node.WithBackend(bus), node.WithVersion(version))
		if err != nil {
			closeAll()
			return err
		}
		log.Info("component started", "component", c.name, "address", n.Addr(), "device_id", n.Description().ID)
		nodes = append(nodes, n)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, n := range nodes {
		g.Go(func() error { return n.Run(gctx) })
	}
	log.Info("demo running", "controller", "http://"+nodes[len(nodes)-1].Addr())

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("demo stopped")
	return nil
}
