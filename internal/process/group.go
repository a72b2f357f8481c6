package process

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultReadyTimeout bounds how long Group.Start waits for each child to
// pass its first health check.
const DefaultReadyTimeout = 15 * time.Second

const readyPollInterval = 100 * time.Millisecond

// HealthChecker probes a component's /health. *transport.Client implements it.
type HealthChecker interface {
	Health(ctx context.Context, addr string) error
}

// HTTPHealth adapts a HealthChecker to Config.HealthCheck for addr.
func HTTPHealth(checker HealthChecker, addr string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return checker.Health(ctx, addr)
	}
}

// Group starts children in order and stops them in reverse.
type Group struct {
	logger       Logger
	readyTimeout time.Duration
	managers     []*Manager
}

// NewGroup creates an empty Group.
func NewGroup(logger Logger) *Group {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Group{logger: logger, readyTimeout: DefaultReadyTimeout}
}

// SetReadyTimeout overrides DefaultReadyTimeout.
func (g *Group) SetReadyTimeout(d time.Duration) {
	if d > 0 {
		g.readyTimeout = d
	}
}

// Add registers a child. Children start in the order they were added.
func (g *Group) Add(cfg Config) *Manager {
	m := NewManager(cfg)
	m.SetLogger(g.logger)
	g.managers = append(g.managers, m)
	return m
}

// Managers returns the children in start order.
func (g *Group) Managers() []*Manager {
	return append([]*Manager(nil), g.managers...)
}

// Start launches every child. A child with a health check must pass it
// before the next one starts. On failure the children already started are
// stopped.
func (g *Group) Start(ctx context.Context) error {
	for i, m := range g.managers {
		err := m.Start(ctx)
		if err == nil {
			err = g.waitReady(ctx, m)
		}
		if err != nil {
			g.stop(g.managers[:i+1])
			return fmt.Errorf("starting %s: %w", m.Name(), err)
		}
		g.logger.Info("component ready", "name", m.Name(), "pid", m.PID())
	}
	return nil
}

func (g *Group) waitReady(ctx context.Context, m *Manager) error {
	probe := m.config.HealthCheck
	if probe == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.readyTimeout)
	defer cancel()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		if !m.IsRunning() {
			if err := m.LastError(); err != nil {
				return fmt.Errorf("exited before becoming ready: %w", err)
			}
			return errors.New("exited before becoming ready")
		}
		if lastErr = probe(ctx); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("not ready after %s: %w", g.readyTimeout, lastErr)
		case <-ticker.C:
		}
	}
}

// Stop stops every child in reverse start order.
func (g *Group) Stop() error {
	return g.stop(g.managers)
}

func (g *Group) stop(ms []*Manager) error {
	var errs []error
	for i := len(ms) - 1; i >= 0; i-- {
		if err := ms[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping %s: %w", ms[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Stats returns every child's view in start order.
func (g *Group) Stats() []Stats {
	out := make([]Stats, len(g.managers))
	for i, m := range g.managers {
		out[i] = m.Stats()
	}
	return out
}
