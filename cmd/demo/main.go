// fieldmesh demo
//
// Starts a complete fabric: the environment, one sensor and actuator pair
// sharing a fresh id, and the controller.
//
//   - local mode runs every component in this process on an in-process
//     discovery bus.
//   - network mode supervises the four component binaries as child
//     processes, restarting them on failure and watching /health.
//
// Ports come from the demo section of the configuration (environment 5454,
// sensor 8787, actuator 9898, controller 6565 by default).
//
// Usage:
//
//	demo [-config path] [-mode local|network]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/nerrad567/fieldmesh/internal/infrastructure/config"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/logging"
	"github.com/nerrad567/fieldmesh/internal/node"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const service = "demo"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(node.ExitCode(err))
	}
}

// run is separated from main for testability.
func run(ctx context.Context, args []string) error {
	log := logging.Default(service)
	log.Info("starting fieldmesh demo",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	flags, err := node.ParseFlags(service, args)
	if err != nil {
		return fmt.Errorf("%w: %w", node.ErrConfig, err)
	}
	cfg, err := flags.LoadConfig(nil)
	if err != nil {
		return fmt.Errorf("%w: %w", node.ErrConfig, err)
	}
	log = logging.New(cfg.Logging, service, version)

	pairID := uuid.NewString()
	log.Info("configuration loaded",
		"path", flags.ConfigPath,
		"mode", cfg.Node.Mode,
		"device_id", pairID,
	)

	if cfg.Node.Mode == config.ModeNetwork {
		return runNetwork(ctx, cfg, flags.ConfigPath, pairID, log)
	}
	return runLocal(ctx, cfg, pairID, log)
}

// component is one member of the demo fabric.
type component struct {
	name  string
	build node.Builder
	port  func(config.DemoConfig) int
	// paired components take the shared sensor/actuator id.
	paired bool
}

// components lists the fabric in start order: upstream first.
var components = []component{
	{"environment", node.NewEnvironment, func(d config.DemoConfig) int { return d.EnvironmentPort }, false},
	{"sensor", node.NewSensor, func(d config.DemoConfig) int { return d.SensorPort }, true},
	{"actuator", node.NewActuator, func(d config.DemoConfig) int { return d.ActuatorPort }, true},
	{"controller", node.NewController, func(d config.DemoConfig) int { return d.ControllerPort }, false},
}
