// fieldmesh controller
//
// Discovers sensors and actuators, polls every live sensor each cycle,
// applies the per-model policy and dispatches the resulting commands. It
// also serves the latest readings, the device table, runtime metrics and a
// WebSocket feed of loop events.
//
// Usage:
//
//	controller [-config path] [-mode local|network] [-port n]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/fieldmesh/internal/infrastructure/config"
	"github.com/nerrad567/fieldmesh/internal/node"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

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
	cmd := node.Command{
		Service:     "controller",
		Build:       node.NewController,
		DefaultPort: func(d config.DemoConfig) int { return d.ControllerPort },
	}
	return cmd.Run(ctx, args, node.BuildInfo{Version: version, Commit: commit, Date: date})
}
