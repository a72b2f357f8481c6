// fieldmesh sensor
//
// A temperature sensor that answers GET /datum by reading through the
// environment it discovers. Set node.id (FIELDMESH_NODE_ID) to pair it
// with an actuator of the same id.
//
// Usage:
//
//	sensor [-config path] [-mode local|network] [-port n]
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
		Service:     "sensor",
		Build:       node.NewSensor,
		DefaultPort: func(d config.DemoConfig) int { return d.SensorPort },
	}
	return cmd.Run(ctx, args, node.BuildInfo{Version: version, Commit: commit, Date: date})
}
