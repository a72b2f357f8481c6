package node

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/nerrad567/fieldmesh/internal/infrastructure/config"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/logging"
)

// ConfigEnv names the environment variable holding the default config path.
const ConfigEnv = "FIELDMESH_CONFIG"

// ExitConfig is the exit status for a rejected configuration (EX_CONFIG).
// Supervisors treat it as fatal since a restart would fail the same way.
const ExitConfig = 78

// ErrConfig wraps every flag or configuration failure.
var ErrConfig = errors.New("loading config")

// ExitCode maps the error returned by Run to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, ErrConfig):
		return ExitConfig
	default:
		return 1
	}
}

// Builder constructs a node that is listening and ready to Run.
type Builder func(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts ...Option) (*Node, error)

// BuildInfo is stamped into each binary with ldflags.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// Flags are the command-line options shared by every binary.
type Flags struct {
	ConfigPath string
	Mode       string
	Port       int

	portSet bool
}

// ParseFlags parses args (without the program name). -config defaults to
// $FIELDMESH_CONFIG.
func ParseFlags(name string, args []string) (Flags, error) {
	var f Flags
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&f.ConfigPath, "config", os.Getenv(ConfigEnv), "path to the YAML configuration file")
	fs.StringVar(&f.Mode, "mode", "", "run mode, local or network (overrides node.mode)")
	fs.IntVar(&f.Port, "port", 0, "listen port (overrides node.port)")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	fs.Visit(func(fl *flag.Flag) {
		if fl.Name == "port" {
			f.portSet = true
		}
	})
	return f, nil
}

// LoadConfig loads the configuration and applies the flags on top. When
// neither the flag nor the configuration picked a port, defaultPort chooses
// one so that the binaries can share a host without colliding.
func (f Flags) LoadConfig(defaultPort func(config.DemoConfig) int) (*config.Config, error) {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return nil, err
	}

	if f.Mode != "" {
		cfg.Node.Mode = f.Mode
	}
	switch {
	case f.portSet:
		cfg.Node.Port = f.Port
	case defaultPort != nil && cfg.Node.Port == config.Default().Node.Port:
		cfg.Node.Port = defaultPort(cfg.Demo)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Command is the whole lifecycle of a single-component binary.
type Command struct {
	Service     string
	Build       Builder
	DefaultPort func(config.DemoConfig) int
}

// Run parses args, builds the node and runs it until ctx is cancelled.
func (c Command) Run(ctx context.Context, args []string, info BuildInfo) error {
	log := logging.Default(c.Service)
	log.Info("starting fieldmesh "+c.Service,
		"version", info.Version,
		"commit", info.Commit,
		"build_date", info.Date,
	)

	flags, err := ParseFlags(c.Service, args)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	cfg, err := flags.LoadConfig(c.DefaultPort)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}

	log = logging.New(cfg.Logging, c.Service, info.Version)
	log.Info("configuration loaded",
		"path", flags.ConfigPath,
		"mode", cfg.Node.Mode,
		"port", cfg.Node.Port,
		"discovery", cfg.Discovery.Backend,
	)

	n, err := c.Build(ctx, cfg, log, WithVersion(info.Version))
	if err != nil {
		return fmt.Errorf("starting %s: %w", c.Service, err)
	}
	log.Info(c.Service+" online", "address", n.Addr(), "device_id", n.Description().ID)

	if err := n.Run(ctx); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
