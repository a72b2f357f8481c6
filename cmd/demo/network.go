package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/nerrad567/fieldmesh/internal/infrastructure/config"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/logging"
	"github.com/nerrad567/fieldmesh/internal/node"
	"github.com/nerrad567/fieldmesh/internal/process"
	"github.com/nerrad567/fieldmesh/internal/transport"
)

// binDir returns where the component binaries live: demo.bin_dir, or the
// directory holding this executable.
func binDir(cfg config.DemoConfig) (string, error) {
	if cfg.BinDir != "" {
		return cfg.BinDir, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating demo binary: %w", err)
	}
	return filepath.Dir(exe), nil
}

// childConfig builds the supervisor settings for one component binary.
func childConfig(cfg *config.Config, c component, dir, configPath, pairID string, health process.HealthChecker) process.Config {
	port := c.port(cfg.Demo)
	args := []string{"-mode", config.ModeNetwork, "-port", strconv.Itoa(port)}
	if configPath != "" {
		args = append(args, "-config", configPath)
	}

	pc := process.DefaultConfig(c.name, filepath.Join(dir, c.name), args)
	pc.FatalExitCodes = []int{node.ExitConfig}

	env := []string{}
	if c.paired {
		env = append(env, "FIELDMESH_NODE_ID="+pairID)
	}
	// The in-process bus cannot reach other processes.
	if cfg.Discovery.Backend == config.BackendLocal {
		env = append(env, "FIELDMESH_DISCOVERY_BACKEND="+config.BackendMulticast)
	}
	pc.Env = env

	pc.HealthCheck = process.HTTPHealth(health, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	return pc
}

// runNetwork supervises the component binaries until ctx is cancelled.
func runNetwork(ctx context.Context, cfg *config.Config, configPath, pairID string, log *logging.Logger) error {
	dir, err := binDir(cfg.Demo)
	if err != nil {
		return err
	}

	client := transport.NewClient(transport.WithTimeout(cfg.Controller.CallTimeout.Std()))
	group := process.NewGroup(log)
	for _, c := range components {
		group.Add(childConfig(cfg, c, dir, configPath, pairID, client))
	}

	if err := group.Start(ctx); err != nil {
		return err
	}
	log.Info("demo running",
		"bin_dir", dir,
		"controller", "http://"+net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Demo.ControllerPort)),
	)

	<-ctx.Done()
	log.Info("stopping components")
	if err := group.Stop(); err != nil {
		return err
	}
	for _, s := range group.Stats() {
		log.Info("component stopped", "component", s.Name, "restarts", s.RestartCount)
	}
	return nil
}
