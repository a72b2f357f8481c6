package node

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/nerrad567/fieldmesh/internal/infrastructure/config"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/logging"
)

func sensorPort(d config.DemoConfig) int { return d.SensorPort }

func TestParseFlags(t *testing.T) {
	t.Setenv(ConfigEnv, "/etc/fieldmesh.yaml")

	tests := []struct {
		name     string
		args     []string
		wantPath string
		wantMode string
		wantPort int
		wantSet  bool
	}{
		{"defaults", nil, "/etc/fieldmesh.yaml", "", 0, false},
		{"all flags", []string{"-config", "x.yaml", "-mode", "network", "-port", "9000"}, "x.yaml", "network", 9000, true},
		{"explicit zero port", []string{"-port", "0"}, "/etc/fieldmesh.yaml", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFlags("test", tt.args)
			if err != nil {
				t.Fatalf("ParseFlags: %v", err)
			}
			if f.ConfigPath != tt.wantPath || f.Mode != tt.wantMode || f.Port != tt.wantPort || f.portSet != tt.wantSet {
				t.Errorf("flags = %+v", f)
			}
		})
	}

	if _, err := ParseFlags("test", []string{"-port", "eighty"}); err == nil {
		t.Error("ParseFlags accepted a non-numeric port")
	}
}

func TestFlags_LoadConfig(t *testing.T) {
	dir := t.TempDir()
	withPort := filepath.Join(dir, "port.yaml")
	if err := os.WriteFile(withPort, []byte("node:\n  port: 7000\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	tests := []struct {
		name     string
		flags    Flags
		wantMode string
		wantPort int
		wantErr  bool
	}{
		{"component default port", Flags{}, config.ModeLocal, 8787, false},
		{"file port wins over component default", Flags{ConfigPath: withPort}, config.ModeLocal, 7000, false},
		{"flag wins over file", Flags{ConfigPath: withPort, Port: 7100, portSet: true}, config.ModeLocal, 7100, false},
		{"mode flag", Flags{Mode: config.ModeNetwork}, config.ModeNetwork, 8787, false},
		{"bad mode", Flags{Mode: "orbit"}, "", 0, true},
		{"missing file", Flags{ConfigPath: filepath.Join(dir, "absent.yaml")}, "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := tt.flags.LoadConfig(sensorPort)
			if tt.wantErr {
				if err == nil {
					t.Fatal("LoadConfig succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadConfig: %v", err)
			}
			if cfg.Node.Mode != tt.wantMode || cfg.Node.Port != tt.wantPort {
				t.Errorf("mode=%q port=%d, want %q %d", cfg.Node.Mode, cfg.Node.Port, tt.wantMode, tt.wantPort)
			}
		})
	}
}

func TestCommand_RunReportsBuildFailure(t *testing.T) {
	boom := errors.New("boom")
	cmd := Command{
		Service: "test",
		Build: func(context.Context, *config.Config, *logging.Logger, ...Option) (*Node, error) {
			return nil, boom
		},
	}

	err := cmd.Run(context.Background(), []string{"-config", ""}, BuildInfo{Version: "test"})
	if !errors.Is(err, boom) {
		t.Errorf("Run = %v, want boom", err)
	}
}

func TestCommand_RunRejectsBadConfig(t *testing.T) {
	cmd := Command{
		Service: "test",
		Build: func(context.Context, *config.Config, *logging.Logger, ...Option) (*Node, error) {
			t.Fatal("Build called with a bad config")
			return nil, nil
		},
	}

	for _, args := range [][]string{
		{"-config", filepath.Join(t.TempDir(), "missing.yaml")},
		{"-no-such-flag"},
	} {
		err := cmd.Run(context.Background(), args, BuildInfo{})
		if !errors.Is(err, ErrConfig) {
			t.Errorf("Run(%v) = %v, want ErrConfig", args, err)
		}
		if got := ExitCode(err); got != ExitConfig {
			t.Errorf("ExitCode(%v) = %d, want %d", err, got, ExitConfig)
		}
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"help", fmt.Errorf("%w: %w", ErrConfig, flag.ErrHelp), 0},
		{"config", fmt.Errorf("%w: bad port", ErrConfig), ExitConfig},
		{"runtime", errors.New("listener closed"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
