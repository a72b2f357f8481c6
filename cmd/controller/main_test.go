package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("FIELDMESH_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, nil); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_InvalidStore verifies run fails when the store backend is unknown.
func TestRun_InvalidStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "store:\n  backend: etcd\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, []string{"-config", path}); err == nil {
		t.Fatal("run() should fail with an unknown store backend")
	}
}

// TestRun_ShutsDownOnCancel starts the controller on an ephemeral port and
// stops it.
func TestRun_ShutsDownOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "discovery:\n  backend: local\nlogging:\n  level: error\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx, []string{"-config", path, "-port", "0"}); err != nil {
		t.Fatalf("run() = %v, want clean shutdown", err)
	}
}
