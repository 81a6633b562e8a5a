package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dirmirror/dirmirror/pkg/config"
	"github.com/dirmirror/dirmirror/pkg/plog"
)

func TestMain(m *testing.M) {
	plog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func TestRunInitGeneratesConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), config.ConfigFileName)

	err := runInit(configPath, map[string]any{
		"source":           "/data/src",
		"dest":             "/data/dst",
		"delete-from-dest": true,
	})
	if err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	loaded, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Generated config does not load: %v", err)
	}
	if loaded.Source != "/data/src" || loaded.Dest != "/data/dst" {
		t.Errorf("Generated paths = %q -> %q, want flag values", loaded.Source, loaded.Dest)
	}
	if !loaded.DeleteFromDest {
		t.Error("Generated config should carry deleteFromDest from the flag")
	}
	if loaded.IntervalSeconds != 300 {
		t.Errorf("Generated interval = %d, want default 300", loaded.IntervalSeconds)
	}
}

func TestRunServiceRejectsInvalidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), config.ConfigFileName)

	// No source/dest anywhere, validation must stop the service before any
	// filesystem work.
	err := runService(context.Background(), configPath, map[string]any{"once": true})
	if err == nil {
		t.Error("runService without source and dest should fail validation")
	}
}

func TestRunServiceIdlesOnInvalidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), config.ConfigFileName)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		// Service mode with a config that cannot validate: the process must
		// stay up without scheduling a pass until it is told to shut down.
		done <- runService(ctx, configPath, map[string]any{})
	}()

	select {
	case err := <-done:
		t.Fatalf("runService returned early with err = %v, should idle until shutdown", err)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Idle service should shut down cleanly, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runService did not return after shutdown")
	}
}

func TestRunServiceOnce(t *testing.T) {
	source := t.TempDir()
	if err := os.WriteFile(filepath.Join(source, "a.txt"), []byte("alpha"), 0o644); err != nil {
		t.Fatalf("Failed to seed source: %v", err)
	}
	dest := filepath.Join(t.TempDir(), "mirror")

	err := runService(context.Background(), filepath.Join(t.TempDir(), config.ConfigFileName), map[string]any{
		"source": source,
		"dest":   dest,
		"once":   true,
	})
	if err != nil {
		t.Fatalf("runService -once failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	if err != nil {
		t.Fatalf("Mirrored file missing: %v", err)
	}
	if string(data) != "alpha" {
		t.Errorf("Mirrored content = %q, want %q", string(data), "alpha")
	}
}
