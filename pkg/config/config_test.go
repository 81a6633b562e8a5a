package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dirmirror/dirmirror/pkg/plog"
)

func TestMain(m *testing.M) {
	plog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// validConfig returns a configuration that passes Validate, backed by real
// temporary directories.
func validConfig(t *testing.T) Config {
	t.Helper()
	cfg := NewDefault()
	cfg.Source = t.TempDir()
	cfg.Dest = filepath.Join(t.TempDir(), "mirror")
	return cfg
}

func TestValidate(t *testing.T) {
	t.Run("valid config passes", func(t *testing.T) {
		cfg := validConfig(t)
		if err := cfg.Validate(); err != nil {
			t.Errorf("Valid config rejected: %v", err)
		}
	})

	t.Run("canonicalizes paths", func(t *testing.T) {
		cfg := validConfig(t)
		source := cfg.Source
		cfg.Source = source + string(filepath.Separator) + "." + string(filepath.Separator)
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		if cfg.Source != source {
			t.Errorf("Source not canonicalized: got %q, want %q", cfg.Source, source)
		}
	})

	t.Run("rejects non-positive interval", func(t *testing.T) {
		for _, interval := range []int{0, -5} {
			cfg := validConfig(t)
			cfg.IntervalSeconds = interval
			if err := cfg.Validate(); err == nil {
				t.Errorf("Interval %d should be rejected", interval)
			}
		}
	})

	t.Run("rejects empty paths", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Source = "  "
		if err := cfg.Validate(); err == nil {
			t.Error("Blank source should be rejected")
		}

		cfg = validConfig(t)
		cfg.Dest = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Empty dest should be rejected")
		}
	})

	t.Run("rejects identical source and dest", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Dest = cfg.Source
		if err := cfg.Validate(); err == nil {
			t.Error("Identical source and dest should be rejected")
		}
	})

	t.Run("rejects nested source and dest", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Dest = filepath.Join(cfg.Source, "mirror")
		if err := cfg.Validate(); err == nil {
			t.Error("Dest inside source should be rejected")
		}

		cfg = validConfig(t)
		base := t.TempDir()
		cfg.Dest = base
		cfg.Source = filepath.Join(base, "data")
		if err := os.Mkdir(cfg.Source, 0o755); err != nil {
			t.Fatalf("Failed to create source: %v", err)
		}
		if err := cfg.Validate(); err == nil {
			t.Error("Source inside dest should be rejected")
		}
	})

	t.Run("sibling with common prefix is not containment", func(t *testing.T) {
		base := t.TempDir()
		cfg := NewDefault()
		cfg.Source = filepath.Join(base, "data")
		cfg.Dest = filepath.Join(base, "data2")
		if err := os.Mkdir(cfg.Source, 0o755); err != nil {
			t.Fatalf("Failed to create source: %v", err)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Sibling paths sharing a name prefix should pass: %v", err)
		}
	})

	t.Run("rejects missing source", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Source = filepath.Join(cfg.Source, "does-not-exist")
		if err := cfg.Validate(); err == nil {
			t.Error("Missing source should be rejected")
		}
	})

	t.Run("rejects file as source", func(t *testing.T) {
		cfg := validConfig(t)
		sourceFile := filepath.Join(cfg.Source, "file.txt")
		if err := os.WriteFile(sourceFile, []byte("x"), 0o644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
		cfg.Source = sourceFile
		if err := cfg.Validate(); err == nil {
			t.Error("Source pointing at a file should be rejected")
		}
	})

	t.Run("rejects include and exclude on the same axis", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.ExcludeFiles = []string{"*.tmp"}
		cfg.IncludeFiles = []string{"*.txt"}
		if err := cfg.Validate(); err == nil {
			t.Error("excludeFiles together with includeFiles should be rejected")
		}

		cfg = validConfig(t)
		cfg.ExcludeDirs = []string{"cache"}
		cfg.IncludeDirs = []string{"data"}
		if err := cfg.Validate(); err == nil {
			t.Error("excludeDirs together with includeDirs should be rejected")
		}
	})

	t.Run("mixed axes are allowed", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.ExcludeFiles = []string{"*.tmp"}
		cfg.IncludeDirs = []string{"data"}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Exclude on one axis with include on the other should pass: %v", err)
		}
	})

	t.Run("rejects delete exclusions without deleteFromDest", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.DeleteExcludeFiles = []string{"*.pdf"}
		if err := cfg.Validate(); err == nil {
			t.Error("deleteExcludeFiles without deleteFromDest should be rejected")
		}

		cfg.DeleteFromDest = true
		if err := cfg.Validate(); err != nil {
			t.Errorf("deleteExcludeFiles with deleteFromDest should pass: %v", err)
		}
	})

	t.Run("rejects blank pattern", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.ExcludeFiles = []string{"  "}
		if err := cfg.Validate(); err == nil {
			t.Error("Blank filespec should be rejected")
		}
	})

	t.Run("rejects bad numeric settings", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.ModTimeWindowSeconds = -1
		if err := cfg.Validate(); err == nil {
			t.Error("Negative modTimeWindowSeconds should be rejected")
		}

		cfg = validConfig(t)
		cfg.BufferSizeKB = 0
		if err := cfg.Validate(); err == nil {
			t.Error("Zero bufferSizeKB should be rejected")
		}
	})

	t.Run("trash settings", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Trash.Enabled = true
		cfg.Trash.Dir = t.TempDir()
		if err := cfg.Validate(); err != nil {
			t.Errorf("Valid trash config rejected: %v", err)
		}

		cfg = validConfig(t)
		cfg.Trash.Enabled = true
		cfg.Trash.Dir = t.TempDir()
		cfg.Trash.Format = "zip"
		if err := cfg.Validate(); err == nil {
			t.Error("Unknown trash format should be rejected")
		}

		cfg = validConfig(t)
		cfg.Trash.Enabled = true
		cfg.Trash.Dir = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Empty trash dir should be rejected when trash is enabled")
		}

		cfg = validConfig(t)
		cfg.Trash.Enabled = true
		cfg.Trash.Dir = filepath.Join(cfg.Dest, "trash")
		if err := cfg.Validate(); err == nil {
			t.Error("Trash dir inside the destination should be rejected")
		}
	})
}

func TestLoadAndGenerate(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), ConfigFileName))
		if err != nil {
			t.Fatalf("Load of missing file should not error: %v", err)
		}
		if cfg.IntervalSeconds != 300 {
			t.Errorf("Default interval = %d, want 300", cfg.IntervalSeconds)
		}
		if cfg.ModTimeWindowSeconds != 1 {
			t.Errorf("Default mod time window = %d, want 1", cfg.ModTimeWindowSeconds)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ConfigFileName)
		cfg := NewDefault()
		cfg.Source = "/data/src"
		cfg.Dest = "/data/dst"
		cfg.ExcludeFiles = []string{"*.tmp", "~*"}
		cfg.DeleteFromDest = true

		if err := Generate(cfg, path); err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		loaded, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if loaded.Source != cfg.Source || loaded.Dest != cfg.Dest {
			t.Errorf("Paths not preserved: got %q -> %q", loaded.Source, loaded.Dest)
		}
		if len(loaded.ExcludeFiles) != 2 || loaded.ExcludeFiles[0] != "*.tmp" {
			t.Errorf("ExcludeFiles not preserved: %v", loaded.ExcludeFiles)
		}
		if !loaded.DeleteFromDest {
			t.Error("DeleteFromDest not preserved")
		}
	})

	t.Run("corrupt file fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ConfigFileName)
		if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
			t.Fatalf("Failed to write corrupt file: %v", err)
		}
		if _, err := Load(path); err == nil {
			t.Error("Corrupt config file should fail to load")
		}
	})
}

func TestMergeWithFlags(t *testing.T) {
	base := NewDefault()
	base.Source = "/from/file"
	base.IntervalSeconds = 600

	merged := MergeWithFlags(base, map[string]any{
		"source":           "/from/flag",
		"interval":         60,
		"delete-from-dest": true,
		"exclude-files":    []string{"*.log"},
		"dry-run":          true,
	})

	if merged.Source != "/from/flag" {
		t.Errorf("Flag should override source, got %q", merged.Source)
	}
	if merged.IntervalSeconds != 60 {
		t.Errorf("Flag should override interval, got %d", merged.IntervalSeconds)
	}
	if !merged.DeleteFromDest {
		t.Error("Flag should enable deleteFromDest")
	}
	if len(merged.ExcludeFiles) != 1 || merged.ExcludeFiles[0] != "*.log" {
		t.Errorf("Flag should set excludeFiles, got %v", merged.ExcludeFiles)
	}
	if !merged.Runtime.DryRun {
		t.Error("Flag should enable dry run")
	}

	// Unset flags keep the base values.
	if merged.Dest != base.Dest {
		t.Errorf("Unset flag must not touch dest, got %q", merged.Dest)
	}
	if merged.LogLevel != base.LogLevel {
		t.Errorf("Unset flag must not touch log level, got %q", merged.LogLevel)
	}
}

func TestParseList(t *testing.T) {
	got := ParseList(" *.tmp, *.log ,, *.tmp ")
	want := []string{"*.tmp", "*.log"}
	if len(got) != len(want) {
		t.Fatalf("ParseList = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ParseList[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if got := ParseList("  "); len(got) != 0 {
		t.Errorf("Blank input should yield empty list, got %v", got)
	}
}

func TestSystemReservedFileNames(t *testing.T) {
	names := SystemReservedFileNames()
	if len(names) != 3 {
		t.Fatalf("Expected 3 reserved names, got %v", names)
	}
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			t.Error("Reserved name must not be blank")
		}
	}
}
