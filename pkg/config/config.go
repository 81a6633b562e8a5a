package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dirmirror/dirmirror/pkg/buildinfo"
	"github.com/dirmirror/dirmirror/pkg/filespec"
	"github.com/dirmirror/dirmirror/pkg/lockfile"
	"github.com/dirmirror/dirmirror/pkg/metafile"
	"github.com/dirmirror/dirmirror/pkg/plog"
	"github.com/dirmirror/dirmirror/pkg/util"
)

// ConfigFileName is the name of the configuration file.
const ConfigFileName = "dirmirror.config.json"

// SystemReservedFileNames are files the daemon itself maintains in the
// destination root. They are never copied from the source and never deleted
// from the destination, independent of any user-configured filter axis.
func SystemReservedFileNames() []string {
	return []string{metafile.MetaFileName, lockfile.LockFileName, ConfigFileName}
}

// TrashConfig controls soft deletion: entries that mirroring would delete are
// first archived into a per-pass tarball inside Dir.
type TrashConfig struct {
	Enabled bool   `json:"enabled"`
	Dir     string `json:"dir"`
	Format  string `json:"format"` // "tar.gz" or "tar.zst"
}

// RuntimeConfig holds per-invocation settings that never live in the config file.
type RuntimeConfig struct {
	DryRun bool
	Quiet  bool
}

// Config is the full, immutable-per-pass configuration of the daemon.
type Config struct {
	Version string `json:"version"`

	// Source and Dest are the roots of the mirrored tree pair.
	Source string `json:"source"`
	Dest   string `json:"dest"`

	// IntervalSeconds is the pause between the end of one pass and the start
	// of the next. It must be positive.
	IntervalSeconds int `json:"intervalSeconds"`

	ExcludeHidden  bool `json:"excludeHidden"`
	DeleteFromDest bool `json:"deleteFromDest"`

	// Filter axes. Within a pair, include and exclude are mutually exclusive.
	// Note: omitempty is intentionally not used so that all filter fields
	// appear in the generated config file for better discoverability.
	ExcludeFiles []string `json:"excludeFiles"`
	IncludeFiles []string `json:"includeFiles"`
	ExcludeDirs  []string `json:"excludeDirs"`
	IncludeDirs  []string `json:"includeDirs"`

	// Deletion-exclusion axes, only meaningful with DeleteFromDest.
	DeleteExcludeFiles []string `json:"deleteExcludeFiles"`
	DeleteExcludeDirs  []string `json:"deleteExcludeDirs"`

	LogLevel string `json:"logLevel"`
	Metrics  bool   `json:"metrics"`

	// ModTimeWindowSeconds is the time window in seconds to consider file
	// modification times equal. Handles filesystem timestamp precision
	// differences. 0 means exact match.
	ModTimeWindowSeconds int `json:"modTimeWindowSeconds"`

	// BufferSizeKB is the size of the I/O buffer in kilobytes for file copies.
	BufferSizeKB int `json:"bufferSizeKB"`

	Trash TrashConfig `json:"trash"`

	Runtime RuntimeConfig `json:"-"` // Never added to config file
}

// NewDefault creates and returns a Config struct with sensible default values.
func NewDefault() Config {
	return Config{
		Version:              buildinfo.Version,
		IntervalSeconds:      300,
		LogLevel:             "info",
		ModTimeWindowSeconds: 1,
		BufferSizeKB:         256,
		Trash: TrashConfig{
			Format: "tar.gz",
		},
	}
}

// Load reads the configuration file at the given path, falling back to
// defaults when the file does not exist. Missing fields in the JSON file keep
// their default values.
func Load(path string) (Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDefault(), nil // Config file doesn't exist, which is a normal case.
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", path, err)
	}
	defer file.Close()

	plog.Info("Loading configuration", "path", path)
	config := NewDefault()
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&config); err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", path, err)
	}

	// NOTE: if config.Version differs from the binary version we can add a
	// migration step here.
	if config.Version != buildinfo.Version {
		config.Version = buildinfo.Version
	}
	return config, nil
}

// Generate creates or overwrites the configuration file at the given path.
func Generate(configToGenerate Config, path string) error {
	jsonData, err := json.MarshalIndent(configToGenerate, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}

	if err := os.WriteFile(path, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	plog.Info("Successfully saved config file", "path", path)
	return nil
}

// Validate checks the configuration for logical errors and inconsistencies.
// Any error returned here is fatal at startup: the scheduler must never start
// a pass against an invalid configuration. Validate also canonicalizes the
// source and destination paths in place.
func (c *Config) Validate() error {
	if c.IntervalSeconds <= 0 {
		return fmt.Errorf("intervalSeconds must be positive, got %d", c.IntervalSeconds)
	}
	if strings.TrimSpace(c.Source) == "" {
		return fmt.Errorf("source path cannot be empty")
	}
	if strings.TrimSpace(c.Dest) == "" {
		return fmt.Errorf("dest path cannot be empty")
	}

	// Clean and expand paths for canonical representation before use.
	var err error
	c.Source, err = util.ExpandPath(c.Source)
	if err != nil {
		return fmt.Errorf("could not expand source path: %w", err)
	}
	c.Source, err = filepath.Abs(filepath.Clean(c.Source))
	if err != nil {
		return fmt.Errorf("could not determine absolute source path: %w", err)
	}
	c.Dest, err = util.ExpandPath(c.Dest)
	if err != nil {
		return fmt.Errorf("could not expand dest path: %w", err)
	}
	c.Dest, err = filepath.Abs(filepath.Clean(c.Dest))
	if err != nil {
		return fmt.Errorf("could not determine absolute dest path: %w", err)
	}

	// Self-referential trees would make the mirror recurse into its own
	// output. The check is segment-aware, so /data and /data2 are unrelated.
	if c.Source == c.Dest {
		return fmt.Errorf("source and dest cannot be the same directory (%s)", c.Source)
	}
	if pathContains(c.Source, c.Dest) {
		return fmt.Errorf("dest path '%s' cannot be inside source path '%s'", c.Dest, c.Source)
	}
	if pathContains(c.Dest, c.Source) {
		return fmt.Errorf("source path '%s' cannot be inside dest path '%s'", c.Source, c.Dest)
	}

	if info, err := os.Stat(c.Source); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("source path '%s' does not exist", c.Source)
		}
		return fmt.Errorf("could not stat source path '%s': %w", c.Source, err)
	} else if !info.IsDir() {
		return fmt.Errorf("source path '%s' is not a directory", c.Source)
	}

	// Within a filter pair, include and exclude must not both be set.
	if len(c.ExcludeFiles) > 0 && len(c.IncludeFiles) > 0 {
		return fmt.Errorf("excludeFiles and includeFiles are mutually exclusive")
	}
	if len(c.ExcludeDirs) > 0 && len(c.IncludeDirs) > 0 {
		return fmt.Errorf("excludeDirs and includeDirs are mutually exclusive")
	}

	if !c.DeleteFromDest && (len(c.DeleteExcludeFiles) > 0 || len(c.DeleteExcludeDirs) > 0) {
		return fmt.Errorf("deleteExcludeFiles/deleteExcludeDirs require deleteFromDest to be enabled")
	}

	// Compile every filespec once so malformed patterns fail here, before
	// any filesystem access.
	for fieldName, patterns := range map[string][]string{
		"excludeFiles":       c.ExcludeFiles,
		"includeFiles":       c.IncludeFiles,
		"excludeDirs":        c.ExcludeDirs,
		"includeDirs":        c.IncludeDirs,
		"deleteExcludeFiles": c.DeleteExcludeFiles,
		"deleteExcludeDirs":  c.DeleteExcludeDirs,
	} {
		if _, err := filespec.CompileSet(patterns); err != nil {
			return fmt.Errorf("invalid pattern in %s: %w", fieldName, err)
		}
	}

	if c.ModTimeWindowSeconds < 0 {
		return fmt.Errorf("modTimeWindowSeconds cannot be negative")
	}
	if c.BufferSizeKB <= 0 {
		return fmt.Errorf("bufferSizeKB must be positive")
	}

	if c.Trash.Enabled {
		switch c.Trash.Format {
		case "tar.gz", "tar.zst":
		default:
			return fmt.Errorf("unknown trash format %q (expected 'tar.gz' or 'tar.zst')", c.Trash.Format)
		}
		if strings.TrimSpace(c.Trash.Dir) == "" {
			return fmt.Errorf("trash.dir cannot be empty when trash is enabled")
		}
		c.Trash.Dir, err = util.ExpandPath(c.Trash.Dir)
		if err != nil {
			return fmt.Errorf("could not expand trash dir: %w", err)
		}
		c.Trash.Dir, err = filepath.Abs(filepath.Clean(c.Trash.Dir))
		if err != nil {
			return fmt.Errorf("could not determine absolute trash dir: %w", err)
		}
		// A trash dir inside the destination would be mirrored away (or
		// deleted) by the next pass.
		if c.Trash.Dir == c.Dest || pathContains(c.Dest, c.Trash.Dir) {
			return fmt.Errorf("trash dir '%s' cannot be inside the mirrored destination '%s'", c.Trash.Dir, c.Dest)
		}
	}

	return nil
}

// pathContains reports whether child is located underneath parent.
// Both paths must already be absolute and cleaned.
func pathContains(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// LogSummary logs the effective configuration at startup.
func (c *Config) LogSummary() {
	logArgs := []interface{}{
		"log_level", c.LogLevel,
		"source", c.Source,
		"dest", c.Dest,
		"interval_seconds", c.IntervalSeconds,
		"exclude_hidden", c.ExcludeHidden,
		"delete_from_dest", c.DeleteFromDest,
		"dry_run", c.Runtime.DryRun,
		"metrics", c.Metrics,
		"mod_time_window_seconds", c.ModTimeWindowSeconds,
		"buffer_size_kb", c.BufferSizeKB,
	}
	if len(c.ExcludeFiles) > 0 {
		logArgs = append(logArgs, "exclude_files", strings.Join(c.ExcludeFiles, ","))
	}
	if len(c.IncludeFiles) > 0 {
		logArgs = append(logArgs, "include_files", strings.Join(c.IncludeFiles, ","))
	}
	if len(c.ExcludeDirs) > 0 {
		logArgs = append(logArgs, "exclude_dirs", strings.Join(c.ExcludeDirs, ","))
	}
	if len(c.IncludeDirs) > 0 {
		logArgs = append(logArgs, "include_dirs", strings.Join(c.IncludeDirs, ","))
	}
	if c.DeleteFromDest {
		if len(c.DeleteExcludeFiles) > 0 {
			logArgs = append(logArgs, "delete_exclude_files", strings.Join(c.DeleteExcludeFiles, ","))
		}
		if len(c.DeleteExcludeDirs) > 0 {
			logArgs = append(logArgs, "delete_exclude_dirs", strings.Join(c.DeleteExcludeDirs, ","))
		}
	}
	if c.Trash.Enabled {
		logArgs = append(logArgs, "trash", fmt.Sprintf("enabled (f:%s d:%s)", c.Trash.Format, c.Trash.Dir))
	}
	plog.Info("Configuration", logArgs...)
}

// MergeWithFlags overlays the values of explicitly set command-line flags onto
// a base configuration. The flagMap contains only flags the user actually set.
func MergeWithFlags(base Config, flagMap map[string]any) Config {
	merged := base

	setString := func(name string, dst *string) {
		if v, ok := flagMap[name].(string); ok {
			*dst = v
		}
	}
	setBool := func(name string, dst *bool) {
		if v, ok := flagMap[name].(bool); ok {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v, ok := flagMap[name].(int); ok {
			*dst = v
		}
	}
	setList := func(name string, dst *[]string) {
		if v, ok := flagMap[name].([]string); ok {
			*dst = v
		}
	}

	setString("source", &merged.Source)
	setString("dest", &merged.Dest)
	setInt("interval", &merged.IntervalSeconds)
	setBool("exclude-hidden", &merged.ExcludeHidden)
	setBool("delete-from-dest", &merged.DeleteFromDest)
	setList("exclude-files", &merged.ExcludeFiles)
	setList("include-files", &merged.IncludeFiles)
	setList("exclude-dirs", &merged.ExcludeDirs)
	setList("include-dirs", &merged.IncludeDirs)
	setList("delete-exclude-files", &merged.DeleteExcludeFiles)
	setList("delete-exclude-dirs", &merged.DeleteExcludeDirs)
	setString("log-level", &merged.LogLevel)
	setBool("metrics", &merged.Metrics)
	setInt("mod-time-window", &merged.ModTimeWindowSeconds)
	setInt("buffer-size-kb", &merged.BufferSizeKB)
	setBool("trash", &merged.Trash.Enabled)
	setString("trash-dir", &merged.Trash.Dir)
	setString("trash-format", &merged.Trash.Format)
	setBool("dry-run", &merged.Runtime.DryRun)
	setBool("quiet", &merged.Runtime.Quiet)

	return merged
}

// ParseList splits a comma-separated flag value into a trimmed, de-duplicated
// list. Empty items are dropped.
func ParseList(raw string) []string {
	parts := strings.Split(raw, ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return util.MergeAndDeduplicate(items)
}
