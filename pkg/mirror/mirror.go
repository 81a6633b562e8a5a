// Package mirror implements the one-way directory synchronization pass: it
// makes the destination tree reflect the source tree, copying new and changed
// files and optionally deleting destination entries that no longer exist in
// the source.
package mirror

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/multierr"

	"github.com/dirmirror/dirmirror/pkg/config"
	"github.com/dirmirror/dirmirror/pkg/filespec"
	"github.com/dirmirror/dirmirror/pkg/pathtrash"
	"github.com/dirmirror/dirmirror/pkg/plog"
	"github.com/dirmirror/dirmirror/pkg/pool"
	"github.com/dirmirror/dirmirror/pkg/util"
)

// Mirrorer executes mirror passes for one validated source/destination pair.
// A Mirrorer is built once and reused across passes; all per-pass state lives
// in Run.
type Mirrorer struct {
	source         string
	dest           string
	deleteFromDest bool
	dryRun         bool
	modTimeWindow  time.Duration

	fileRules *filterRules
	dirRules  *filterRules

	deleteExcludeFiles *filespec.Set
	deleteExcludeDirs  *filespec.Set

	// foldNameCase controls whether lookup keys fold letter case. On a
	// case-sensitive filesystem distinct sibling names may differ only in
	// case, so folding there would conflate real entries.
	foldNameCase bool

	reserved   map[string]struct{}
	bufferPool *pool.FixedBufferPool
	metrics    Metrics

	trashEnabled bool
	trashDir     string
	trashFormat  pathtrash.Format

	// trash is the current pass's archive, opened lazily on the first
	// deletion and closed at the end of the pass.
	trash *pathtrash.Archive
}

// New builds a Mirrorer from a validated configuration. The pattern lists are
// compiled here once so passes only match.
func New(cfg config.Config, metrics Metrics) (*Mirrorer, error) {
	if metrics == nil {
		metrics = &NoopMetrics{}
	}

	excludeFiles, err := filespec.CompileSet(cfg.ExcludeFiles)
	if err != nil {
		return nil, fmt.Errorf("invalid excludeFiles: %w", err)
	}
	includeFiles, err := filespec.CompileSet(cfg.IncludeFiles)
	if err != nil {
		return nil, fmt.Errorf("invalid includeFiles: %w", err)
	}
	excludeDirs, err := filespec.CompileSet(cfg.ExcludeDirs)
	if err != nil {
		return nil, fmt.Errorf("invalid excludeDirs: %w", err)
	}
	includeDirs, err := filespec.CompileSet(cfg.IncludeDirs)
	if err != nil {
		return nil, fmt.Errorf("invalid includeDirs: %w", err)
	}
	deleteExcludeFiles, err := filespec.CompileSet(cfg.DeleteExcludeFiles)
	if err != nil {
		return nil, fmt.Errorf("invalid deleteExcludeFiles: %w", err)
	}
	deleteExcludeDirs, err := filespec.CompileSet(cfg.DeleteExcludeDirs)
	if err != nil {
		return nil, fmt.Errorf("invalid deleteExcludeDirs: %w", err)
	}

	reserved := make(map[string]struct{})
	for _, name := range config.SystemReservedFileNames() {
		reserved[util.NameKey(name)] = struct{}{}
	}

	m := &Mirrorer{
		source:         cfg.Source,
		dest:           cfg.Dest,
		deleteFromDest: cfg.DeleteFromDest,
		dryRun:         cfg.Runtime.DryRun,
		modTimeWindow:  time.Duration(cfg.ModTimeWindowSeconds) * time.Second,
		fileRules: &filterRules{
			excludeHidden: cfg.ExcludeHidden,
			exclude:       excludeFiles,
			include:       includeFiles,
		},
		dirRules: &filterRules{
			excludeHidden: cfg.ExcludeHidden,
			exclude:       excludeDirs,
			include:       includeDirs,
		},
		deleteExcludeFiles: deleteExcludeFiles,
		deleteExcludeDirs:  deleteExcludeDirs,
		foldNameCase:       util.IsHostCaseInsensitiveFS(),
		reserved:           reserved,
		bufferPool:         pool.NewFixedBuffer(int64(cfg.BufferSizeKB) * 1024),
		metrics:            metrics,
		trashEnabled:       cfg.Trash.Enabled,
		trashDir:           cfg.Trash.Dir,
	}
	if cfg.Trash.Enabled {
		format, err := pathtrash.FormatFromString(cfg.Trash.Format)
		if err != nil {
			return nil, err
		}
		m.trashFormat = format
	}
	return m, nil
}

// Run executes a single mirror pass. A pass either completes or fails as a
// whole; the first filesystem error aborts the traversal and is returned. The
// context is only consulted before work starts, an in-flight pass always runs
// to completion or first error.
func (m *Mirrorer) Run(ctx context.Context) (retErr error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := os.Stat(m.source); err != nil {
		return fmt.Errorf("source directory is not accessible: %w", err)
	}

	m.trash = nil
	defer func() {
		if m.trash == nil {
			return
		}
		count := m.trash.Count()
		trashPath := m.trash.Path()
		if err := m.trash.Close(); err != nil {
			retErr = multierr.Append(retErr, fmt.Errorf("failed to finish trash archive: %w", err))
			return
		}
		if count > 0 {
			plog.Info("Archived deleted entries to trash", "archive", trashPath, "entries", count)
		}
		m.trash = nil
	}()

	return m.syncDir(m.source, m.dest)
}

// trashArchive returns the pass's trash archive, creating it on first use.
func (m *Mirrorer) trashArchive() (*pathtrash.Archive, error) {
	if m.trash != nil {
		return m.trash, nil
	}
	archive, err := pathtrash.Create(m.trashDir, m.trashFormat, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	m.trash = archive
	return archive, nil
}

// preserveFile copies a destination file into the trash archive before it is
// deleted. No-op when trash is disabled or in dry-run mode.
func (m *Mirrorer) preserveFile(absPath string) error {
	if !m.trashEnabled || m.dryRun {
		return nil
	}
	archive, err := m.trashArchive()
	if err != nil {
		return err
	}
	buf := m.bufferPool.Get()
	defer m.bufferPool.Put(buf)
	return archive.AddFile(absPath, m.trashKey(absPath), *buf)
}

// preserveTree archives a destination subtree before it is deleted.
func (m *Mirrorer) preserveTree(absPath string) error {
	if !m.trashEnabled || m.dryRun {
		return nil
	}
	archive, err := m.trashArchive()
	if err != nil {
		return err
	}
	buf := m.bufferPool.Get()
	defer m.bufferPool.Put(buf)
	return archive.AddTree(absPath, m.trashKey(absPath), *buf)
}

// nameKey maps an entry name to its lookup-table key. Pattern matching stays
// case-insensitive regardless (the filespec contract); only entry identity
// follows the host filesystem.
func (m *Mirrorer) nameKey(name string) string {
	if m.foldNameCase {
		return util.NameKey(name)
	}
	return name
}

// trashKey maps a destination path to its archive member name.
func (m *Mirrorer) trashKey(absPath string) string {
	rel, err := filepath.Rel(m.dest, absPath)
	if err != nil || rel == "." {
		return path.Base(util.NormalizePath(absPath))
	}
	return util.NormalizePath(rel)
}
