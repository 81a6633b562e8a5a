// Package scheduler drives the periodic execution of mirror passes. It owns
// the pass cadence, the skip-when-busy guard and the per-pass bookkeeping
// (destination lock, metrics, metafile).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dirmirror/dirmirror/pkg/buildinfo"
	"github.com/dirmirror/dirmirror/pkg/config"
	"github.com/dirmirror/dirmirror/pkg/lockfile"
	"github.com/dirmirror/dirmirror/pkg/metafile"
	"github.com/dirmirror/dirmirror/pkg/mirror"
	"github.com/dirmirror/dirmirror/pkg/plog"
	"github.com/dirmirror/dirmirror/pkg/util"
)

// progressInterval is how often a running pass logs its counter snapshot.
const progressInterval = 30 * time.Second

// Service runs mirror passes for one configuration at a fixed interval.
type Service struct {
	cfg      config.Config
	interval time.Duration

	// passLock guarantees that two passes never overlap. It is tried, never
	// waited on: a trigger that finds a pass running is skipped.
	passLock *semaphore.Weighted
}

// New creates a scheduler service for a validated configuration.
func New(cfg config.Config) *Service {
	return &Service{
		cfg:      cfg,
		interval: time.Duration(cfg.IntervalSeconds) * time.Second,
		passLock: semaphore.NewWeighted(1),
	}
}

// Run executes passes until the context is cancelled: one pass immediately,
// then one pass per interval. The interval is measured from the end of one
// pass to the start of the next, so slow passes never pile up. A failed pass
// is logged and scheduling continues; cancellation finishes the in-flight
// pass before returning.
func (s *Service) Run(ctx context.Context) error {
	plog.Info("Starting mirror service",
		"source", s.cfg.Source,
		"dest", s.cfg.Dest,
		"interval", s.interval,
	)

	for {
		if err := s.RunPass(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			plog.Error("Mirror pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			plog.Info("Mirror service stopped")
			return nil
		case <-time.After(s.interval):
		}
	}
}

// RunPass executes a single mirror pass. If a pass is already in flight the
// call is skipped and returns nil. Used by Run for the periodic cadence and
// directly for one-shot invocations.
func (s *Service) RunPass(ctx context.Context) error {
	if !s.passLock.TryAcquire(1) {
		plog.Warn("Previous pass still running, skipping this pass")
		return nil
	}
	defer s.passLock.Release(1)

	timestampUTC := time.Now().UTC()

	// Lock the destination against other instances mirroring into it. The
	// lock lives inside the destination, so it must exist first. Dry runs
	// touch nothing and need no lock.
	var releaseLock func()
	var destCreated bool
	if !s.cfg.Runtime.DryRun {
		if _, err := os.Lstat(s.cfg.Dest); os.IsNotExist(err) {
			destCreated = true
		}
		if err := os.MkdirAll(s.cfg.Dest, util.UserWritableDirPerms); err != nil {
			return fmt.Errorf("failed to create destination directory %s: %w", s.cfg.Dest, err)
		}
		release, err := s.acquireDestLock(ctx)
		if err != nil {
			return err
		}
		if release == nil {
			return nil // Another instance owns the destination, skip gracefully.
		}
		releaseLock = release
		defer releaseLock()
	}

	metrics := mirror.NewPassMetrics()
	if destCreated {
		// The destination root made above counts like any other mirrored
		// directory; the pass itself will find it already in place.
		metrics.AddDirsCreated(1)
	}
	m, err := mirror.New(s.cfg, metrics)
	if err != nil {
		return err
	}

	if s.cfg.Metrics {
		metrics.StartProgress("Pass in progress", progressInterval)
		defer metrics.StopProgress()
	}

	plog.Info("Starting mirror pass", "source", s.cfg.Source, "dest", s.cfg.Dest)
	if err := m.Run(ctx); err != nil {
		return err
	}
	duration := time.Since(timestampUTC)

	metrics.LogSummary("Pass completed")

	if !s.cfg.Runtime.DryRun {
		content := &metafile.MetafileContent{
			Version:        buildinfo.Version,
			TimestampUTC:   timestampUTC,
			DurationMillis: duration.Milliseconds(),
			Source:         s.cfg.Source,
			Counters:       metrics.Counters(),
		}
		if err := metafile.Write(s.cfg.Dest, content); err != nil {
			// The mirror itself succeeded, only the bookkeeping failed.
			plog.Warn("Failed to write destination metafile", "error", err)
		}
	}
	return nil
}

// acquireDestLock acquires the lock file inside the destination directory.
// A lock held by another live instance is not an error, the pass is skipped.
func (s *Service) acquireDestLock(ctx context.Context) (func(), error) {
	appID := fmt.Sprintf("dirmirror:%s", s.cfg.Dest)

	plog.Debug("Attempting to acquire destination lock", "path", s.cfg.Dest)
	lock, err := lockfile.Acquire(ctx, s.cfg.Dest, appID)
	if err != nil {
		var lockErr *lockfile.ErrLockActive
		if errors.As(err, &lockErr) {
			plog.Warn("Destination is locked by another instance, skipping pass", "details", lockErr.Error())
			return nil, nil
		}
		return nil, fmt.Errorf("failed to acquire destination lock: %w", err)
	}
	plog.Debug("Destination lock acquired")

	return lock.Release, nil
}
