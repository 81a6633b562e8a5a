package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(context.Background(), dir, "test-app")
	if err != nil {
		t.Fatalf("expected to acquire lock, got error: %v", err)
	}

	lockPath := filepath.Join(dir, LockFileName)
	if _, err := os.Stat(lockPath); err != nil {
		t.Fatalf("expected lock file to exist at %s: %v", lockPath, err)
	}

	lock.Release()

	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Fatalf("expected lock file to be removed after release, stat err: %v", err)
	}

	// Releasing twice must be a safe no-op.
	lock.Release()
}

func TestAcquireHeldLock(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(context.Background(), dir, "first")
	if err != nil {
		t.Fatalf("expected first acquisition to succeed: %v", err)
	}
	defer first.Release()

	_, err = Acquire(context.Background(), dir, "second")
	if err == nil {
		t.Fatal("expected second acquisition to fail while lock is held")
	}

	var active *ErrLockActive
	if !errors.As(err, &active) {
		t.Fatalf("expected *ErrLockActive, got %T: %v", err, err)
	}
	if active.PID != int64(os.Getpid()) {
		t.Errorf("expected holder PID %d, got %d", os.Getpid(), active.PID)
	}
	if active.AppID != "first" {
		t.Errorf("expected holder AppID 'first', got %q", active.AppID)
	}
}

func TestStaleLockTakeover(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, LockFileName)

	// Plant a lock whose heartbeat stopped long ago.
	stale := LockContent{
		PID:        999999,
		Hostname:   "ghost",
		LastUpdate: time.Now().UTC().Add(-2 * staleTimeout),
		AppID:      "dead-instance",
	}
	data, err := json.MarshalIndent(stale, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(lockPath, data, 0644); err != nil {
		t.Fatal(err)
	}

	lock, err := Acquire(context.Background(), dir, "taker")
	if err != nil {
		t.Fatalf("expected takeover of stale lock to succeed, got: %v", err)
	}
	defer lock.Release()

	content, err := readLockContentSafely(lockPath)
	if err != nil {
		t.Fatalf("could not read lock after takeover: %v", err)
	}
	if content.AppID != "taker" {
		t.Errorf("expected lock to be owned by 'taker', got %q", content.AppID)
	}
}

func TestCorruptLockTakeover(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, LockFileName)

	if err := os.WriteFile(lockPath, []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}

	lock, err := Acquire(context.Background(), dir, "taker")
	if err != nil {
		t.Fatalf("expected takeover of corrupt lock to succeed, got: %v", err)
	}
	lock.Release()
}
