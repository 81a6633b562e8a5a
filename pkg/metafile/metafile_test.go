package metafile

import (
	"os"
	"testing"
	"time"
)

func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()

	want := &MetafileContent{
		Version:        "1.2.3",
		TimestampUTC:   time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		DurationMillis: 4200,
		Source:         "/data/projects",
		Counters: PassCounters{
			FilesCopied:   3,
			FilesUpToDate: 10,
			FilesDeleted:  1,
			DirsCreated:   2,
		},
	}

	if err := Write(dir, want); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := Read(dir)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if got.Version != want.Version {
		t.Errorf("expected version %q, got %q", want.Version, got.Version)
	}
	if !got.TimestampUTC.Equal(want.TimestampUTC) {
		t.Errorf("expected timestamp %v, got %v", want.TimestampUTC, got.TimestampUTC)
	}
	if got.Counters != want.Counters {
		t.Errorf("expected counters %+v, got %+v", want.Counters, got.Counters)
	}
}

func TestReadMissing(t *testing.T) {
	dir := t.TempDir()

	_, err := Read(dir)
	if !os.IsNotExist(err) {
		t.Fatalf("expected os.IsNotExist error for missing metafile, got: %v", err)
	}
}
