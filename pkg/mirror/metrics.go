package mirror

import (
	"sync/atomic"
	"time"

	"github.com/dirmirror/dirmirror/pkg/metafile"
	"github.com/dirmirror/dirmirror/pkg/plog"
	"github.com/dirmirror/dirmirror/pkg/util"
)

// Metrics defines the interface for collecting and reporting pass statistics.
type Metrics interface {
	AddFilesCopied(n int64)
	AddFilesUpToDate(n int64)
	AddFilesDeleted(n int64)
	AddFilesIgnored(n int64)
	AddDirsCreated(n int64)
	AddDirsDeleted(n int64)
	AddDirsIgnored(n int64)
	AddBytesCopied(n int64)
	AddEntriesProcessed(n int64)
	LogSummary(msg string)

	StartProgress(msg string, interval time.Duration)
	StopProgress()
}

// PassMetrics holds the counters of one mirror pass. It is created fresh at
// the start of each pass, owned exclusively by that pass, and discarded after
// the summary is logged. The counters are atomic only so the optional
// progress ticker can read them while the pass is running.
type PassMetrics struct {
	FilesCopied      atomic.Int64
	FilesUpToDate    atomic.Int64
	FilesDeleted     atomic.Int64
	FilesIgnored     atomic.Int64
	DirsCreated      atomic.Int64
	DirsDeleted      atomic.Int64
	DirsIgnored      atomic.Int64
	BytesCopied      atomic.Int64
	EntriesProcessed atomic.Int64

	stopChan  chan struct{}
	startTime time.Time
}

// NewPassMetrics returns an empty accumulator for a single pass.
func NewPassMetrics() *PassMetrics {
	return &PassMetrics{startTime: time.Now()}
}

func (m *PassMetrics) AddFilesCopied(n int64)      { m.FilesCopied.Add(n) }
func (m *PassMetrics) AddFilesUpToDate(n int64)    { m.FilesUpToDate.Add(n) }
func (m *PassMetrics) AddFilesDeleted(n int64)     { m.FilesDeleted.Add(n) }
func (m *PassMetrics) AddFilesIgnored(n int64)     { m.FilesIgnored.Add(n) }
func (m *PassMetrics) AddDirsCreated(n int64)      { m.DirsCreated.Add(n) }
func (m *PassMetrics) AddDirsDeleted(n int64)      { m.DirsDeleted.Add(n) }
func (m *PassMetrics) AddDirsIgnored(n int64)      { m.DirsIgnored.Add(n) }
func (m *PassMetrics) AddBytesCopied(n int64)      { m.BytesCopied.Add(n) }
func (m *PassMetrics) AddEntriesProcessed(n int64) { m.EntriesProcessed.Add(n) }

// StartProgress launches a ticker goroutine that logs the counter snapshot
// at the given interval until StopProgress is called.
func (m *PassMetrics) StartProgress(msg string, interval time.Duration) {
	m.stopChan = make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.LogSummary(msg)
			case <-m.stopChan:
				return
			}
		}
	}()
}

func (m *PassMetrics) StopProgress() {
	if m.stopChan != nil {
		close(m.stopChan)
	}
}

// LogSummary prints the pass counters with a custom message. The seven result
// counters always appear first, in fixed order.
func (m *PassMetrics) LogSummary(msg string) {
	duration := time.Duration(0)
	if !m.startTime.IsZero() {
		duration = time.Since(m.startTime)
	}

	plog.Info(msg,
		"files_copied", m.FilesCopied.Load(),
		"files_uptodate", m.FilesUpToDate.Load(),
		"files_deleted", m.FilesDeleted.Load(),
		"files_ignored", m.FilesIgnored.Load(),
		"dirs_created", m.DirsCreated.Load(),
		"dirs_deleted", m.DirsDeleted.Load(),
		"dirs_ignored", m.DirsIgnored.Load(),
		"bytes_copied", util.ByteCountIEC(m.BytesCopied.Load()),
		"entries_processed", m.EntriesProcessed.Load(),
		"duration", duration.Round(time.Millisecond),
	)
}

// Counters returns a plain snapshot of the seven result counters for the
// destination metafile.
func (m *PassMetrics) Counters() metafile.PassCounters {
	return metafile.PassCounters{
		FilesCopied:   m.FilesCopied.Load(),
		FilesUpToDate: m.FilesUpToDate.Load(),
		FilesDeleted:  m.FilesDeleted.Load(),
		FilesIgnored:  m.FilesIgnored.Load(),
		DirsCreated:   m.DirsCreated.Load(),
		DirsDeleted:   m.DirsDeleted.Load(),
		DirsIgnored:   m.DirsIgnored.Load(),
	}
}

// NoopMetrics is an implementation of the Metrics interface that performs no
// operations. It can be used to disable metrics collection without changing
// the calling code.
type NoopMetrics struct{}

func (m *NoopMetrics) AddFilesCopied(n int64)                           {}
func (m *NoopMetrics) AddFilesUpToDate(n int64)                         {}
func (m *NoopMetrics) AddFilesDeleted(n int64)                          {}
func (m *NoopMetrics) AddFilesIgnored(n int64)                          {}
func (m *NoopMetrics) AddDirsCreated(n int64)                           {}
func (m *NoopMetrics) AddDirsDeleted(n int64)                           {}
func (m *NoopMetrics) AddDirsIgnored(n int64)                           {}
func (m *NoopMetrics) AddBytesCopied(n int64)                           {}
func (m *NoopMetrics) AddEntriesProcessed(n int64)                      {}
func (m *NoopMetrics) LogSummary(msg string)                            {}
func (m *NoopMetrics) StartProgress(msg string, interval time.Duration) {}
func (m *NoopMetrics) StopProgress()                                    {}

// Statically assert that our types implement the interface.
var _ Metrics = (*PassMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
