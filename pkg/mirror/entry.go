package mirror

import "time"

// Entry is a point-in-time snapshot of one directory child, taken at scan
// time. Entries are never cached across passes.
type Entry struct {
	Name     string
	Path     string // Absolute path, for direct filesystem access.
	Size     int64  // Files only.
	ModTime  time.Time
	Hidden   bool
	ReadOnly bool
	IsDir    bool
}
