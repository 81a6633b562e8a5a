package mirror

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dirmirror/dirmirror/pkg/filespec"
	"github.com/dirmirror/dirmirror/pkg/plog"
	"github.com/dirmirror/dirmirror/pkg/util"
)

// filterRules bundles the filter configuration of one axis (files or
// directories). A nil *filterRules means "no filtering at all", which is how
// destination-side listings are taken: destination enumeration must always be
// exhaustive so deletions can be correctly determined.
type filterRules struct {
	excludeHidden bool
	exclude       *filespec.Set
	include       *filespec.Set
}

// active reports whether the rules would ever drop an entry.
func (r *filterRules) active() bool {
	return r != nil && (r.excludeHidden || r.exclude.Len() > 0 || r.include.Len() > 0)
}

// drop decides whether a single scanned entry is filtered out.
func (r *filterRules) drop(e Entry) bool {
	if !r.active() {
		return false
	}
	if r.excludeHidden && e.Hidden {
		return true
	}
	return filespec.ShouldExclude(r.exclude, r.include, e.Name)
}

// listFiles lists the immediate file children of dir, applying the given
// filter rules. It returns the selected entries and the number of entries the
// rules filtered out. Reserved names (the daemon's own lock, meta and config
// files) are skipped silently on both sides and never counted.
func listFiles(dir string, rules *filterRules, reserved map[string]struct{}) ([]Entry, int64, error) {
	return listChildren(dir, rules, reserved, false)
}

// listDirs is the directory-kind counterpart of listFiles.
func listDirs(dir string, rules *filterRules, reserved map[string]struct{}) ([]Entry, int64, error) {
	return listChildren(dir, rules, reserved, true)
}

func listChildren(dir string, rules *filterRules, reserved map[string]struct{}, wantDirs bool) ([]Entry, int64, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to enumerate directory %s: %w", dir, err)
	}

	var selected []Entry
	var ignored int64
	for _, de := range dirEntries {
		if de.IsDir() != wantDirs {
			continue
		}
		if _, ok := reserved[util.NameKey(de.Name())]; ok {
			continue
		}

		info, err := de.Info()
		if err != nil {
			// The entry vanished mid-scan or cannot be stat'ed; the pass
			// cannot reason about it, so this is fatal like any other
			// enumeration failure.
			return nil, 0, fmt.Errorf("failed to stat %s: %w", filepath.Join(dir, de.Name()), err)
		}
		if !wantDirs && !info.Mode().IsRegular() && rules != nil {
			// Irregular source entries (symlinks, devices) are outside the
			// mirror's contract; they are neither copied nor counted.
			// Destination listings (nil rules) keep them: deletion must see
			// every destination entry, and unlinking does not follow a link
			// target.
			plog.Debug("Skipping irregular source entry", "path", filepath.Join(dir, de.Name()), "mode", info.Mode().String())
			continue
		}

		hidden, readOnly, err := entryAttrs(de.Name(), info)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read attributes of %s: %w", filepath.Join(dir, de.Name()), err)
		}

		entry := Entry{
			Name:     de.Name(),
			Path:     filepath.Join(dir, de.Name()),
			ModTime:  info.ModTime(),
			Hidden:   hidden,
			ReadOnly: readOnly,
			IsDir:    wantDirs,
		}
		if !wantDirs {
			entry.Size = info.Size()
		}

		if rules.drop(entry) {
			ignored++
			continue
		}
		selected = append(selected, entry)
	}
	return selected, ignored, nil
}
