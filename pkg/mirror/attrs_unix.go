//go:build !windows

package mirror

import (
	"fmt"
	"os"
	"strings"

	"github.com/dirmirror/dirmirror/pkg/util"
)

// entryAttrs derives the hidden and read-only flags of an entry on Unix-like
// systems. Hidden is the dot-prefix naming convention; read-only means the
// owner-write bit is absent.
func entryAttrs(name string, info os.FileInfo) (hidden, readOnly bool, err error) {
	hidden = strings.HasPrefix(name, ".")
	readOnly = info.Mode().Perm()&util.PermUserWrite == 0
	return hidden, readOnly, nil
}

// clearReadOnly restores the owner-write bit so the entry can be overwritten
// or removed.
func clearReadOnly(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil // Chmod would follow the link target.
	}
	if err := os.Chmod(path, util.WithUserWritePermission(info.Mode().Perm())); err != nil {
		return fmt.Errorf("failed to clear read-only flag on %s: %w", path, err)
	}
	return nil
}

// applyAttrs re-applies the source entry's attribute flags to the copied
// destination entry. On Unix the hidden flag travels with the name itself, so
// only the read-only state needs to be applied.
func applyAttrs(path string, hidden, readOnly bool) error {
	info, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	perm := info.Mode().Perm()
	if readOnly {
		perm &^= 0222
	} else {
		perm = util.WithUserWritePermission(perm)
	}
	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("failed to apply attributes to %s: %w", path, err)
	}
	return nil
}
