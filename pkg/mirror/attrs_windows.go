//go:build windows

package mirror

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

// entryAttrs derives the hidden and read-only flags of an entry on Windows
// from the native file attribute bits.
func entryAttrs(name string, info os.FileInfo) (hidden, readOnly bool, err error) {
	// The Win32 attribute data is already attached to the FileInfo by the
	// runtime, so no extra syscall is needed here.
	if data, ok := info.Sys().(*syscall.Win32FileAttributeData); ok {
		return data.FileAttributes&windows.FILE_ATTRIBUTE_HIDDEN != 0,
			data.FileAttributes&windows.FILE_ATTRIBUTE_READONLY != 0,
			nil
	}
	return false, false, fmt.Errorf("unsupported FileInfo.Sys() type for %s", name)
}

func getAttributes(path string) (uint32, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, fmt.Errorf("invalid path %s: %w", path, err)
	}
	attrs, err := windows.GetFileAttributes(p)
	if err != nil {
		return 0, fmt.Errorf("failed to read attributes of %s: %w", path, err)
	}
	return attrs, nil
}

func setAttributes(path string, attrs uint32) error {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return fmt.Errorf("invalid path %s: %w", path, err)
	}
	if err := windows.SetFileAttributes(p, attrs); err != nil {
		return fmt.Errorf("failed to set attributes on %s: %w", path, err)
	}
	return nil
}

// clearReadOnly drops the FILE_ATTRIBUTE_READONLY bit so the entry can be
// overwritten or removed.
func clearReadOnly(path string) error {
	attrs, err := getAttributes(path)
	if err != nil {
		return err
	}
	if attrs&windows.FILE_ATTRIBUTE_READONLY == 0 {
		return nil
	}
	return setAttributes(path, attrs&^windows.FILE_ATTRIBUTE_READONLY)
}

// applyAttrs re-applies the source entry's hidden and read-only attribute
// bits to the copied destination entry.
func applyAttrs(path string, hidden, readOnly bool) error {
	attrs, err := getAttributes(path)
	if err != nil {
		return err
	}
	if hidden {
		attrs |= windows.FILE_ATTRIBUTE_HIDDEN
	} else {
		attrs &^= windows.FILE_ATTRIBUTE_HIDDEN
	}
	if readOnly {
		attrs |= windows.FILE_ATTRIBUTE_READONLY
	} else {
		attrs &^= windows.FILE_ATTRIBUTE_READONLY
	}
	return setAttributes(path, attrs)
}
