// Package pathtrash implements soft deletion for the mirror: entries that a
// pass would permanently delete from the destination are first written into a
// per-pass tar archive ("trash") so an accidental deletion can be recovered.
package pathtrash

import (
	"archive/tar"
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"go.uber.org/multierr"

	"github.com/dirmirror/dirmirror/pkg/plog"
	"github.com/dirmirror/dirmirror/pkg/util"
)

// Format selects the archive compression.
type Format int

const (
	TarGz Format = iota
	TarZst
)

// FormatFromString parses a config/flag format string.
func FormatFromString(s string) (Format, error) {
	switch s {
	case "tar.gz":
		return TarGz, nil
	case "tar.zst":
		return TarZst, nil
	default:
		return TarGz, fmt.Errorf("unknown trash format %q (expected 'tar.gz' or 'tar.zst')", s)
	}
}

// extension returns the file name extension for the format.
func (f Format) extension() string {
	if f == TarZst {
		return ".tar.zst"
	}
	return ".tar.gz"
}

// Archive is one pass's trash archive. It is created lazily by the caller on
// the first deletion of the pass and must be closed when the pass ends.
// Archive is not safe for concurrent use; the mirror traversal is sequential.
type Archive struct {
	path             string
	file             *os.File
	bufWriter        *bufio.Writer
	compressedWriter io.WriteCloser
	tw               *tar.Writer
	count            int
}

// Create opens a new trash archive in dir, named after the pass timestamp.
// The directory is created if it does not exist.
func Create(dir string, format Format, timestampUTC time.Time) (*Archive, error) {
	if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return nil, fmt.Errorf("failed to create trash directory %s: %w", dir, err)
	}

	name := "deleted-" + timestampUTC.Format("20060102-150405") + format.extension()
	absPath := filepath.Join(dir, name)

	f, err := os.OpenFile(absPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return nil, fmt.Errorf("failed to create trash archive %s: %w", absPath, err)
	}

	bufWriter := bufio.NewWriterSize(f, 256*1024)

	var compressedWriter io.WriteCloser
	if format == TarZst {
		zstdWriter, err := zstd.NewWriter(bufWriter)
		if err != nil {
			f.Close()
			os.Remove(absPath)
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		compressedWriter = zstdWriter
	} else {
		compressedWriter = pgzip.NewWriter(bufWriter)
	}

	return &Archive{
		path:             absPath,
		file:             f,
		bufWriter:        bufWriter,
		compressedWriter: compressedWriter,
		tw:               tar.NewWriter(compressedWriter),
	}, nil
}

// Path returns the absolute path of the archive file.
func (a *Archive) Path() string {
	return a.path
}

// Count returns the number of entries written so far.
func (a *Archive) Count() int {
	return a.count
}

// AddFile writes a single file into the archive under relPathKey.
// buf is the caller's reusable copy buffer.
func (a *Archive) AddFile(absPath, relPathKey string, buf []byte) error {
	info, err := os.Lstat(absPath)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", absPath, err)
	}
	if !info.Mode().IsRegular() {
		return nil // Only regular files carry recoverable content.
	}

	f, err := os.Open(absPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", absPath, err)
	}
	defer f.Close()

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to create tar header for %s: %w", relPathKey, err)
	}
	header.Name = relPathKey

	if err := a.tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", relPathKey, err)
	}
	if _, err := io.CopyBuffer(a.tw, f, buf); err != nil {
		return fmt.Errorf("failed to archive content of %s: %w", absPath, err)
	}
	a.count++
	return nil
}

// AddTree archives a whole directory subtree rooted at absRoot. relPrefix is
// the archive path of the root itself.
func (a *Archive) AddTree(absRoot, relPrefix string, buf []byte) error {
	return filepath.WalkDir(absRoot, func(currentPath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("failed to walk %s: %w", currentPath, walkErr)
		}

		rel, err := filepath.Rel(absRoot, currentPath)
		if err != nil {
			return fmt.Errorf("failed to determine relative path of %s: %w", currentPath, err)
		}
		relPathKey := relPrefix
		if rel != "." {
			relPathKey = path.Join(relPrefix, util.NormalizePath(rel))
		}

		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return fmt.Errorf("failed to stat %s: %w", currentPath, err)
			}
			header, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return fmt.Errorf("failed to create tar header for %s: %w", relPathKey, err)
			}
			header.Name = relPathKey + "/"
			if err := a.tw.WriteHeader(header); err != nil {
				return fmt.Errorf("failed to write tar header for %s: %w", relPathKey, err)
			}
			a.count++
			return nil
		}
		return a.AddFile(currentPath, relPathKey, buf)
	})
}

// Close finishes and closes all layered writers. If the archive stayed empty
// it is removed, so passes without deletions leave no trace in the trash
// directory.
func (a *Archive) Close() (retErr error) {
	retErr = multierr.Append(retErr, a.tw.Close())
	retErr = multierr.Append(retErr, a.compressedWriter.Close())
	retErr = multierr.Append(retErr, a.bufWriter.Flush())
	retErr = multierr.Append(retErr, a.file.Close())

	if retErr == nil && a.count == 0 {
		if err := os.Remove(a.path); err != nil {
			plog.Warn("Failed to remove empty trash archive", "path", a.path, "error", err)
		}
	}
	return retErr
}
