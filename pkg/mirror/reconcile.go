package mirror

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/lo"

	"github.com/dirmirror/dirmirror/pkg/plog"
	"github.com/dirmirror/dirmirror/pkg/util"
)

// syncDir mirrors one directory level and recurses into the selected source
// subdirectories. The step order is fixed: ensure the destination directory,
// reconcile files, delete destination-only files, recurse, delete
// destination-only directories. The first error aborts the whole pass.
func (m *Mirrorer) syncDir(srcDir, destDir string) error {
	destExists, err := m.ensureDestDir(srcDir, destDir)
	if err != nil {
		return err
	}

	srcFiles, srcFilesIgnored, err := listFiles(srcDir, m.fileRules, m.reserved)
	if err != nil {
		return err
	}
	m.metrics.AddFilesIgnored(srcFilesIgnored)

	srcDirs, srcDirsIgnored, err := listDirs(srcDir, m.dirRules, m.reserved)
	if err != nil {
		return err
	}
	m.metrics.AddDirsIgnored(srcDirsIgnored)

	// The destination is always enumerated without filters, deletion
	// decisions need the full picture.
	var destFiles, destDirs []Entry
	if destExists {
		if destFiles, _, err = listFiles(destDir, nil, m.reserved); err != nil {
			return err
		}
		if destDirs, _, err = listDirs(destDir, nil, m.reserved); err != nil {
			return err
		}
	}

	entryKey := func(e Entry) string { return m.nameKey(e.Name) }
	destFileByName := lo.KeyBy(destFiles, entryKey)
	destDirByName := lo.KeyBy(destDirs, entryKey)
	srcFileNames := lo.KeyBy(srcFiles, entryKey)
	srcDirNames := lo.KeyBy(srcDirs, entryKey)

	// Files: copy new and changed source files.
	for _, src := range srcFiles {
		m.metrics.AddEntriesProcessed(1)
		key := m.nameKey(src.Name)

		if shadow, ok := destDirByName[key]; ok {
			// A destination directory occupies the file's name.
			plog.Notice("Replacing destination directory with file", "path", shadow.Path)
			if err := m.removeDir(shadow); err != nil {
				return err
			}
			m.metrics.AddDirsDeleted(1)
			delete(destDirByName, key)
		} else if dst, ok := destFileByName[key]; ok {
			if m.isUpToDate(src, dst) {
				m.metrics.AddFilesUpToDate(1)
				continue
			}
			if dst.ReadOnly && !m.dryRun {
				// Rename over a read-only file fails on some platforms.
				if err := clearReadOnly(dst.Path); err != nil {
					return err
				}
			}
		}

		if err := m.copyFile(src, filepath.Join(destDir, src.Name)); err != nil {
			return err
		}
		m.metrics.AddFilesCopied(1)
	}

	// Destination-only files.
	if m.deleteFromDest {
		for _, dst := range destFiles {
			key := m.nameKey(dst.Name)
			if _, ok := srcFileNames[key]; ok {
				continue
			}
			if _, ok := srcDirNames[key]; ok {
				// A source directory will take over this name during the
				// recursion step below.
				continue
			}
			if m.deleteExcludeFiles.MatchAny(dst.Name) {
				plog.Debug("Preserving destination file excluded from deletion", "path", dst.Path)
				continue
			}
			if err := m.removeFile(dst); err != nil {
				return err
			}
			m.metrics.AddFilesDeleted(1)
		}
	}

	// Recurse depth-first into the selected source subdirectories.
	for _, src := range srcDirs {
		m.metrics.AddEntriesProcessed(1)
		if err := m.syncDir(src.Path, filepath.Join(destDir, src.Name)); err != nil {
			return err
		}
	}

	// Destination-only directories.
	if m.deleteFromDest {
		for _, dst := range destDirs {
			key := m.nameKey(dst.Name)
			if _, ok := srcDirNames[key]; ok {
				continue
			}
			if _, ok := srcFileNames[key]; ok {
				continue // Already replaced during the file step.
			}
			if _, stillThere := destDirByName[key]; !stillThere {
				continue
			}
			if m.deleteExcludeDirs.MatchAny(dst.Name) {
				plog.Debug("Preserving destination directory excluded from deletion", "path", dst.Path)
				continue
			}
			if err := m.removeDir(dst); err != nil {
				return err
			}
			m.metrics.AddDirsDeleted(1)
		}
	}
	return nil
}

// ensureDestDir makes sure destDir exists as a directory, replacing a file
// occupying the name if necessary. It reports whether the directory
// physically exists afterwards, in dry-run mode a missing directory is only
// announced and the return value is false.
func (m *Mirrorer) ensureDestDir(srcDir, destDir string) (bool, error) {
	info, err := os.Lstat(destDir)
	if err == nil {
		if info.IsDir() {
			return true, nil
		}
		// A file (or link) occupies the directory's name.
		plog.Notice("Replacing destination file with directory", "path", destDir)
		if m.dryRun {
			m.metrics.AddDirsCreated(1)
			return false, nil
		}
		if err := m.preserveFile(destDir); err != nil {
			return false, err
		}
		if err := clearReadOnly(destDir); err != nil {
			return false, err
		}
		if err := os.Remove(destDir); err != nil {
			return false, fmt.Errorf("failed to remove %s: %w", destDir, err)
		}
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat %s: %w", destDir, err)
	}

	if m.dryRun {
		plog.Notice("Would create directory", "source", srcDir, "dest", destDir)
		m.metrics.AddDirsCreated(1)
		return false, nil
	}
	if err := os.MkdirAll(destDir, util.UserWritableDirPerms); err != nil {
		return false, fmt.Errorf("failed to create directory %s: %w", destDir, err)
	}
	m.metrics.AddDirsCreated(1)
	return true, nil
}

// isUpToDate reports whether the destination file already reflects the source
// file: equal size, modification times within the tolerance window and equal
// attribute flags.
func (m *Mirrorer) isUpToDate(src, dst Entry) bool {
	if src.Size != dst.Size {
		return false
	}
	delta := src.ModTime.Sub(dst.ModTime)
	if delta < 0 {
		delta = -delta
	}
	if delta > m.modTimeWindow {
		return false
	}
	return src.Hidden == dst.Hidden && src.ReadOnly == dst.ReadOnly
}

// copyFile copies one source file to destPath. The content is written to a
// temporary file in the destination directory and moved into place with an
// atomic rename, so a crash never leaves a truncated file under the real
// name.
func (m *Mirrorer) copyFile(src Entry, destPath string) error {
	if m.dryRun {
		plog.Notice("Would copy file", "source", src.Path, "dest", destPath, "size", util.ByteCountIEC(src.Size))
		m.metrics.AddBytesCopied(src.Size)
		return nil
	}

	in, err := os.Open(src.Path)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", src.Path, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".~dirmirror-tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", filepath.Dir(destPath), err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	buf := m.bufferPool.Get()
	written, err := io.CopyBuffer(tmp, in, *buf)
	m.bufferPool.Put(buf)
	if err != nil {
		cleanup()
		return fmt.Errorf("failed to copy content of %s: %w", src.Path, err)
	}
	if err := tmp.Chmod(util.UserWritableFilePerms); err != nil {
		cleanup()
		return fmt.Errorf("failed to set permissions on %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary file %s: %w", tmpPath, err)
	}
	if err := os.Chtimes(tmpPath, time.Now(), src.ModTime); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set modification time on %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move %s into place: %w", destPath, err)
	}
	if err := applyAttrs(destPath, src.Hidden, src.ReadOnly); err != nil {
		return err
	}

	plog.Debug("Copied file", "source", src.Path, "dest", destPath, "size", util.ByteCountIEC(written))
	m.metrics.AddBytesCopied(written)
	return nil
}

// removeFile deletes one destination file, archiving it to the trash first
// when enabled.
func (m *Mirrorer) removeFile(e Entry) error {
	if m.dryRun {
		plog.Notice("Would delete file", "path", e.Path)
		return nil
	}
	if err := m.preserveFile(e.Path); err != nil {
		return err
	}
	if e.ReadOnly {
		if err := clearReadOnly(e.Path); err != nil {
			return err
		}
	}
	if err := os.Remove(e.Path); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", e.Path, err)
	}
	plog.Debug("Deleted file", "path", e.Path)
	return nil
}

// removeDir deletes one destination directory with everything below it,
// archiving the subtree to the trash first when enabled.
func (m *Mirrorer) removeDir(e Entry) error {
	if m.dryRun {
		plog.Notice("Would delete directory", "path", e.Path)
		return nil
	}
	if err := m.preserveTree(e.Path); err != nil {
		return err
	}
	if err := forceRemoveAll(e.Path); err != nil {
		return err
	}
	plog.Debug("Deleted directory", "path", e.Path)
	return nil
}

// forceRemoveAll removes a whole subtree, clearing read-only flags first so
// the removal cannot fail on protected entries.
func forceRemoveAll(root string) error {
	err := filepath.WalkDir(root, func(currentPath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		return clearReadOnly(currentPath)
	})
	if err != nil {
		return fmt.Errorf("failed to prepare %s for removal: %w", root, err)
	}
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("failed to delete directory %s: %w", root, err)
	}
	return nil
}
