package pathcopy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-tsbackup/pkg/fsutil"
	"github.com/paulschiretz/pgl-tsbackup/pkg/scanner"
	"github.com/paulschiretz/pgl-tsbackup/pkg/util"
)

// copyFile copies entry to absTrgPath, retrying transient failures.
// It returns the number of bytes written by the successful attempt.
func (c *Copier) copyFile(ctx context.Context, entry scanner.Entry, absTrgPath string) (int64, error) {
	absTrgDir := filepath.Dir(absTrgPath)
	if !c.dirs.Has(absTrgDir) {
		if err := os.MkdirAll(absTrgDir, util.UserWritableDirPerms); err != nil {
			return 0, &FileCopyError{RelPath: entry.RelPath, AbsPath: entry.AbsPath, Op: "mkdir", Err: err}
		}
		c.dirs.Store(absTrgDir)
	}

	var written int64
	err := fsutil.Retry(ctx, c.retry, "copy "+entry.RelPath, func() error {
		n, err := c.copyOnce(entry, absTrgPath)
		written = n
		return err
	})
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return 0, err
		}
		return 0, &FileCopyError{RelPath: entry.RelPath, AbsPath: entry.AbsPath, Op: "copy", Err: err}
	}
	return written, nil
}

// copyOnce writes the source into a temporary file next to the target and
// renames it into place. The source is re-examined after the copy; if it was
// modified meanwhile, the attempt fails with fsutil.ErrSourceChanged.
func (c *Copier) copyOnce(entry scanner.Entry, absTrgPath string) (int64, error) {
	before, err := fsutil.Stat(entry.AbsPath)
	if err != nil {
		return 0, err
	}

	in, err := os.Open(entry.AbsPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	absTrgDir := filepath.Dir(absTrgPath)
	out, err := os.CreateTemp(absTrgDir, TempFilePrefix+"*"+TempFileSuffix)
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file in %s: %w", absTrgDir, err)
	}
	defer out.Close()

	absTempPath := out.Name()
	// Cleared after a successful rename.
	defer func() {
		if absTempPath != "" {
			os.Remove(absTempPath)
		}
	}()

	if before.Size > 0 {
		_ = out.Truncate(before.Size)
	}

	bufPtr := c.buffers.Get()
	defer c.buffers.Put(bufPtr)

	written, err := io.CopyBuffer(out, in, *bufPtr)
	if err != nil {
		return 0, fmt.Errorf("failed to copy content from %s to %s: %w", entry.AbsPath, absTempPath, err)
	}
	if written != before.Size {
		if err := out.Truncate(written); err != nil {
			return 0, fmt.Errorf("failed to truncate temporary file %s: %w", absTempPath, err)
		}
	}

	// The owner keeps write access so the pruner can remove the copy later.
	if err := out.Chmod(util.WithUserWritePermission(entry.Mode)); err != nil {
		return 0, fmt.Errorf("failed to set permissions on temporary file %s: %w", absTempPath, err)
	}
	if err := out.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync temporary file %s: %w", absTempPath, err)
	}
	// Close must happen before Chtimes, closing can touch the modification time.
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temporary file %s: %w", absTempPath, err)
	}

	after, err := fsutil.Stat(entry.AbsPath)
	if err != nil {
		return 0, err
	}
	if before.Changed(after) || written != after.Size {
		return 0, fsutil.ErrSourceChanged
	}

	if err := os.Chtimes(absTempPath, before.ModTime, before.ModTime); err != nil {
		return 0, fmt.Errorf("failed to set timestamps on %s: %w", absTempPath, err)
	}
	// Rename replaces silently; a backup written by an earlier run in the same second is kept.
	if _, err := os.Lstat(absTrgPath); err == nil {
		return 0, fmt.Errorf("%w: %s", ErrTargetExists, absTrgPath)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return 0, err
	}
	if err := os.Rename(absTempPath, absTrgPath); err != nil {
		return 0, err
	}
	absTempPath = ""
	return written, nil
}
