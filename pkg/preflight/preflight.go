// Package preflight validates the source and destination before a run
// touches anything. Apart from creating a missing destination directory, the
// checks do not change the filesystem.
package preflight

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-tsbackup/pkg/plog"
	"github.com/paulschiretz/pgl-tsbackup/pkg/scanner"
	"github.com/paulschiretz/pgl-tsbackup/pkg/util"
)

// writeTestFileName is created and removed again by CheckDestinationWritable.
const writeTestFileName = ".pgl-tsbackup-writetest.tmp"

var (
	// ErrDestinationUncreatable is returned when the destination root cannot be
	// created or written to.
	ErrDestinationUncreatable = errors.New("destination cannot be created or written")
	// ErrNestedPaths is returned when source and destination overlap.
	ErrNestedPaths = errors.New("source and destination overlap")
)

// Checks bundles the inputs of Run.
type Checks struct {
	Source      string
	Destination string
	// DryRun skips creating the destination and the write test.
	DryRun bool
	Log    *plog.Logger
}

// Run executes every check in order and returns the first failure.
func Run(c Checks) error {
	log := c.Log
	if log == nil {
		log = plog.Default()
	}

	if err := CheckSourceAccessible(c.Source); err != nil {
		return err
	}
	if err := CheckPathsNotNested(c.Source, c.Destination); err != nil {
		return err
	}
	if err := CheckDestinationAccessible(c.Destination); err != nil {
		return err
	}
	if warning, onRoot := rootFilesystemWarning(c.Destination); onRoot {
		log.Warn(warning, "path", c.Destination)
	}
	if c.DryRun {
		log.Debug("[DRY RUN] Skipping destination write check", "path", c.Destination)
		return nil
	}
	return CheckDestinationWritable(c.Destination)
}

// CheckSourceAccessible validates that the source exists, is a directory and can be listed.
func CheckSourceAccessible(srcPath string) error {
	return scanner.CheckRoot(srcPath)
}

// CheckPathsNotNested rejects a destination inside the source, which would back
// up its own backups, and a source inside the destination, which the pruner
// would treat as backups.
func CheckPathsNotNested(srcPath, dstPath string) error {
	src, dst := filepath.Clean(srcPath), filepath.Clean(dstPath)
	if util.IsPathNested(src, dst) {
		return fmt.Errorf("%w: destination %s is inside source %s", ErrNestedPaths, dst, src)
	}
	if util.IsPathNested(dst, src) {
		return fmt.Errorf("%w: source %s is inside destination %s", ErrNestedPaths, src, dst)
	}
	return nil
}

// CheckDestinationAccessible gives clearer errors than a failing MkdirAll:
// the volume must exist, an existing destination must be a directory, and the
// deepest existing ancestor of a missing destination must be a reachable directory.
func CheckDestinationAccessible(dstPath string) error {
	if isUnsafeRoot(dstPath) {
		return fmt.Errorf("%w: destination cannot be the current directory or a bare volume: %s", ErrDestinationUncreatable, dstPath)
	}
	if err := checkVolumeExists(dstPath); err != nil {
		return fmt.Errorf("%w: %v", ErrDestinationUncreatable, err)
	}

	info, err := os.Stat(dstPath)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%w: destination exists but is not a directory: %s", ErrDestinationUncreatable, dstPath)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("%w: cannot access destination: %v", ErrDestinationUncreatable, err)
	}

	ancestor := deepestExistingAncestor(dstPath)
	ancestorInfo, err := os.Stat(ancestor)
	if err != nil {
		return fmt.Errorf("%w: cannot access ancestor directory %s: %v", ErrDestinationUncreatable, ancestor, err)
	}
	if !ancestorInfo.IsDir() {
		return fmt.Errorf("%w: ancestor %s is not a directory", ErrDestinationUncreatable, ancestor)
	}
	// Stat succeeds on a dir we cannot enter; listing it does not.
	if _, err := os.ReadDir(ancestor); err != nil {
		return fmt.Errorf("%w: cannot access ancestor directory %s: %v", ErrDestinationUncreatable, ancestor, err)
	}
	return nil
}

// CheckDestinationWritable creates the destination if needed and proves it is
// writable by creating and removing a test file.
func CheckDestinationWritable(dstPath string) error {
	if err := os.MkdirAll(dstPath, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("%w: failed to create %s: %v", ErrDestinationUncreatable, dstPath, err)
	}

	testFile := filepath.Join(dstPath, writeTestFileName)
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("%w: %s is not writable: %v", ErrDestinationUncreatable, dstPath, err)
	}
	f.Close()
	_ = os.Remove(testFile)
	return nil
}

func deepestExistingAncestor(path string) string {
	ancestor := filepath.Clean(path)
	for {
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			return ancestor
		}
		if _, err := os.Lstat(parent); err == nil || !os.IsNotExist(err) {
			return parent
		}
		ancestor = parent
	}
}
