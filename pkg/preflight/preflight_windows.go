//go:build windows

package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// checkVolumeExists verifies that the drive or share of path is available,
// e.g. "Z:\" for "Z:\backup".
func checkVolumeExists(path string) error {
	volume := filepath.VolumeName(path)
	if volume == "" {
		return nil
	}
	root := volume
	if !strings.HasSuffix(root, string(filepath.Separator)) {
		root += string(filepath.Separator)
	}
	root = filepath.Clean(root)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return fmt.Errorf("volume root does not exist: %s. Ensure the drive is connected", root)
	}
	return nil
}

// isUnsafeRoot reports the current directory, "\" and bare drive letters such
// as "C:", which resolve relative to the current directory of that drive.
func isUnsafeRoot(path string) bool {
	if path == "" || path == "." || path == string(filepath.Separator) {
		return true
	}
	vol := filepath.VolumeName(path)
	isBareDrive := vol != "" && path == vol && !strings.Contains(vol, string(filepath.Separator))
	isCleanedBareDrive := vol != "" && path == vol+"."
	return isBareDrive || isCleanedBareDrive
}

func rootFilesystemWarning(string) (string, bool) { return "", false }
