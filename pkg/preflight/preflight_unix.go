//go:build !windows

package preflight

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

func checkVolumeExists(string) error { return nil }

func isUnsafeRoot(path string) bool {
	return path == "" || path == "."
}

// rootFilesystemWarning reports a destination that lives on the same device
// as "/". That usually means an external drive is not mounted and the backup
// is filling the system disk. Paths under the home directory are exempt.
func rootFilesystemWarning(path string) (string, bool) {
	if home, err := os.UserHomeDir(); err == nil && home != "" && strings.HasPrefix(path, home) {
		return "", false
	}

	var rootStat, pathStat unix.Stat_t
	if err := unix.Stat("/", &rootStat); err != nil {
		return "", false
	}
	if err := unix.Stat(deepestExisting(path), &pathStat); err != nil {
		return "", false
	}
	if pathStat.Dev != rootStat.Dev || filepath.Clean(path) == "/" {
		return "", false
	}
	return "Destination is on the root filesystem; make sure the backup drive is mounted", true
}

func deepestExisting(path string) string {
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return deepestExistingAncestor(path)
}
