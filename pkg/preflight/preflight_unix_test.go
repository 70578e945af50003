//go:build !windows

package preflight

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckDestinationAccessible_Unix(t *testing.T) {
	t.Run("Error - No Permission on Deepest Existing Ancestor", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("permission bits are not enforced for root")
		}
		unreadable := filepath.Join(t.TempDir(), "unreadable_ancestor")
		if err := os.Mkdir(unreadable, 0000); err != nil {
			t.Fatalf("failed to create unreadable ancestor dir: %v", err)
		}
		t.Cleanup(func() { os.Chmod(unreadable, 0755) })

		err := CheckDestinationAccessible(filepath.Join(unreadable, "non_existent_child", "target"))
		if !errors.Is(err, ErrDestinationUncreatable) {
			t.Fatalf("expected ErrDestinationUncreatable, but got: %v", err)
		}
		if !strings.Contains(err.Error(), "cannot access ancestor directory") {
			t.Errorf("expected error about the ancestor, but got: %v", err)
		}
	})
}

func TestCheckDestinationWritable_Unix(t *testing.T) {
	t.Run("Error - Destination Not Writable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("permission bits are not enforced for root")
		}
		unwritable := filepath.Join(t.TempDir(), "unwritable")
		if err := os.Mkdir(unwritable, 0555); err != nil {
			t.Fatalf("failed to create unwritable dir: %v", err)
		}
		t.Cleanup(func() { os.Chmod(unwritable, 0755) })

		err := CheckDestinationWritable(unwritable)
		if !errors.Is(err, ErrDestinationUncreatable) {
			t.Fatalf("expected ErrDestinationUncreatable, but got: %v", err)
		}
		if !strings.Contains(err.Error(), "not writable") {
			t.Errorf("expected error about 'not writable', but got: %v", err)
		}
	})
}

func TestRootFilesystemWarning(t *testing.T) {
	t.Run("Skipped For Home Dir", func(t *testing.T) {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			t.Skip("no home directory")
		}
		if _, onRoot := rootFilesystemWarning(filepath.Join(home, "pgl-tsbackup-test")); onRoot {
			t.Error("expected paths below the home directory to be exempt")
		}
	})

	t.Run("Root Itself Is Not Flagged", func(t *testing.T) {
		if _, onRoot := rootFilesystemWarning("/"); onRoot {
			t.Error("expected an explicit \"/\" destination not to be flagged")
		}
	})
}
