package preflight

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulschiretz/pgl-tsbackup/pkg/plog"
	"github.com/paulschiretz/pgl-tsbackup/pkg/scanner"
)

func TestCheckDestinationAccessible(t *testing.T) {
	t.Run("Happy Path - Destination Exists", func(t *testing.T) {
		if err := CheckDestinationAccessible(t.TempDir()); err != nil {
			t.Errorf("expected no error for existing directory, but got: %v", err)
		}
	})

	t.Run("Happy Path - Destination Missing Several Levels Deep", func(t *testing.T) {
		dst := filepath.Join(t.TempDir(), "a", "b", "backups")
		if err := CheckDestinationAccessible(dst); err != nil {
			t.Errorf("expected no error when an ancestor exists, but got: %v", err)
		}
	})

	t.Run("Error - Destination Is A File", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "target.txt")
		if err := os.WriteFile(file, []byte("i am a file"), 0644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}
		err := CheckDestinationAccessible(file)
		if !errors.Is(err, ErrDestinationUncreatable) {
			t.Fatalf("expected ErrDestinationUncreatable, but got: %v", err)
		}
		if !strings.Contains(err.Error(), "is not a directory") {
			t.Errorf("expected error to be about 'not a directory', but got: %v", err)
		}
	})

	t.Run("Error - Ancestor Is A File", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := CheckDestinationAccessible(filepath.Join(file, "backups")); !errors.Is(err, ErrDestinationUncreatable) {
			t.Errorf("expected ErrDestinationUncreatable, but got: %v", err)
		}
	})

	t.Run("Error - Current Directory", func(t *testing.T) {
		if err := CheckDestinationAccessible("."); !errors.Is(err, ErrDestinationUncreatable) {
			t.Errorf("expected ErrDestinationUncreatable, but got: %v", err)
		}
	})
}

func TestCheckSourceAccessible(t *testing.T) {
	t.Run("Happy Path - Source Is A Directory", func(t *testing.T) {
		if err := CheckSourceAccessible(t.TempDir()); err != nil {
			t.Errorf("expected no error for existing directory, but got: %v", err)
		}
	})

	t.Run("Error - Source Does Not Exist", func(t *testing.T) {
		err := CheckSourceAccessible(filepath.Join(t.TempDir(), "nonexistent"))
		if !errors.Is(err, scanner.ErrSourceUnreadable) {
			t.Errorf("expected ErrSourceUnreadable, but got: %v", err)
		}
	})

	t.Run("Error - Source Is A File", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "source.txt")
		if err := os.WriteFile(file, []byte("i am a file"), 0644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}
		err := CheckSourceAccessible(file)
		if !errors.Is(err, scanner.ErrSourceUnreadable) {
			t.Errorf("expected ErrSourceUnreadable, but got: %v", err)
		}
	})
}

func TestCheckPathsNotNested(t *testing.T) {
	base := t.TempDir()
	testCases := []struct {
		name      string
		src, dst  string
		expectErr bool
	}{
		{"Siblings", filepath.Join(base, "data"), filepath.Join(base, "backups"), false},
		{"Shared Prefix Is Not Nesting", filepath.Join(base, "data"), filepath.Join(base, "data-backups"), false},
		{"Destination Inside Source", filepath.Join(base, "data"), filepath.Join(base, "data", "backups"), true},
		{"Source Inside Destination", filepath.Join(base, "backups", "data"), filepath.Join(base, "backups"), true},
		{"Same Path", filepath.Join(base, "data"), filepath.Join(base, "data") + string(filepath.Separator), true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckPathsNotNested(tc.src, tc.dst)
			if tc.expectErr && !errors.Is(err, ErrNestedPaths) {
				t.Errorf("expected ErrNestedPaths, but got: %v", err)
			}
			if !tc.expectErr && err != nil {
				t.Errorf("expected no error, but got: %v", err)
			}
		})
	}
}

func TestCheckDestinationWritable(t *testing.T) {
	t.Run("Happy Path - Creates Missing Destination", func(t *testing.T) {
		dst := filepath.Join(t.TempDir(), "new", "backups")
		if err := CheckDestinationWritable(dst); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if info, err := os.Stat(dst); err != nil || !info.IsDir() {
			t.Fatalf("expected destination directory to be created, got err %v", err)
		}
		if _, err := os.Stat(filepath.Join(dst, writeTestFileName)); !os.IsNotExist(err) {
			t.Error("expected write test file to be removed")
		}
	})

	t.Run("Error - Destination Is A File", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "target.txt")
		if err := os.WriteFile(file, []byte("i am a file"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := CheckDestinationWritable(file); !errors.Is(err, ErrDestinationUncreatable) {
			t.Errorf("expected ErrDestinationUncreatable, but got: %v", err)
		}
	})
}

func TestRun(t *testing.T) {
	t.Run("Dry Run Does Not Create Destination", func(t *testing.T) {
		src := t.TempDir()
		dst := filepath.Join(t.TempDir(), "backups")
		if err := Run(Checks{Source: src, Destination: dst, DryRun: true, Log: plog.New(&bytes.Buffer{}, plog.LevelDebug)}); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if _, err := os.Stat(dst); !os.IsNotExist(err) {
			t.Error("expected dry run to leave the destination uncreated")
		}
	})

	t.Run("Creates Destination", func(t *testing.T) {
		src := t.TempDir()
		dst := filepath.Join(t.TempDir(), "backups")
		if err := Run(Checks{Source: src, Destination: dst, Log: plog.New(&bytes.Buffer{}, plog.LevelDebug)}); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if _, err := os.Stat(dst); err != nil {
			t.Errorf("expected destination to exist: %v", err)
		}
	})

	t.Run("Source Checked First", func(t *testing.T) {
		err := Run(Checks{Source: filepath.Join(t.TempDir(), "missing"), Destination: t.TempDir()})
		if !errors.Is(err, scanner.ErrSourceUnreadable) {
			t.Errorf("expected ErrSourceUnreadable, but got: %v", err)
		}
	})

	t.Run("Nested Paths Rejected", func(t *testing.T) {
		src := t.TempDir()
		err := Run(Checks{Source: src, Destination: filepath.Join(src, "backups")})
		if !errors.Is(err, ErrNestedPaths) {
			t.Errorf("expected ErrNestedPaths, but got: %v", err)
		}
	})
}
