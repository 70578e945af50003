// Package retryledger remembers source files whose copy failed, so the next
// run copies them again even though the watermark has moved past them.
//
// The ledger is a YAML document in the destination root. It only ever holds
// the failures of the most recent run: a path that copies successfully, or
// that no longer exists in the source, drops out.
package retryledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/paulschiretz/pgl-tsbackup/pkg/util"
)

// FileName is the ledger's name inside the destination root.
const FileName = ".pgl-tsbackup.retry.yaml"

const currentVersion = 1

// ErrCorruptLedger is returned by Load for a file that is not a valid ledger.
var ErrCorruptLedger = errors.New("retry ledger is corrupt")

// Entry is one source file awaiting a retry.
type Entry struct {
	RelPath     string    `yaml:"path"`
	LastError   string    `yaml:"last_error"`
	Attempts    int       `yaml:"attempts"`
	FirstFailed time.Time `yaml:"first_failed"`
	LastFailed  time.Time `yaml:"last_failed"`
}

// Ledger is the persisted set of paths to retry.
type Ledger struct {
	Version   int       `yaml:"version"`
	UpdatedAt time.Time `yaml:"updated_at"`
	Paths     []Entry   `yaml:"paths"`
}

// Failure is a copy failure reported by a run. RelPath is slash-separated.
type Failure struct {
	RelPath string
	Err     error
}

// Empty returns a ledger with no entries.
func Empty() *Ledger { return &Ledger{Version: currentVersion} }

// Load reads the ledger from dir. A missing file yields an empty ledger.
func Load(dir string) (*Ledger, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Empty(), nil
		}
		return nil, fmt.Errorf("failed to read retry ledger: %w", err)
	}

	var l Ledger
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptLedger, err)
	}
	if l.Version != currentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptLedger, l.Version)
	}
	return &l, nil
}

// Len returns the number of paths awaiting a retry.
func (l *Ledger) Len() int { return len(l.Paths) }

// Keys returns the set of paths awaiting a retry.
func (l *Ledger) Keys() map[string]struct{} {
	keys := make(map[string]struct{}, len(l.Paths))
	for _, e := range l.Paths {
		keys[e.RelPath] = struct{}{}
	}
	return keys
}

// Next builds the ledger that follows l after a run that failed on failures.
// Paths failing again keep their first failure time and count another attempt.
func (l *Ledger) Next(failures []Failure, now time.Time) *Ledger {
	previous := make(map[string]Entry, len(l.Paths))
	for _, e := range l.Paths {
		previous[e.RelPath] = e
	}

	next := &Ledger{Version: currentVersion, UpdatedAt: now}
	for _, f := range failures {
		e, ok := previous[f.RelPath]
		if !ok {
			e = Entry{RelPath: f.RelPath, FirstFailed: now}
		}
		e.Attempts++
		e.LastFailed = now
		if f.Err != nil {
			e.LastError = f.Err.Error()
		}
		next.Paths = append(next.Paths, e)
	}
	slices.SortFunc(next.Paths, func(a, b Entry) int { return strings.Compare(a.RelPath, b.RelPath) })
	return next
}

// Save writes the ledger to dir through a temp file and rename. An empty
// ledger removes the file instead.
func (l *Ledger) Save(dir string) error {
	path := filepath.Join(dir, FileName)
	if len(l.Paths) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove retry ledger: %w", err)
		}
		return nil
	}

	data, err := yaml.Marshal(l)
	if err != nil {
		return fmt.Errorf("failed to marshal retry ledger: %w", err)
	}

	tmp, err := os.CreateTemp(dir, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp retry ledger: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write retry ledger: %w", err)
	}
	if err := tmp.Chmod(util.UserWritableFilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions on retry ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close retry ledger: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace retry ledger: %w", err)
	}
	return nil
}

// IsLedgerFile reports whether name is the ledger or one of its temp files.
func IsLedgerFile(name string) bool {
	return name == FileName || (strings.HasPrefix(name, FileName+".") && strings.HasSuffix(name, ".tmp"))
}
