// Package lockfile keeps two backup runs from working on the same destination
// at once.
//
// The lock is a small JSON file in the destination root, created with
// O_CREATE|O_EXCL. While held, a heartbeat refreshes its timestamp; a lock
// whose heartbeat is older than three intervals is considered abandoned and is
// taken over by writing a new file over it and reading it back.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paulschiretz/pgl-tsbackup/pkg/plog"
	"github.com/paulschiretz/pgl-tsbackup/pkg/util"
)

// LockFileName is the name of the lock file created in the destination root.
// The '~' prefix marks it as temporary.
const LockFileName = ".~pgl-tsbackup.lock"

// IsLockFile reports whether name is the lock file or one of its heartbeat temp files.
func IsLockFile(name string) bool {
	if name == LockFileName {
		return true
	}
	return strings.HasPrefix(name, LockFileName+".") && strings.HasSuffix(name, ".tmp")
}

// Owner identifies who holds a lock.
type Owner struct {
	AppID string
	RunID string
}

// LockContent is the JSON document stored in the lock file.
type LockContent struct {
	PID        int64     `json:"pid"`
	Hostname   string    `json:"hostname"`
	AppID      string    `json:"appID"`
	RunID      string    `json:"runID,omitempty"`
	Acquired   time.Time `json:"acquired"`
	LastUpdate time.Time `json:"lastUpdate"`
	Nonce      string    `json:"nonce"`
}

// ErrLockActive is returned when another live run holds the lock.
type ErrLockActive struct {
	PID       int64
	Hostname  string
	AppID     string
	RunID     string
	TimeSince time.Duration
}

func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("destination is locked by run %s (PID %d on host '%s', app %s), last heartbeat %s ago",
		e.RunID, e.PID, e.Hostname, e.AppID, e.TimeSince.Truncate(time.Second))
}

// ErrLostRace is returned when another process wins a stale lock takeover.
var ErrLostRace = errors.New("lost race during stale lock takeover")

// ErrCorruptLockFile is returned for a lock file that stays empty or holds invalid JSON.
var ErrCorruptLockFile = errors.New("lock file is corrupt or empty")

// Vars so tests can shorten them.
var (
	heartbeatInterval = 1 * time.Minute
	staleTimeout      = 3 * heartbeatInterval
)

// Lock is a held lock. Release it exactly once; extra calls are no-ops.
type Lock struct {
	path    string
	log     *plog.Logger
	stop    context.CancelFunc
	stopped chan struct{}

	mu      sync.Mutex
	content LockContent
	held    bool
}

// Option configures Acquire.
type Option func(*acquirer)

// WithLogger sets the logger used for takeover and heartbeat messages.
func WithLogger(l *plog.Logger) Option { return func(a *acquirer) { a.log = l } }

type acquirer struct {
	path  string
	owner Owner
	log   *plog.Logger
}

// Acquire takes the lock in dirPath for owner.
//
// It returns *ErrLockActive if a live run holds the lock, and ctx.Err() if ctx
// ends first. ctx only bounds the acquisition, not the heartbeat.
func Acquire(ctx context.Context, dirPath string, owner Owner, opts ...Option) (*Lock, error) {
	a := &acquirer{path: filepath.Join(dirPath, LockFileName), owner: owner, log: plog.Default()}
	for _, opt := range opts {
		opt(a)
	}

	const maxAttempts = 3
	for range maxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lock, err := a.create()
		if err == nil {
			return a.start(lock), nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to access lock file: %w", err)
		}

		existing, readErr := readLockContent(a.path)
		switch {
		case readErr == nil:
			elapsed := time.Since(existing.LastUpdate)
			if elapsed < staleTimeout {
				return nil, &ErrLockActive{
					PID:       existing.PID,
					Hostname:  existing.Hostname,
					AppID:     existing.AppID,
					RunID:     existing.RunID,
					TimeSince: elapsed,
				}
			}
			a.log.Warn("Found stale lock, attempting takeover", "pid", existing.PID, "run_id", existing.RunID, "age", elapsed.Truncate(time.Second))
		case errors.Is(readErr, ErrCorruptLockFile):
			a.log.Warn("Found corrupt lock file, treating as stale", "path", a.path, "error", readErr)
		case os.IsNotExist(readErr):
			// Released between our create and read; try again right away.
			continue
		default:
			sleepCtx(ctx, 100*time.Millisecond)
			continue
		}

		lock, err = a.takeover()
		if err != nil {
			if errors.Is(err, ErrLostRace) {
				a.log.Debug("Lock takeover race lost, retrying acquisition")
			} else {
				a.log.Warn("Failed to take over lock, retrying", "error", err)
			}
			sleepCtx(ctx, 100*time.Millisecond)
			continue
		}
		return a.start(lock), nil
	}
	return nil, fmt.Errorf("failed to acquire lock after %d attempts (contention)", maxAttempts)
}

// Read returns the content of the lock in dirPath. It returns an error
// satisfying os.IsNotExist when no run holds the lock.
func Read(dirPath string) (LockContent, error) {
	return readLockContent(filepath.Join(dirPath, LockFileName))
}

func (a *acquirer) newContent() (LockContent, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return LockContent{}, err
	}
	now := time.Now().UTC()
	return LockContent{
		PID:        int64(os.Getpid()),
		Hostname:   hostname,
		AppID:      a.owner.AppID,
		RunID:      a.owner.RunID,
		Acquired:   now,
		LastUpdate: now,
		Nonce:      uuid.NewString(),
	}, nil
}

// create makes the lock file with O_EXCL, so exactly one caller can succeed.
func (a *acquirer) create() (*Lock, error) {
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	content, err := a.newContent()
	if err == nil {
		err = writeLockContent(f, content)
	}
	if err != nil {
		// Do not leave an empty file behind that others would treat as corrupt.
		os.Remove(a.path)
		return nil, err
	}
	return &Lock{path: a.path, log: a.log, content: content, held: true}, nil
}

// takeover replaces a stale or corrupt lock atomically and reads it back to
// find out whether a concurrent takeover won.
func (a *acquirer) takeover() (*Lock, error) {
	content, err := a.newContent()
	if err != nil {
		return nil, err
	}
	if err := writeLockFileAtomic(a.path, content); err != nil {
		return nil, err
	}

	readback, err := readLockContent(a.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read back lock file after takeover: %w", err)
	}
	if readback.Nonce != content.Nonce {
		return nil, ErrLostRace
	}
	a.log.Debug("Took over stale lock", "path", a.path)
	return &Lock{path: a.path, log: a.log, content: content, held: true}, nil
}

func (a *acquirer) start(l *Lock) *Lock {
	cleanupTempLockFiles(a.path, a.log)

	ctx, cancel := context.WithCancel(context.Background())
	l.stop = cancel
	l.stopped = make(chan struct{})
	go l.heartbeat(ctx)
	return l
}

// Content returns the current lock content.
func (l *Lock) Content() LockContent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.content
}

// Release stops the heartbeat and removes the lock file.
func (l *Lock) Release() {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return
	}
	l.held = false
	l.mu.Unlock()

	if l.stop != nil {
		l.stop()
		<-l.stopped
	}
	if err := os.Remove(l.path); err != nil {
		if !os.IsNotExist(err) {
			l.log.Warn("Failed to remove lock file", "path", l.path, "error", err)
		}
		return
	}
	l.log.Debug("Lock released", "path", l.path)
}

func (l *Lock) heartbeat(ctx context.Context) {
	defer close(l.stopped)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			l.content.LastUpdate = time.Now().UTC()
			content := l.content
			l.mu.Unlock()

			// A failed beat is retried on the next tick.
			if err := writeLockFileAtomic(l.path, content); err != nil {
				l.log.Warn("Heartbeat failed to update lock file", "error", err)
			}
		}
	}
}

// writeLockFileAtomic writes content to a temp file next to the lock and
// renames it into place, so readers never see a partial document.
func writeLockFileAtomic(absLockFilePath string, content LockContent) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(absLockFilePath), filepath.Base(absLockFilePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp lock file: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if err = writeLockContent(tmp, content); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp lock file: %w", err)
	}
	if err = os.Rename(tmp.Name(), absLockFilePath); err != nil {
		return fmt.Errorf("failed to rename temp lock file: %w", err)
	}
	return nil
}

// cleanupTempLockFiles removes heartbeat temp files left by crashed runs.
// Only files older than staleTimeout are touched.
func cleanupTempLockFiles(absLockFilePath string, log *plog.Logger) {
	pattern := filepath.Join(filepath.Dir(absLockFilePath), filepath.Base(absLockFilePath)+".*.tmp")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		log.Warn("Failed to glob for temporary lock files", "pattern", pattern, "error", err)
		return
	}

	threshold := time.Now().Add(-staleTimeout)
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || !info.ModTime().Before(threshold) {
			continue
		}
		log.Debug("Removing old temporary lock file", "path", match)
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			log.Warn("Failed to remove leftover temporary lock file", "path", match, "error", err)
		}
	}
}

func writeLockContent(w io.Writer, content LockContent) error {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock content: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write lock content: %w", err)
	}
	return nil
}

// readLockContent reads the lock file, retrying briefly while it is empty or
// half-written. Errors from opening the file are returned unwrapped.
func readLockContent(absLockFilePath string) (LockContent, error) {
	var corrupt, readErr error
	for attempt := range 3 {
		if attempt > 0 {
			time.Sleep(50 * time.Millisecond)
		}

		data, err := os.ReadFile(absLockFilePath)
		if err != nil {
			if os.IsNotExist(err) || os.IsPermission(err) {
				return LockContent{}, err
			}
			readErr = err
			continue
		}
		if len(data) == 0 {
			corrupt = errors.New("lock file is empty")
			continue
		}

		var content LockContent
		if corrupt = json.Unmarshal(data, &content); corrupt != nil {
			continue
		}
		return content, nil
	}

	if corrupt != nil {
		return LockContent{}, fmt.Errorf("%w: %v", ErrCorruptLockFile, corrupt)
	}
	return LockContent{}, fmt.Errorf("failed to read valid lock content: %w", readErr)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
