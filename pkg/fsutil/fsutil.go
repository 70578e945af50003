// Package fsutil holds the filesystem helpers shared by the copier and the
// pruner: retrying transient errors and detecting a source that changes while
// it is being read.
package fsutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// ErrSourceChanged is returned when a file's identity, size or modification
// time differ between two observations.
var ErrSourceChanged = errors.New("source changed during copy")

// RetryPolicy controls Retry.
type RetryPolicy struct {
	Attempts int
	BaseWait time.Duration
}

// DefaultRetryPolicy retries up to five times, waiting 100ms, 200ms, 400ms and 800ms in between.
var DefaultRetryPolicy = RetryPolicy{Attempts: 5, BaseWait: 100 * time.Millisecond}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EINTR)
}

// Retry runs fn until it succeeds, fails with a non-transient error, the
// attempts are used up, or ctx is cancelled. Waits double after each attempt.
func Retry(ctx context.Context, p RetryPolicy, opName string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		wait := p.BaseWait * (1 << (attempt - 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", opName, attempts, lastErr)
}

// Snapshot is the identity of a file at one point in time.
type Snapshot struct {
	Size    int64
	ModTime time.Time
	Inode   uint64
}

// Stat captures the identity of the file at path.
func Stat(path string) (Snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Size: info.Size(), ModTime: info.ModTime(), Inode: inodeOf(path)}, nil
}

// Changed reports whether now describes a different file state than orig.
// An inode of zero means "unknown" and is not compared.
func (orig Snapshot) Changed(now Snapshot) bool {
	if now.Inode != 0 && orig.Inode != 0 && now.Inode != orig.Inode {
		return true
	}
	if !now.ModTime.Equal(orig.ModTime) {
		return true
	}
	return now.Size != orig.Size
}
