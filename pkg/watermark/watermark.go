// Package watermark holds the timestamp of the last successful backup run.
//
// The watermark has an explicit absent state. An absent watermark admits every
// file, which is how the very first run copies the whole source tree.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Layout is the persisted text form of a watermark, in local time.
const Layout = "2006-01-02 15:04:05"

// ErrMalformed is returned by Parse for text that is neither empty nor a valid timestamp.
var ErrMalformed = errors.New("malformed watermark")

// Watermark is the timestamp of the last successful run, or absent.
type Watermark struct {
	t   time.Time
	set bool
}

// None returns the absent watermark.
func None() Watermark { return Watermark{} }

// At returns a watermark at t, truncated to whole seconds.
func At(t time.Time) Watermark {
	return Watermark{t: t.Truncate(time.Second), set: true}
}

// IsSet reports whether the watermark is present.
func (w Watermark) IsSet() bool { return w.set }

// Time returns the watermark time. It is the zero time when absent.
func (w Watermark) Time() time.Time { return w.t }

// Admits reports whether a file with the given modification time must be
// copied: always when absent, otherwise only if modTime is strictly later.
func (w Watermark) Admits(modTime time.Time) bool {
	return !w.set || modTime.After(w.t)
}

// String returns the persisted form, or "" when absent.
func (w Watermark) String() string {
	if !w.set {
		return ""
	}
	return w.t.Format(Layout)
}

// Parse reads the persisted form in loc. Empty text yields None.
func Parse(s string, loc *time.Location) (Watermark, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return None(), nil
	}
	t, err := time.ParseInLocation(Layout, s, loc)
	if err != nil {
		return None(), fmt.Errorf("%w: %q: %v", ErrMalformed, s, err)
	}
	return At(t), nil
}

// Store loads and saves the watermark between runs.
type Store interface {
	Load(ctx context.Context) (Watermark, error)
	Save(ctx context.Context, w Watermark) error
}

// MemoryStore keeps the watermark in memory. It is safe for concurrent use.
type MemoryStore struct {
	mu    sync.Mutex
	w     Watermark
	saves int
}

// NewMemoryStore returns a store preloaded with w.
func NewMemoryStore(w Watermark) *MemoryStore {
	return &MemoryStore{w: w}
}

// Load returns the stored watermark.
func (m *MemoryStore) Load(ctx context.Context) (Watermark, error) {
	if err := ctx.Err(); err != nil {
		return None(), err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.w, nil
}

// Save replaces the stored watermark.
func (m *MemoryStore) Save(ctx context.Context, w Watermark) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.w = w
	m.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

var _ Store = (*MemoryStore)(nil)
