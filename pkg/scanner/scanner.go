// Package scanner walks a source tree and yields one entry per regular file.
//
// The walk is lazy: entries are produced while the caller ranges over the
// sequence, so the copier starts working before the tree is fully listed.
// Paths are visited in lexical order. Symbolic links are never followed.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-tsbackup/pkg/exclusion"
	"github.com/paulschiretz/pgl-tsbackup/pkg/plog"
	"github.com/paulschiretz/pgl-tsbackup/pkg/util"
)

// ErrSourceUnreadable is returned when the source root is missing, is not a
// directory, or cannot be listed.
var ErrSourceUnreadable = errors.New("source unreadable")

// Entry describes one regular file in the source tree.
type Entry struct {
	RelPath string // relative to the source root, OS separators
	AbsPath string
	ModTime time.Time
	Mode    fs.FileMode
	Size    int64
}

// Key returns the slash-separated form of RelPath.
func (e Entry) Key() string {
	return util.NormalizePath(e.RelPath)
}

// Skip describes a path the walk could not read. Vanished paths are not reported.
type Skip struct {
	RelPath string
	AbsPath string
	IsDir   bool
	Err     error
}

// Key returns the slash-separated form of RelPath.
func (s Skip) Key() string {
	return util.NormalizePath(s.RelPath)
}

// Scanner lists the regular files below a root directory.
type Scanner struct {
	root     string
	excluder *exclusion.Matcher
	log      *plog.Logger
	onSkip   func(Skip)
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithExclusions skips every path the matcher excludes. Excluded directories are not descended.
func WithExclusions(m *exclusion.Matcher) Option {
	return func(s *Scanner) { s.excluder = m }
}

// WithLogger sets the logger used for skip and warning lines.
func WithLogger(l *plog.Logger) Option {
	return func(s *Scanner) { s.log = l }
}

// WithSkipHandler calls fn for every unreadable directory or file below the
// root. fn runs on the goroutine ranging over the sequence.
func WithSkipHandler(fn func(Skip)) Option {
	return func(s *Scanner) { s.onSkip = fn }
}

// New creates a Scanner for root.
func New(root string, opts ...Option) *Scanner {
	s := &Scanner{root: filepath.Clean(root), log: plog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the cleaned source root.
func (s *Scanner) Root() string { return s.root }

// CheckRoot verifies that the root exists, is a directory and can be opened.
func CheckRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSourceUnreadable, root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrSourceUnreadable, root)
	}
	f, err := os.Open(root)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSourceUnreadable, root, err)
	}
	return f.Close()
}

// Open validates the root and returns the lazy sequence of entries.
//
// The sequence yields a non-nil error at most once, as its last element: the
// context error on cancellation, or ErrSourceUnreadable if the root stops
// being listable after Open. Unreadable subdirectories and files are logged
// at WARN, reported to the skip handler and skipped. Files that vanish
// mid-walk are only logged.
func (s *Scanner) Open(ctx context.Context) (iter.Seq2[Entry, error], error) {
	if err := CheckRoot(s.root); err != nil {
		return nil, err
	}

	return func(yield func(Entry, error) bool) {
		_ = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				yield(Entry{}, ctxErr)
				return filepath.SkipAll
			}

			if err != nil {
				if path == s.root {
					yield(Entry{}, fmt.Errorf("%w: %s: %v", ErrSourceUnreadable, s.root, err))
					return filepath.SkipAll
				}
				isDir := d != nil && d.IsDir()
				s.log.Warn("Skipping unreadable path", "path", path, "error", err)
				s.skip(path, isDir, err)
				if isDir {
					return filepath.SkipDir
				}
				return nil
			}

			if path == s.root {
				return nil
			}

			rel, relErr := filepath.Rel(s.root, path)
			if relErr != nil {
				s.log.Warn("Skipping path outside source root", "path", path, "error", relErr)
				return nil
			}
			key := util.NormalizePath(rel)

			switch {
			case d.Type()&fs.ModeSymlink != 0:
				s.log.Debug("Skipping symlink", "path", rel)
				return nil
			case d.IsDir():
				if s.excluder.Excluded(key, true) {
					s.log.Debug("Skipping excluded directory", "path", rel)
					return filepath.SkipDir
				}
				return nil
			case !d.Type().IsRegular():
				s.log.Debug("Skipping non-regular file", "path", rel, "type", d.Type().String())
				return nil
			}

			if s.excluder.Excluded(key, false) {
				s.log.Debug("Skipping excluded file", "path", rel)
				return nil
			}

			info, infoErr := d.Info()
			if infoErr != nil {
				s.log.Warn("Skipping unreadable file", "path", rel, "error", infoErr)
				s.skip(path, false, infoErr)
				return nil
			}

			entry := Entry{
				RelPath: rel,
				AbsPath: path,
				ModTime: info.ModTime(),
				Mode:    info.Mode().Perm(),
				Size:    info.Size(),
			}
			if !yield(entry, nil) {
				return filepath.SkipAll
			}
			return nil
		})
	}, nil
}

func (s *Scanner) skip(path string, isDir bool, err error) {
	if s.onSkip == nil || errors.Is(err, fs.ErrNotExist) {
		return
	}
	rel, relErr := filepath.Rel(s.root, path)
	if relErr != nil {
		return
	}
	s.onSkip(Skip{RelPath: rel, AbsPath: path, IsDir: isDir, Err: err})
}

// Collect drains a sequence into a slice, stopping at the first error.
func Collect(seq iter.Seq2[Entry, error]) ([]Entry, error) {
	var entries []Entry
	for e, err := range seq {
		if err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
