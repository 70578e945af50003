// Package exclusion decides which source paths the scanner leaves out of a backup.
//
// Two sources of rules are combined: glob patterns from the configuration
// (doublestar syntax, so "**" spans directories) and an optional
// gitignore-style file at the root of the source tree.
package exclusion

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/paulschiretz/pgl-tsbackup/pkg/util"
)

// IgnoreFileName is the gitignore-style file looked up at the source root.
const IgnoreFileName = ".pgl-tsbackupignore"

// ErrInvalidPattern is returned for a glob pattern doublestar cannot parse.
var ErrInvalidPattern = errors.New("invalid exclusion pattern")

// pattern stores a pre-analyzed glob.
type pattern struct {
	raw           string // The original pattern for logging/debugging.
	glob          string // The normalized pattern.
	matchBasename bool   // If true, the match is against the path's basename; otherwise, the full relative path.
}

// Matcher reports whether a relative path is excluded.
// The zero value excludes nothing.
type Matcher struct {
	// literals are for exact full-path matches, which are the fastest to check.
	literals map[string]struct{}
	// basenameLiterals are for exact basename matches (e.g., "node_modules").
	basenameLiterals map[string]struct{}
	globs            []pattern
	ignoreFile       *ignore.GitIgnore
}

// New compiles the configured glob patterns.
// A pattern without a slash matches the basename at any depth, like .gitignore.
func New(patterns []string) (*Matcher, error) {
	m := &Matcher{
		literals:         make(map[string]struct{}),
		basenameLiterals: make(map[string]struct{}),
	}

	for _, raw := range util.MergeAndDeduplicate(patterns) {
		p := normalize(strings.TrimPrefix(raw, "./"))
		p = strings.TrimSuffix(p, "/")
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, raw)
		}

		matchBasename := !strings.Contains(p, "/")
		if !strings.ContainsAny(p, "*?[]{}") {
			if matchBasename {
				m.basenameLiterals[p] = struct{}{}
			} else {
				m.literals[p] = struct{}{}
			}
			continue
		}
		m.globs = append(m.globs, pattern{raw: raw, glob: p, matchBasename: matchBasename})
	}
	return m, nil
}

// LoadIgnoreFile compiles IgnoreFileName from root if it exists.
// A missing file is not an error.
func (m *Matcher) LoadIgnoreFile(root string) error {
	path := filepath.Join(root, IgnoreFileName)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", IgnoreFileName, err)
	}

	compiled, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		return fmt.Errorf("compile %s: %w", IgnoreFileName, err)
	}
	m.ignoreFile = compiled
	return nil
}

// HasIgnoreFile reports whether an ignore file was loaded.
func (m *Matcher) HasIgnoreFile() bool {
	return m != nil && m.ignoreFile != nil
}

// Excluded reports whether the slash-separated relative path is excluded.
// isDir must be true for directories so that "dir/" rules apply to them.
func (m *Matcher) Excluded(relKey string, isDir bool) bool {
	if m == nil || relKey == "" || relKey == "." {
		return false
	}
	// The ignore file never backs itself up.
	if relKey == IgnoreFileName {
		return true
	}

	if m.ignoreFile != nil {
		candidate := relKey
		if isDir {
			candidate += "/"
		}
		if m.ignoreFile.MatchesPath(candidate) {
			return true
		}
	}

	key := normalize(relKey)
	if _, ok := m.literals[key]; ok {
		return true
	}
	base := key
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		base = key[i+1:]
	}
	if _, ok := m.basenameLiterals[base]; ok {
		return true
	}

	for _, p := range m.globs {
		target := key
		if p.matchBasename {
			target = base
		}
		// Patterns were validated in New, so Match cannot fail here.
		if ok, _ := doublestar.Match(p.glob, target); ok {
			return true
		}
	}
	return false
}

func normalize(p string) string {
	p = filepath.ToSlash(p)
	if util.IsHostCaseInsensitiveFS() {
		p = strings.ToLower(p)
	}
	return p
}
