// Package pathretention removes backups that have fallen out of the retention
// window.
//
// Every regular file below the destination root is a backup whose timestamp is
// read from its name (see package backupname). Files older than the window are
// removed unless the second stage spares them. Files without a parseable
// timestamp are reported and never touched.
package pathretention

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-tsbackup/pkg/backupname"
	"github.com/paulschiretz/pgl-tsbackup/pkg/lockfile"
	"github.com/paulschiretz/pgl-tsbackup/pkg/pathcopy"
	"github.com/paulschiretz/pgl-tsbackup/pkg/pathretentionmetrics"
	"github.com/paulschiretz/pgl-tsbackup/pkg/plog"
	"github.com/paulschiretz/pgl-tsbackup/pkg/retryledger"
)

// Result counts what a pruning pass did.
type Result struct {
	Kept        int
	Removed     int
	Spared      int
	Unparseable int
	Failed      int
}

// PathRetainer applies a Policy to a destination tree.
type PathRetainer struct {
	log     *plog.Logger
	metrics pathretentionmetrics.Metrics
	loc     *time.Location
}

// Option configures a PathRetainer.
type Option func(*PathRetainer)

// WithLogger sets the logger for removal and warning lines.
func WithLogger(l *plog.Logger) Option { return func(r *PathRetainer) { r.log = l } }

// WithMetrics sets the counters updated during a pass.
func WithMetrics(m pathretentionmetrics.Metrics) Option {
	return func(r *PathRetainer) { r.metrics = m }
}

// WithLocation sets the zone backup name timestamps are read in. Defaults to time.Local.
func WithLocation(loc *time.Location) Option { return func(r *PathRetainer) { r.loc = loc } }

// NewPathRetainer creates a PathRetainer.
func NewPathRetainer(opts ...Option) *PathRetainer {
	r := &PathRetainer{
		log:     plog.Default(),
		metrics: &pathretentionmetrics.NoopMetrics{},
		loc:     time.Local,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Plan classifies every file below destRoot without changing anything.
// Decisions are returned in lexical path order. A missing destRoot yields no decisions.
func (r *PathRetainer) Plan(ctx context.Context, destRoot string, policy Policy, now time.Time) ([]Decision, error) {
	destRoot = filepath.Clean(destRoot)
	if _, err := os.Stat(destRoot); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.log.Debug("Backup directory does not exist yet, nothing to prune", "path", destRoot)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to access backup directory %s: %w", destRoot, err)
	}

	var decisions []Decision
	err := filepath.WalkDir(destRoot, func(absPath string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if absPath == destRoot {
				return err
			}
			r.log.Warn("Skipping unreadable path in backup directory", "path", absPath, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() || isInternal(d.Name()) {
			return nil
		}

		relPath, err := filepath.Rel(destRoot, absPath)
		if err != nil {
			return err
		}

		decision := Decision{RelPath: relPath, AbsPath: absPath}
		name, err := backupname.DecodeIn(d.Name(), r.loc)
		if err != nil {
			decision.Action = ActionUnparseable
		} else {
			decision.Timestamp = name.Timestamp
			decision.Action = Classify(name.Timestamp, now, policy)
		}
		decisions = append(decisions, decision)
		return nil
	})
	if err != nil {
		return decisions, fmt.Errorf("failed to scan backup directory %s: %w", destRoot, err)
	}
	return decisions, nil
}

// Prune removes the backups below destRoot that Plan marks for removal.
// Removal failures are logged and counted but do not fail the pass.
func (r *PathRetainer) Prune(ctx context.Context, destRoot string, policy Policy, now time.Time) (Result, error) {
	decisions, err := r.Plan(ctx, destRoot, policy, now)
	if err != nil {
		return Result{}, err
	}

	t := &task{
		PathRetainer: r,
		ctx:          ctx,
		absBasePath:  filepath.Clean(destRoot),
		decisions:    decisions,
		dryRun:       policy.DryRun,
	}
	return t.execute()
}

// isInternal reports whether name is bookkeeping the tool keeps in the destination.
func isInternal(name string) bool {
	return lockfile.IsLockFile(name) || retryledger.IsLedgerFile(name) || pathcopy.IsTempFile(name)
}
