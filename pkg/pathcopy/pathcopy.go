// Package pathcopy copies new and modified source files into the destination
// tree, renaming every copy to carry the run timestamp.
//
// A source file "docs/a.txt" backed up at 2024-01-02 12:00:00 lands at
// "<dest>/docs/a_20240102120000.txt". Each copy is written to a temporary
// file in the target directory and renamed into place, so a crash never
// leaves a truncated backup under a valid backup name.
//
// Backup names resolve to the second, so two runs within the same second
// would produce the same name. An existing target is never overwritten: the
// copy fails with ErrTargetExists and the file is held or retried like any
// other failure.
package pathcopy

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-tsbackup/pkg/backupname"
	"github.com/paulschiretz/pgl-tsbackup/pkg/fsutil"
	"github.com/paulschiretz/pgl-tsbackup/pkg/metrics"
	"github.com/paulschiretz/pgl-tsbackup/pkg/plog"
	"github.com/paulschiretz/pgl-tsbackup/pkg/pool"
	"github.com/paulschiretz/pgl-tsbackup/pkg/scanner"
	"github.com/paulschiretz/pgl-tsbackup/pkg/sharded"
	"github.com/paulschiretz/pgl-tsbackup/pkg/watermark"
)

// TempFilePrefix and TempFileSuffix bracket the names of in-flight copies.
const (
	TempFilePrefix = ".pgl-tsbackup-"
	TempFileSuffix = ".tmp"
)

// ErrTargetExists is returned when the backup name for this run is already taken.
var ErrTargetExists = errors.New("backup target already exists")

// IsTempFile reports whether name is an in-flight copy left by the copier.
func IsTempFile(name string) bool {
	return strings.HasPrefix(name, TempFilePrefix) && strings.HasSuffix(name, TempFileSuffix)
}

// FileCopyError describes one file that could not be backed up.
type FileCopyError struct {
	RelPath string
	AbsPath string
	Op      string
	Err     error
}

func (e *FileCopyError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.RelPath, e.Err)
}

func (e *FileCopyError) Unwrap() error { return e.Err }

// ScanFailure converts a path the scanner could not read into a failure, so it
// is held or retried like a failed copy.
func ScanFailure(s scanner.Skip) *FileCopyError {
	return &FileCopyError{RelPath: s.RelPath, AbsPath: s.AbsPath, Op: "scan", Err: s.Err}
}

// Job is the input of one copy pass.
type Job struct {
	Entries   iter.Seq2[scanner.Entry, error]
	Watermark watermark.Watermark
	DestRoot  string
	// RunTime is stamped into every backup name written by this pass.
	RunTime time.Time
	// Retry holds slash-separated relative paths that are copied even if the
	// watermark would skip them, because an earlier run failed on them. A
	// directory path admits every file below it.
	Retry map[string]struct{}
}

// Result summarises one copy pass.
type Result struct {
	Copied       []string // slash-separated relative source paths
	Skipped      int
	Retried      int
	Failed       []*FileCopyError
	BytesWritten int64
}

// FailedKeys returns the slash-separated relative paths of failed files.
func (r Result) FailedKeys() []string {
	keys := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		keys = append(keys, filepath.ToSlash(f.RelPath))
	}
	return keys
}

// Copier copies files selected by the watermark. It is not safe for
// concurrent Runs; the run lock guarantees a single pass at a time.
type Copier struct {
	buffers *pool.FixedBufferPool
	retry   fsutil.RetryPolicy
	log     *plog.Logger
	metrics metrics.Metrics
	dryRun  bool

	// dirs caches the target directories created during the current Run.
	dirs *sharded.Set
}

// Option configures a Copier.
type Option func(*Copier)

// WithLogger sets the logger used for per-file lines.
func WithLogger(l *plog.Logger) Option { return func(c *Copier) { c.log = l } }

// WithMetrics sets the counters updated during a pass.
func WithMetrics(m metrics.Metrics) Option { return func(c *Copier) { c.metrics = m } }

// WithDryRun logs decisions without writing anything.
func WithDryRun(dryRun bool) Option { return func(c *Copier) { c.dryRun = dryRun } }

// WithRetryPolicy sets the policy for transient filesystem errors.
func WithRetryPolicy(p fsutil.RetryPolicy) Option { return func(c *Copier) { c.retry = p } }

// WithBufferSizeKB sets the copy buffer size.
func WithBufferSizeKB(kb int) Option {
	return func(c *Copier) { c.buffers = pool.NewFixedBufferPoolKB(kb) }
}

// NewCopier creates a Copier.
func NewCopier(opts ...Option) *Copier {
	c := &Copier{
		buffers: pool.NewFixedBufferPool(pool.DefaultBufferSize),
		retry:   fsutil.DefaultRetryPolicy,
		log:     plog.Default(),
		metrics: &metrics.NoopMetrics{},
		dirs:    sharded.NewSet(0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TargetPath returns where the backup of the source file relPath taken at
// runTime is written below destRoot.
func TargetPath(destRoot, relPath string, runTime time.Time) string {
	return filepath.Join(destRoot, filepath.Dir(relPath), backupname.Encode(filepath.Base(relPath), runTime))
}

// Run copies every entry the watermark admits, plus every entry listed in job.Retry.
//
// Per-file failures are logged at ERROR, collected in Result.Failed and do not
// stop the pass. An error is returned only when the entry sequence itself
// fails (source unreadable, cancellation); the partial Result is still valid.
func (c *Copier) Run(ctx context.Context, job Job) (Result, error) {
	var res Result
	c.dirs.Clear()

	for entry, err := range job.Entries {
		if err != nil {
			return res, err
		}

		key := entry.Key()
		forced := retryAdmits(job.Retry, key)
		admitted := job.Watermark.Admits(entry.ModTime)
		if !admitted && !forced {
			c.log.Debug("No changes detected", "path", entry.RelPath)
			res.Skipped++
			c.metrics.AddFilesUpToDate(1)
			continue
		}
		if forced && !admitted {
			res.Retried++
			c.metrics.AddFilesRetried(1)
		}

		target := TargetPath(job.DestRoot, entry.RelPath, job.RunTime)
		if c.dryRun {
			c.log.Info("[DRY RUN] COPY", "source", entry.AbsPath, "target", target)
			res.Copied = append(res.Copied, key)
			continue
		}

		written, err := c.copyFile(ctx, entry, target)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return res, ctxErr
			}
			fe := toFileCopyError(entry, err)
			c.log.Error("Failed to copy file", "path", entry.RelPath, "op", fe.Op, "error", fe.Err)
			res.Failed = append(res.Failed, fe)
			c.metrics.AddFilesFailed(1)
			continue
		}

		c.log.Info("COPY", "source", entry.AbsPath, "target", target)
		res.Copied = append(res.Copied, key)
		res.BytesWritten += written
		c.metrics.AddFilesCopied(1)
		c.metrics.AddBytesWritten(written)
	}
	return res, nil
}

// retryAdmits reports whether key or one of its parent directories is in retry.
func retryAdmits(retry map[string]struct{}, key string) bool {
	if len(retry) == 0 {
		return false
	}
	for p := key; p != "." && p != "/" && p != ""; p = path.Dir(p) {
		if _, ok := retry[p]; ok {
			return true
		}
	}
	return false
}

func toFileCopyError(entry scanner.Entry, err error) *FileCopyError {
	var fe *FileCopyError
	if errors.As(err, &fe) {
		return fe
	}
	return &FileCopyError{RelPath: entry.RelPath, AbsPath: entry.AbsPath, Op: "copy", Err: err}
}
