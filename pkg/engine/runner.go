// Package engine runs one backup: preflight, lock, scan and copy everything
// modified since the last backup, prune expired copies, then persist the new
// last backup time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/paulschiretz/pgl-tsbackup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-tsbackup/pkg/config"
	"github.com/paulschiretz/pgl-tsbackup/pkg/exclusion"
	"github.com/paulschiretz/pgl-tsbackup/pkg/fsutil"
	"github.com/paulschiretz/pgl-tsbackup/pkg/hints"
	"github.com/paulschiretz/pgl-tsbackup/pkg/hook"
	"github.com/paulschiretz/pgl-tsbackup/pkg/lockfile"
	"github.com/paulschiretz/pgl-tsbackup/pkg/metrics"
	"github.com/paulschiretz/pgl-tsbackup/pkg/pathcopy"
	"github.com/paulschiretz/pgl-tsbackup/pkg/pathretention"
	"github.com/paulschiretz/pgl-tsbackup/pkg/pathretentionmetrics"
	"github.com/paulschiretz/pgl-tsbackup/pkg/plog"
	"github.com/paulschiretz/pgl-tsbackup/pkg/preflight"
	"github.com/paulschiretz/pgl-tsbackup/pkg/retryledger"
	"github.com/paulschiretz/pgl-tsbackup/pkg/runmetrics"
	"github.com/paulschiretz/pgl-tsbackup/pkg/scanner"
	"github.com/paulschiretz/pgl-tsbackup/pkg/watermark"
)

// ErrRunInProgress is returned (as a hint) when RunOnce or Prune is called
// while another call on the same Runner has not returned yet.
var ErrRunInProgress = errors.New("a run is already in progress")

// Report summarises one run.
type Report struct {
	RunID    string
	RunTime  time.Time
	Duration time.Duration
	DryRun   bool

	Copied      int
	Skipped     int
	Failed      int
	Retried     int
	Removed     int
	Spared      int
	Unparseable int

	BytesWritten int64
	// FailedPaths are the slash-separated relative source paths that failed to copy.
	FailedPaths       []string
	WatermarkAdvanced bool
}

// Runner executes backup runs for one configuration.
type Runner struct {
	cfg       config.Config
	store     watermark.Store
	clock     func() time.Time
	log       *plog.Logger
	hooks     *hook.Executor
	collector *runmetrics.Collector
	retry     fsutil.RetryPolicy

	progressInterval time.Duration

	state   atomic.Int32
	running atomic.Bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithStore sets where the last backup time is kept. Defaults to the configuration file.
func WithStore(s watermark.Store) Option { return func(r *Runner) { r.store = s } }

// WithClock sets the source of the run time. Defaults to time.Now.
func WithClock(clock func() time.Time) Option { return func(r *Runner) { r.clock = clock } }

// WithLogger sets the logger.
func WithLogger(l *plog.Logger) Option { return func(r *Runner) { r.log = l } }

// WithHookExecutor sets the executor for pre and post backup hooks.
func WithHookExecutor(e *hook.Executor) Option { return func(r *Runner) { r.hooks = e } }

// WithCollector records every run on c.
func WithCollector(c *runmetrics.Collector) Option { return func(r *Runner) { r.collector = c } }

// WithRetryPolicy sets the retry policy for transient copy errors.
func WithRetryPolicy(p fsutil.RetryPolicy) Option { return func(r *Runner) { r.retry = p } }

// NewRunner creates a Runner for cfg.
func NewRunner(cfg config.Config, opts ...Option) *Runner {
	r := &Runner{
		cfg:              cfg,
		clock:            time.Now,
		log:              plog.Default(),
		retry:            fsutil.DefaultRetryPolicy,
		progressInterval: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.store == nil {
		r.store = config.NewFileStore(cfg.Path, config.WithStoreLogger(r.log))
	}
	if r.hooks == nil {
		r.hooks = hook.NewExecutor(hook.WithLogger(r.log))
	}
	if r.collector == nil && cfg.MetricsTextfile != "" {
		r.collector = runmetrics.NewCollector(nil)
	}
	return r
}

// State returns the phase the Runner is currently in.
func (r *Runner) State() State { return State(r.state.Load()) }

func (r *Runner) setState(log *plog.Logger, s State) {
	prev := State(r.state.Swap(int32(s)))
	if prev != s {
		log.Debug("State transition", "from", prev.String(), "to", s.String())
	}
}

// RunOnce performs one complete backup run.
//
// Per-file copy failures do not fail the run; they are counted in the Report
// and handled by the configured watermark policy. A returned hint error means
// the run was skipped, for example because another run holds the lock. The
// last backup time is only persisted by a run that returns nil.
func (r *Runner) RunOnce(ctx context.Context) (rep Report, err error) {
	if !r.running.CompareAndSwap(false, true) {
		return Report{}, hints.Wrap(ErrRunInProgress)
	}
	defer r.running.Store(false)

	start := time.Now()
	now := r.clock()
	rep = Report{RunID: uuid.NewString(), RunTime: now, DryRun: r.cfg.DryRun}
	log := r.log.With("run_id", rep.RunID)

	defer func() {
		rep.Duration = time.Since(start)
		if err != nil && !hints.IsHint(err) {
			r.setState(log, StateFailed)
		} else {
			r.setState(log, StateIdle)
		}
		r.record(log, rep, err)
	}()

	if err := ctx.Err(); err != nil {
		return rep, err
	}

	src, dst := r.cfg.Source, r.cfg.Destination
	if r.cfg.DryRun {
		log.Info("Starting backup run (DRY RUN)", "source", src, "destination", dst)
	} else {
		log.Info("Starting backup run", "source", src, "destination", dst)
	}

	if err := preflight.Run(preflight.Checks{Source: src, Destination: dst, DryRun: r.cfg.DryRun, Log: log}); err != nil {
		return rep, fmt.Errorf("preflight failed: %w", err)
	}

	release, err := r.acquireLock(ctx, log, rep.RunID)
	if err != nil {
		return rep, err
	}
	defer release()

	hookEnv := []string{
		"PGL_TSBACKUP_RUN_ID=" + rep.RunID,
		"PGL_TSBACKUP_SOURCE=" + src,
		"PGL_TSBACKUP_DESTINATION=" + dst,
	}
	if err := r.hooks.Run(ctx, hook.Plan{Stage: hook.StagePreBackup, Commands: r.cfg.PreBackupHooks, Env: hookEnv, DryRun: r.cfg.DryRun}); err != nil {
		return rep, fmt.Errorf("pre-backup hook failed: %w", err)
	}
	// Post-backup hooks run after failed runs too.
	defer func() {
		result := "success"
		if err != nil {
			result = "failure"
		}
		env := append(hookEnv, "PGL_TSBACKUP_RESULT="+result)
		if hookErr := r.hooks.Run(ctx, hook.Plan{Stage: hook.StagePostBackup, Commands: r.cfg.PostBackupHooks, Env: env, DryRun: r.cfg.DryRun}); hookErr != nil {
			if errors.Is(hookErr, context.Canceled) {
				log.Info("Post-backup hooks skipped due to cancellation")
			} else {
				log.Warn("Post-backup hook failed", "error", hookErr)
			}
		}
	}()

	wm, err := r.store.Load(ctx)
	if err != nil {
		return rep, fmt.Errorf("failed to load last backup time: %w", err)
	}
	if wm.IsSet() {
		log.Info("Copying files modified after the last backup", "last_backup_time", wm.String())
	} else {
		log.Info("No last backup time, copying all files")
	}

	ledger := retryledger.Empty()
	if r.cfg.WatermarkPolicy == config.PolicyRetry {
		if ledger, err = r.loadLedger(log); err != nil {
			return rep, err
		}
	}

	matcher, err := exclusion.New(r.cfg.Exclude)
	if err != nil {
		return rep, fmt.Errorf("invalid exclusions: %w", err)
	}
	if err := matcher.LoadIgnoreFile(src); err != nil {
		return rep, fmt.Errorf("failed to load ignore file: %w", err)
	}
	if matcher.HasIgnoreFile() {
		log.Debug("Loaded ignore file", "name", exclusion.IgnoreFileName)
	}

	r.setState(log, StateScanning)
	var skipped []scanner.Skip
	seq, err := scanner.New(src,
		scanner.WithExclusions(matcher),
		scanner.WithLogger(log),
		scanner.WithSkipHandler(func(s scanner.Skip) { skipped = append(skipped, s) }),
	).Open(ctx)
	if err != nil {
		return rep, fmt.Errorf("failed to scan source: %w", err)
	}

	r.setState(log, StateCopying)
	copyMetrics := &metrics.CopyMetrics{Log: log}
	copier := pathcopy.NewCopier(
		pathcopy.WithLogger(log),
		pathcopy.WithMetrics(copyMetrics),
		pathcopy.WithDryRun(r.cfg.DryRun),
		pathcopy.WithRetryPolicy(r.retry),
	)
	copyMetrics.StartProgress("Copy progress", r.progressInterval)
	copied, err := copier.Run(ctx, pathcopy.Job{
		Entries:   seq,
		Watermark: wm,
		DestRoot:  dst,
		RunTime:   now,
		Retry:     ledger.Keys(),
	})
	copyMetrics.StopProgress()
	// Unreadable paths are held or retried like failed copies.
	for _, s := range skipped {
		copied.Failed = append(copied.Failed, pathcopy.ScanFailure(s))
	}
	copyMetrics.AddFilesFailed(int64(len(skipped)))
	copyMetrics.LogSummary("Copy finished")

	rep.Copied = len(copied.Copied)
	rep.Skipped = copied.Skipped
	rep.Retried = copied.Retried
	rep.Failed = len(copied.Failed)
	rep.FailedPaths = copied.FailedKeys()
	rep.BytesWritten = copied.BytesWritten
	if err != nil {
		return rep, fmt.Errorf("copy failed: %w", err)
	}

	r.setState(log, StatePruning)
	pruned, err := r.prune(ctx, log, now)
	rep.Removed = pruned.Removed
	rep.Spared = pruned.Spared
	rep.Unparseable = pruned.Unparseable
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return rep, ctxErr
		}
		// The copies are done; failing here would only make the next run copy them again.
		log.Warn("Pruning failed, old backups were kept", "error", err)
	}

	r.setState(log, StatePersisting)
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	if rep.WatermarkAdvanced, err = r.persist(ctx, log, ledger, copied, now); err != nil {
		return rep, err
	}

	if rep.Failed > 0 {
		log.Warn("Some files could not be copied", "failed", rep.Failed, "paths", strings.Join(rep.FailedPaths, ","))
	}
	log.Info("Backup run finished",
		"copied", rep.Copied,
		"skipped", rep.Skipped,
		"failed", rep.Failed,
		"retried", rep.Retried,
		"removed", rep.Removed,
		"spared", rep.Spared,
		"duration", time.Since(start).Truncate(time.Millisecond),
	)
	return rep, nil
}

// Prune applies the retention policy to the destination without copying anything.
func (r *Runner) Prune(ctx context.Context) (rep Report, err error) {
	if !r.running.CompareAndSwap(false, true) {
		return Report{}, hints.Wrap(ErrRunInProgress)
	}
	defer r.running.Store(false)

	start := time.Now()
	now := r.clock()
	rep = Report{RunID: uuid.NewString(), RunTime: now, DryRun: r.cfg.DryRun}
	log := r.log.With("run_id", rep.RunID)

	defer func() {
		rep.Duration = time.Since(start)
		if err != nil && !hints.IsHint(err) {
			r.setState(log, StateFailed)
		} else {
			r.setState(log, StateIdle)
		}
	}()

	if err := ctx.Err(); err != nil {
		return rep, err
	}

	dst := r.cfg.Destination
	if _, err := os.Stat(dst); errors.Is(err, os.ErrNotExist) {
		return rep, hints.Newf("destination %s does not exist, nothing to prune", dst)
	}
	if err := preflight.CheckDestinationAccessible(dst); err != nil {
		return rep, fmt.Errorf("preflight failed: %w", err)
	}

	release, err := r.acquireLock(ctx, log, rep.RunID)
	if err != nil {
		return rep, err
	}
	defer release()

	log.Info("Starting prune", "destination", dst)
	r.setState(log, StatePruning)
	pruned, err := r.prune(ctx, log, now)
	rep.Removed = pruned.Removed
	rep.Spared = pruned.Spared
	rep.Unparseable = pruned.Unparseable
	if err != nil {
		return rep, fmt.Errorf("prune failed: %w", err)
	}
	log.Info("Prune completed", "removed", rep.Removed, "spared", rep.Spared, "unparseable", rep.Unparseable)
	return rep, nil
}

func (r *Runner) prune(ctx context.Context, log *plog.Logger, now time.Time) (pathretention.Result, error) {
	policy := pathretention.Policy{
		Window:      r.cfg.Retention,
		SecondStage: r.cfg.SecondStage,
		DryRun:      r.cfg.DryRun,
	}
	log.Debug("Applying retention policy", "window", policy.Window.String(), "second_stage", policy.SecondStage.String())
	retainer := pathretention.NewPathRetainer(
		pathretention.WithLogger(log),
		pathretention.WithMetrics(&pathretentionmetrics.RetentionMetrics{Log: log}),
		pathretention.WithLocation(now.Location()),
	)
	return retainer.Prune(ctx, r.cfg.Destination, policy, now)
}

// acquireLock takes the destination lock and returns its release function.
// A lock held by a live run is reported as a hint.
func (r *Runner) acquireLock(ctx context.Context, log *plog.Logger, runID string) (func(), error) {
	dst := r.cfg.Destination
	if r.cfg.DryRun {
		if _, err := os.Stat(dst); errors.Is(err, os.ErrNotExist) {
			log.Debug("[DRY RUN] Destination does not exist, skipping lock", "path", dst)
			return func() {}, nil
		}
	}

	log.Debug("Attempting to acquire lock", "path", dst)
	lock, err := lockfile.Acquire(ctx, dst, lockfile.Owner{AppID: buildinfo.AppID, RunID: runID}, lockfile.WithLogger(log))
	if err != nil {
		var active *lockfile.ErrLockActive
		if errors.As(err, &active) {
			return nil, hints.Newf("another run is active for this destination, skipping: %w", err)
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	log.Debug("Lock acquired", "path", dst)
	return lock.Release, nil
}

// loadLedger reads the retry ledger. A corrupt ledger is discarded with a warning.
func (r *Runner) loadLedger(log *plog.Logger) (*retryledger.Ledger, error) {
	ledger, err := retryledger.Load(r.cfg.Destination)
	if err != nil {
		if errors.Is(err, retryledger.ErrCorruptLedger) {
			log.Warn("Discarding corrupt retry ledger", "name", retryledger.FileName, "error", err)
			return retryledger.Empty(), nil
		}
		return nil, err
	}
	if ledger.Len() > 0 {
		log.Info("Retrying files that failed in earlier runs", "count", ledger.Len())
	}
	return ledger, nil
}

// persist stores the new last backup time according to the watermark policy
// and reports whether it moved.
func (r *Runner) persist(ctx context.Context, log *plog.Logger, ledger *retryledger.Ledger, copied pathcopy.Result, now time.Time) (bool, error) {
	next := watermark.At(now)
	if r.cfg.DryRun {
		log.Info("[DRY RUN] Would update last backup time", "value", next.String())
		return false, nil
	}

	switch r.cfg.WatermarkPolicy {
	case config.PolicyHold:
		if len(copied.Failed) > 0 {
			log.Warn("Keeping the previous last backup time because some files failed to copy", "failed", len(copied.Failed))
			return false, nil
		}
	default:
		failures := make([]retryledger.Failure, 0, len(copied.Failed))
		for _, fe := range copied.Failed {
			failures = append(failures, retryledger.Failure{RelPath: filepath.ToSlash(fe.RelPath), Err: fe.Err})
		}
		nextLedger := ledger.Next(failures, now)
		// The ledger goes first: once the watermark moves, it is the only record of the failures.
		if err := nextLedger.Save(r.cfg.Destination); err != nil {
			return false, fmt.Errorf("failed to save retry ledger: %w", err)
		}
		if nextLedger.Len() > 0 {
			log.Notice("Failed files will be retried on the next run", "count", nextLedger.Len())
		}
	}

	if err := r.store.Save(ctx, next); err != nil {
		return false, fmt.Errorf("failed to save last backup time: %w", err)
	}
	log.Info("Updated last backup time", "value", next.String())
	return true, nil
}

func (r *Runner) record(log *plog.Logger, rep Report, err error) {
	if r.collector == nil || hints.IsHint(err) {
		return
	}
	r.collector.Observe(runmetrics.Run{
		Time:              rep.RunTime,
		Duration:          rep.Duration,
		Success:           err == nil,
		Copied:            rep.Copied,
		Skipped:           rep.Skipped,
		Failed:            rep.Failed,
		Retried:           rep.Retried,
		Removed:           rep.Removed,
		Spared:            rep.Spared,
		Unparseable:       rep.Unparseable,
		BytesWritten:      rep.BytesWritten,
		WatermarkAdvanced: rep.WatermarkAdvanced,
	})
	if r.cfg.MetricsTextfile == "" {
		return
	}
	if werr := r.collector.WriteTextfile(r.cfg.MetricsTextfile); werr != nil {
		log.Warn("Failed to write metrics textfile", "path", r.cfg.MetricsTextfile, "error", werr)
	}
}
