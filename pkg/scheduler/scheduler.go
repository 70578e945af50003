// Package scheduler invokes a backup run on a cron schedule until the process
// is interrupted.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/pgl-tsbackup/pkg/hints"
	"github.com/paulschiretz/pgl-tsbackup/pkg/plog"
)

// ErrInvalidSchedule is returned for a cron expression that cannot be parsed.
var ErrInvalidSchedule = errors.New("invalid schedule")

// errStopSignal ends the errgroup when a stop signal arrives.
var errStopSignal = errors.New("stop signal received")

// RunFunc performs one scheduled run.
type RunFunc func(ctx context.Context) error

// Scheduler runs a RunFunc on a cron schedule. Overlapping invocations are
// skipped while the previous one is still running.
type Scheduler struct {
	spec       string
	run        RunFunc
	log        *plog.Logger
	loc        *time.Location
	runOnStart bool
	signals    []os.Signal

	mu   sync.Mutex
	cron *cron.Cron
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *plog.Logger) Option { return func(s *Scheduler) { s.log = l } }

// WithLocation sets the zone the schedule is evaluated in. Defaults to time.Local.
func WithLocation(loc *time.Location) Option { return func(s *Scheduler) { s.loc = loc } }

// WithRunOnStart runs once immediately when Run starts.
func WithRunOnStart(b bool) Option { return func(s *Scheduler) { s.runOnStart = b } }

// WithSignals sets the signals that stop Run. Defaults to SIGINT and SIGTERM.
func WithSignals(sigs ...os.Signal) Option { return func(s *Scheduler) { s.signals = sigs } }

// New validates spec (standard five-field cron or a descriptor such as
// "@hourly") and returns a Scheduler for run.
func New(spec string, run RunFunc, opts ...Option) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidSchedule, spec, err)
	}
	s := &Scheduler{
		spec:    spec,
		run:     run,
		log:     plog.Default(),
		loc:     time.Local,
		signals: []os.Signal{os.Interrupt, syscall.SIGTERM},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run blocks until ctx ends or a stop signal arrives, and waits for a run in
// progress to finish before returning. A stop signal is not an error.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	logger := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddJob(s.spec, cron.FuncJob(func() { s.runJob(gctx) })); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidSchedule, s.spec, err)
	}
	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	g.Go(func() error {
		return s.waitForSignal(gctx)
	})

	g.Go(func() error {
		c.Start()
		s.log.Info("Scheduler started", "schedule", s.spec, "next_run", s.Next())
		if s.runOnStart {
			s.runJob(gctx)
		}
		<-gctx.Done()
		s.log.Info("Stopping scheduler, waiting for a running backup to finish")
		<-c.Stop().Done()
		return nil
	})

	err := g.Wait()
	s.log.Info("Scheduler stopped")
	if errors.Is(err, errStopSignal) {
		return nil
	}
	return err
}

// Next returns the next scheduled run, or the zero time when not running.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) waitForSignal(ctx context.Context) error {
	if len(s.signals) == 0 {
		<-ctx.Done()
		return nil
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, s.signals...)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		s.log.Notice("Received signal, shutting down", "signal", sig.String())
		return errStopSignal
	case <-ctx.Done():
		return nil
	}
}

func (s *Scheduler) runJob(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.log.Info("Starting scheduled run")
	err := s.run(ctx)
	switch {
	case err == nil:
	case hints.IsHint(err):
		s.log.Warn("Scheduled run skipped", "reason", err)
	case ctx.Err() != nil:
		s.log.Info("Scheduled run cancelled")
		return
	default:
		s.log.Error("Scheduled run failed", "error", err)
	}
	if next := s.Next(); !next.IsZero() {
		s.log.Info("Next run scheduled", "at", next.Format(time.DateTime))
	}
}

// cronLogger routes cron's own messages to plog.
type cronLogger struct {
	log *plog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
