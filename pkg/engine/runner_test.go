package engine_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-tsbackup/pkg/config"
	"github.com/paulschiretz/pgl-tsbackup/pkg/engine"
	"github.com/paulschiretz/pgl-tsbackup/pkg/hints"
	"github.com/paulschiretz/pgl-tsbackup/pkg/hook"
	"github.com/paulschiretz/pgl-tsbackup/pkg/lockfile"
	"github.com/paulschiretz/pgl-tsbackup/pkg/plog"
	"github.com/paulschiretz/pgl-tsbackup/pkg/retryledger"
	"github.com/paulschiretz/pgl-tsbackup/pkg/scanner"
	"github.com/paulschiretz/pgl-tsbackup/pkg/timespec"
	"github.com/paulschiretz/pgl-tsbackup/pkg/watermark"
)

var (
	runTime = time.Date(2024, 1, 2, 12, 0, 0, 0, time.Local)
	oldTime = time.Date(2024, 1, 1, 8, 0, 0, 0, time.Local)
)

// TestHelperProcess stands in for the hook shell. It fails for command lines containing "fail".
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, arg := range args {
		if arg == "--" {
			args = args[i+1:]
			break
		}
	}
	if len(args) > 0 && strings.Contains(args[0], "fail") {
		os.Exit(1)
	}
	os.Exit(0)
}

func mockHooks(executed *[]string) *hook.Executor {
	mock := func(ctx context.Context, name string, arg ...string) *exec.Cmd {
		cmdLine := strings.Join(arg[1:], " ")
		*executed = append(*executed, cmdLine)
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess", "--", cmdLine)
		cmd.Env = []string{"GO_WANT_HELPER_PROCESS=1"}
		return cmd
	}
	return hook.NewExecutor(hook.WithCommandContext(mock), hook.WithOutput(&bytes.Buffer{}, &bytes.Buffer{}))
}

func createFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			t.Fatalf("failed to create dir for %s: %v", rel, err)
		}
		if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", rel, err)
		}
		if err := os.Chtimes(abs, oldTime, oldTime); err != nil {
			t.Fatalf("failed to set mtime on %s: %v", rel, err)
		}
	}
}

func newConfig(src, dst string) config.Config {
	c := config.NewDefault()
	c.Source = src
	c.Destination = dst
	c.Retention = timespec.New(7, timespec.Days)
	return c
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestRunOnce(t *testing.T) {
	t.Run("End To End With Config File", func(t *testing.T) {
		src, dst := t.TempDir(), filepath.Join(t.TempDir(), "backup")
		createFiles(t, src, map[string]string{"a.txt": "alpha", "docs/b.md": "beta"})

		cfgPath := filepath.Join(t.TempDir(), config.DefaultConfigFileName)
		if err := config.Generate(cfgPath, newConfig(src, dst), false); err != nil {
			t.Fatalf("failed to generate config: %v", err)
		}
		cfg, err := config.Load(cfgPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		var logBuf bytes.Buffer
		runner := engine.NewRunner(cfg, engine.WithClock(fixedClock(runTime)), engine.WithLogger(plog.New(&logBuf, plog.LevelDebug)))
		rep, err := runner.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}

		if rep.Copied != 2 || rep.Failed != 0 || !rep.WatermarkAdvanced {
			t.Errorf("unexpected report %+v", rep)
		}
		data, err := os.ReadFile(filepath.Join(dst, "a_20240102120000.txt"))
		if err != nil || string(data) != "alpha" {
			t.Fatalf("expected a_20240102120000.txt with the source content, got %q (err %v)", data, err)
		}
		if !exists(filepath.Join(dst, "docs", "b_20240102120000.md")) {
			t.Error("expected docs/b_20240102120000.md to exist")
		}
		if !strings.Contains(logBuf.String(), "level=INFO msg=COPY source="+filepath.Join(src, "a.txt")) {
			t.Errorf("expected an INFO line per copy, got: %s", logBuf.String())
		}

		raw, err := os.ReadFile(cfgPath)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(raw), "2024-01-02 12:00:00") {
			t.Errorf("expected last_backup_time to be persisted, got:\n%s", raw)
		}
		w, err := config.NewFileStore(cfgPath).Load(context.Background())
		if err != nil || w.String() != "2024-01-02 12:00:00" {
			t.Errorf("expected persisted watermark 2024-01-02 12:00:00, got %q (err %v)", w.String(), err)
		}
		if exists(filepath.Join(dst, lockfile.LockFileName)) {
			t.Error("expected the lock to be released")
		}
		if runner.State() != engine.StateIdle {
			t.Errorf("expected state idle, but got %s", runner.State())
		}
	})

	t.Run("Second Run Copies Nothing", func(t *testing.T) {
		src, dst := t.TempDir(), t.TempDir()
		createFiles(t, src, map[string]string{"a.txt": "alpha", "docs/b.md": "beta"})
		store := watermark.NewMemoryStore(watermark.None())

		if _, err := engine.NewRunner(newConfig(src, dst), engine.WithStore(store), engine.WithClock(fixedClock(runTime)),
			engine.WithLogger(plog.New(&bytes.Buffer{}, plog.LevelDebug))).RunOnce(context.Background()); err != nil {
			t.Fatalf("first run failed: %v", err)
		}

		var logBuf bytes.Buffer
		rep, err := engine.NewRunner(newConfig(src, dst), engine.WithStore(store), engine.WithClock(fixedClock(runTime.Add(time.Hour))),
			engine.WithLogger(plog.New(&logBuf, plog.LevelDebug))).RunOnce(context.Background())
		if err != nil {
			t.Fatalf("second run failed: %v", err)
		}
		if rep.Copied != 0 || rep.Skipped != 2 {
			t.Errorf("expected 0 copied and 2 skipped, but got %+v", rep)
		}
		if got := strings.Count(logBuf.String(), `level=DEBUG msg="No changes detected"`); got != 2 {
			t.Errorf("expected one no-changes line per file, but got %d", got)
		}
		w, _ := store.Load(context.Background())
		if !w.Time().Equal(runTime.Add(time.Hour)) {
			t.Errorf("expected watermark to advance to the second run, but got %v", w.Time())
		}
	})

	t.Run("Prunes Expired Backups", func(t *testing.T) {
		src, dst := t.TempDir(), t.TempDir()
		createFiles(t, src, map[string]string{"a.txt": "alpha"})
		createFiles(t, dst, map[string]string{"a_20231201120000.txt": "old", "notes.txt": "no timestamp"})

		rep, err := engine.NewRunner(newConfig(src, dst), engine.WithStore(watermark.NewMemoryStore(watermark.None())),
			engine.WithClock(fixedClock(runTime)), engine.WithLogger(plog.New(&bytes.Buffer{}, plog.LevelDebug))).RunOnce(context.Background())
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if rep.Removed != 1 || rep.Unparseable != 1 {
			t.Errorf("expected 1 removed and 1 unparseable, but got %+v", rep)
		}
		if exists(filepath.Join(dst, "a_20231201120000.txt")) {
			t.Error("expected the expired backup to be removed")
		}
		if !exists(filepath.Join(dst, "a_20240102120000.txt")) || !exists(filepath.Join(dst, "notes.txt")) {
			t.Error("expected the new backup and the unparseable file to be kept")
		}
	})

	t.Run("Retry Policy Records And Retries Failures", func(t *testing.T) {
		src, dst := t.TempDir(), t.TempDir()
		createFiles(t, src, map[string]string{"a.txt": "alpha", "sub/b.txt": "beta"})
		// A file where the target directory should be makes the copy of sub/b.txt fail.
		createFiles(t, dst, map[string]string{"sub": "blocker"})
		store := watermark.NewMemoryStore(watermark.None())

		rep, err := engine.NewRunner(newConfig(src, dst), engine.WithStore(store), engine.WithClock(fixedClock(runTime)),
			engine.WithLogger(plog.New(&bytes.Buffer{}, plog.LevelDebug))).RunOnce(context.Background())
		if err != nil {
			t.Fatalf("expected per-file failures not to fail the run, but got: %v", err)
		}
		if rep.Failed != 1 || rep.FailedPaths[0] != "sub/b.txt" || !rep.WatermarkAdvanced {
			t.Fatalf("unexpected report %+v", rep)
		}
		ledger, err := retryledger.Load(dst)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := ledger.Keys()["sub/b.txt"]; !ok || ledger.Len() != 1 {
			t.Fatalf("expected sub/b.txt in the retry ledger, got %+v", ledger.Paths)
		}

		if err := os.Remove(filepath.Join(dst, "sub")); err != nil {
			t.Fatal(err)
		}
		rep, err = engine.NewRunner(newConfig(src, dst), engine.WithStore(store), engine.WithClock(fixedClock(runTime.Add(time.Hour))),
			engine.WithLogger(plog.New(&bytes.Buffer{}, plog.LevelDebug))).RunOnce(context.Background())
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if rep.Copied != 1 || rep.Retried != 1 || rep.Failed != 0 {
			t.Errorf("expected only the failed file to be retried, but got %+v", rep)
		}
		if !exists(filepath.Join(dst, "sub", "b_20240102130000.txt")) {
			t.Error("expected the retried file to be copied with the second run's timestamp")
		}
		if exists(filepath.Join(dst, retryledger.FileName)) {
			t.Error("expected the retry ledger to be removed once empty")
		}
	})

	t.Run("Hold Policy Keeps Watermark On Failure", func(t *testing.T) {
		src, dst := t.TempDir(), t.TempDir()
		createFiles(t, src, map[string]string{"a.txt": "alpha", "sub/b.txt": "beta"})
		createFiles(t, dst, map[string]string{"sub": "blocker"})
		previous := watermark.At(oldTime.Add(-time.Hour))
		store := watermark.NewMemoryStore(previous)

		cfg := newConfig(src, dst)
		cfg.WatermarkPolicy = config.PolicyHold
		var logBuf bytes.Buffer
		rep, err := engine.NewRunner(cfg, engine.WithStore(store), engine.WithClock(fixedClock(runTime)),
			engine.WithLogger(plog.New(&logBuf, plog.LevelDebug))).RunOnce(context.Background())
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if rep.WatermarkAdvanced || store.Saves() != 0 {
			t.Errorf("expected the watermark to stay put, report %+v, saves %d", rep, store.Saves())
		}
		if w, _ := store.Load(context.Background()); w != previous {
			t.Errorf("expected %v, but got %v", previous, w)
		}
		if exists(filepath.Join(dst, retryledger.FileName)) {
			t.Error("expected no retry ledger under the hold policy")
		}
		if !strings.Contains(logBuf.String(), "level=WARN") {
			t.Errorf("expected a warning, got: %s", logBuf.String())
		}
	})

	t.Run("Unreadable Directory Is Retried Once Readable", func(t *testing.T) {
		if runtime.GOOS == "windows" || os.Geteuid() == 0 {
			t.Skip("permission bits are not enforced for this user")
		}
		src, dst := t.TempDir(), t.TempDir()
		createFiles(t, src, map[string]string{"a.txt": "alpha", "locked/b.txt": "beta"})
		locked := filepath.Join(src, "locked")
		if err := os.Chmod(locked, 0000); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = os.Chmod(locked, 0755) })
		store := watermark.NewMemoryStore(watermark.None())

		var logBuf bytes.Buffer
		rep, err := engine.NewRunner(newConfig(src, dst), engine.WithStore(store), engine.WithClock(fixedClock(runTime)),
			engine.WithLogger(plog.New(&logBuf, plog.LevelDebug))).RunOnce(context.Background())
		if err != nil {
			t.Fatalf("expected the unreadable directory not to fail the run, but got: %v", err)
		}
		if rep.Copied != 1 || rep.Failed != 1 || rep.FailedPaths[0] != "locked" {
			t.Fatalf("unexpected report %+v", rep)
		}
		ledger, err := retryledger.Load(dst)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := ledger.Keys()["locked"]; !ok || ledger.Len() != 1 {
			t.Fatalf("expected locked in the retry ledger, got %+v", ledger.Paths)
		}
		if !strings.Contains(logBuf.String(), `msg="Copy finished" run_id=`) {
			t.Errorf("expected the copy summary on the run logger, got: %s", logBuf.String())
		}

		if err := os.Chmod(locked, 0755); err != nil {
			t.Fatal(err)
		}
		rep, err = engine.NewRunner(newConfig(src, dst), engine.WithStore(store), engine.WithClock(fixedClock(runTime.Add(time.Hour))),
			engine.WithLogger(plog.New(&bytes.Buffer{}, plog.LevelDebug))).RunOnce(context.Background())
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if rep.Copied != 1 || rep.Retried != 1 || rep.Failed != 0 {
			t.Errorf("expected only the files below the directory to be retried, but got %+v", rep)
		}
		if !exists(filepath.Join(dst, "locked", "b_20240102130000.txt")) {
			t.Error("expected the file below the directory to be backed up by the second run")
		}
		if exists(filepath.Join(dst, retryledger.FileName)) {
			t.Error("expected the retry ledger to be removed once empty")
		}
	})

	t.Run("Hold Policy Keeps Watermark On Unreadable Directory", func(t *testing.T) {
		if runtime.GOOS == "windows" || os.Geteuid() == 0 {
			t.Skip("permission bits are not enforced for this user")
		}
		src, dst := t.TempDir(), t.TempDir()
		createFiles(t, src, map[string]string{"a.txt": "alpha", "locked/b.txt": "beta"})
		locked := filepath.Join(src, "locked")
		if err := os.Chmod(locked, 0000); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = os.Chmod(locked, 0755) })
		previous := watermark.At(oldTime.Add(-time.Hour))
		store := watermark.NewMemoryStore(previous)

		cfg := newConfig(src, dst)
		cfg.WatermarkPolicy = config.PolicyHold
		rep, err := engine.NewRunner(cfg, engine.WithStore(store), engine.WithClock(fixedClock(runTime)),
			engine.WithLogger(plog.New(&bytes.Buffer{}, plog.LevelDebug))).RunOnce(context.Background())
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if rep.Failed != 1 || rep.WatermarkAdvanced || store.Saves() != 0 {
			t.Errorf("expected the watermark to stay put, report %+v, saves %d", rep, store.Saves())
		}
		if w, _ := store.Load(context.Background()); w != previous {
			t.Errorf("expected %v, but got %v", previous, w)
		}
	})

	t.Run("Dry Run Writes Nothing", func(t *testing.T) {
		src, dst := t.TempDir(), filepath.Join(t.TempDir(), "backup")
		createFiles(t, src, map[string]string{"a.txt": "alpha"})
		store := watermark.NewMemoryStore(watermark.None())

		cfg := newConfig(src, dst)
		cfg.DryRun = true
		rep, err := engine.NewRunner(cfg, engine.WithStore(store), engine.WithClock(fixedClock(runTime)),
			engine.WithLogger(plog.New(&bytes.Buffer{}, plog.LevelDebug))).RunOnce(context.Background())
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if rep.Copied != 1 || rep.WatermarkAdvanced || !rep.DryRun {
			t.Errorf("unexpected report %+v", rep)
		}
		if exists(dst) {
			t.Error("expected the destination not to be created")
		}
		if store.Saves() != 0 {
			t.Errorf("expected no watermark save, but got %d", store.Saves())
		}
	})

	t.Run("Lock Held By Another Run", func(t *testing.T) {
		src, dst := t.TempDir(), t.TempDir()
		createFiles(t, src, map[string]string{"a.txt": "alpha"})
		lock, err := lockfile.Acquire(context.Background(), dst, lockfile.Owner{AppID: "test", RunID: "other"})
		if err != nil {
			t.Fatal(err)
		}
		defer lock.Release()
		store := watermark.NewMemoryStore(watermark.None())

		runner := engine.NewRunner(newConfig(src, dst), engine.WithStore(store), engine.WithClock(fixedClock(runTime)),
			engine.WithLogger(plog.New(&bytes.Buffer{}, plog.LevelDebug)))
		_, err = runner.RunOnce(context.Background())
		if !hints.IsHint(err) {
			t.Fatalf("expected a hint error, but got: %v", err)
		}
		var active *lockfile.ErrLockActive
		if !errors.As(err, &active) || active.RunID != "other" {
			t.Errorf("expected ErrLockActive for run other, but got: %v", err)
		}
		if store.Saves() != 0 || exists(filepath.Join(dst, "a_20240102120000.txt")) {
			t.Error("expected nothing to happen while locked")
		}
		if runner.State() != engine.StateIdle {
			t.Errorf("expected a skipped run to leave the runner idle, but got %s", runner.State())
		}
	})

	t.Run("Missing Source Fails", func(t *testing.T) {
		store := watermark.NewMemoryStore(watermark.None())
		runner := engine.NewRunner(newConfig(filepath.Join(t.TempDir(), "nope"), t.TempDir()), engine.WithStore(store),
			engine.WithLogger(plog.New(&bytes.Buffer{}, plog.LevelDebug)))
		_, err := runner.RunOnce(context.Background())
		if !errors.Is(err, scanner.ErrSourceUnreadable) {
			t.Fatalf("expected ErrSourceUnreadable, but got: %v", err)
		}
		if runner.State() != engine.StateFailed {
			t.Errorf("expected state failed, but got %s", runner.State())
		}
		if store.Saves() != 0 {
			t.Error("expected no watermark save after a failed run")
		}
	})

	t.Run("Cancelled During Run", func(t *testing.T) {
		src, dst := t.TempDir(), t.TempDir()
		createFiles(t, src, map[string]string{"a.txt": "alpha", "b.txt": "beta"})
		ctx, cancel := context.WithCancel(context.Background())
		store := &cancellingStore{MemoryStore: watermark.NewMemoryStore(watermark.None()), cancel: cancel}

		runner := engine.NewRunner(newConfig(src, dst), engine.WithStore(store), engine.WithClock(fixedClock(runTime)),
			engine.WithLogger(plog.New(&bytes.Buffer{}, plog.LevelDebug)))
		_, err := runner.RunOnce(ctx)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, but got: %v", err)
		}
		if store.Saves() != 0 {
			t.Error("expected a cancelled run not to persist the watermark")
		}
		if exists(filepath.Join(dst, lockfile.LockFileName)) {
			t.Error("expected the lock to be released after cancellation")
		}
	})

	t.Run("Hooks Run Around The Backup", func(t *testing.T) {
		src, dst := t.TempDir(), t.TempDir()
		createFiles(t, src, map[string]string{"a.txt": "alpha"})
		cfg := newConfig(src, dst)
		cfg.PreBackupHooks = []string{"echo pre"}
		cfg.PostBackupHooks = []string{"echo post"}

		var executed []string
		_, err := engine.NewRunner(cfg, engine.WithStore(watermark.NewMemoryStore(watermark.None())), engine.WithClock(fixedClock(runTime)),
			engine.WithHookExecutor(mockHooks(&executed)), engine.WithLogger(plog.New(&bytes.Buffer{}, plog.LevelDebug))).RunOnce(context.Background())
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if len(executed) != 2 || executed[0] != "echo pre" || executed[1] != "echo post" {
			t.Errorf("expected pre then post hook, but got %v", executed)
		}
	})

	t.Run("Failing Pre Hook Aborts", func(t *testing.T) {
		src, dst := t.TempDir(), t.TempDir()
		createFiles(t, src, map[string]string{"a.txt": "alpha"})
		cfg := newConfig(src, dst)
		cfg.PreBackupHooks = []string{"fail mount"}
		cfg.PostBackupHooks = []string{"echo post"}
		store := watermark.NewMemoryStore(watermark.None())

		var executed []string
		_, err := engine.NewRunner(cfg, engine.WithStore(store), engine.WithClock(fixedClock(runTime)),
			engine.WithHookExecutor(mockHooks(&executed)), engine.WithLogger(plog.New(&bytes.Buffer{}, plog.LevelDebug))).RunOnce(context.Background())
		if err == nil || !strings.Contains(err.Error(), "pre-backup hook failed") {
			t.Fatalf("expected a pre-backup hook failure, but got: %v", err)
		}
		if exists(filepath.Join(dst, "a_20240102120000.txt")) || store.Saves() != 0 {
			t.Error("expected nothing to be copied or persisted")
		}
		if len(executed) != 2 || executed[1] != "echo post" {
			t.Errorf("expected the post hook to run after the failure, but got %v", executed)
		}
	})

	t.Run("Writes Metrics Textfile", func(t *testing.T) {
		src, dst := t.TempDir(), t.TempDir()
		createFiles(t, src, map[string]string{"a.txt": "alpha"})
		cfg := newConfig(src, dst)
		cfg.MetricsTextfile = filepath.Join(t.TempDir(), "pgl_tsbackup.prom")

		if _, err := engine.NewRunner(cfg, engine.WithStore(watermark.NewMemoryStore(watermark.None())), engine.WithClock(fixedClock(runTime)),
			engine.WithLogger(plog.New(&bytes.Buffer{}, plog.LevelDebug))).RunOnce(context.Background()); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		data, err := os.ReadFile(cfg.MetricsTextfile)
		if err != nil {
			t.Fatalf("expected a metrics textfile, but got: %v", err)
		}
		if !strings.Contains(string(data), `pgl_tsbackup_last_run_files{action="copied"} 1`) {
			t.Errorf("expected the copied count in the textfile, got:\n%s", data)
		}
	})

	t.Run("Overlapping Calls Are Rejected", func(t *testing.T) {
		src, dst := t.TempDir(), t.TempDir()
		createFiles(t, src, map[string]string{"a.txt": "alpha"})
		store := &blockingStore{MemoryStore: watermark.NewMemoryStore(watermark.None()), entered: make(chan struct{}), release: make(chan struct{})}
		runner := engine.NewRunner(newConfig(src, dst), engine.WithStore(store), engine.WithClock(fixedClock(runTime)),
			engine.WithLogger(plog.New(&bytes.Buffer{}, plog.LevelDebug)))

		done := make(chan error, 1)
		go func() {
			_, err := runner.RunOnce(context.Background())
			done <- err
		}()
		<-store.entered
		if _, err := runner.RunOnce(context.Background()); !hints.Is(err, engine.ErrRunInProgress) {
			t.Errorf("expected ErrRunInProgress, but got: %v", err)
		}
		close(store.release)
		if err := <-done; err != nil {
			t.Errorf("expected the first run to succeed, but got: %v", err)
		}
	})
}

func TestPrune(t *testing.T) {
	t.Run("Removes Expired Backups", func(t *testing.T) {
		dst := t.TempDir()
		createFiles(t, dst, map[string]string{"a_20231201120000.txt": "old", "a_20240102110000.txt": "new"})

		rep, err := engine.NewRunner(newConfig(t.TempDir(), dst), engine.WithStore(watermark.NewMemoryStore(watermark.None())),
			engine.WithClock(fixedClock(runTime)), engine.WithLogger(plog.New(&bytes.Buffer{}, plog.LevelDebug))).Prune(context.Background())
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if rep.Removed != 1 {
			t.Errorf("expected 1 removal, but got %+v", rep)
		}
		if exists(filepath.Join(dst, "a_20231201120000.txt")) || !exists(filepath.Join(dst, "a_20240102110000.txt")) {
			t.Error("expected only the expired backup to be removed")
		}
	})

	t.Run("Missing Destination Is A Hint", func(t *testing.T) {
		_, err := engine.NewRunner(newConfig(t.TempDir(), filepath.Join(t.TempDir(), "nope")),
			engine.WithStore(watermark.NewMemoryStore(watermark.None())), engine.WithLogger(plog.New(&bytes.Buffer{}, plog.LevelDebug))).Prune(context.Background())
		if !hints.IsHint(err) {
			t.Errorf("expected a hint, but got: %v", err)
		}
	})
}

// cancellingStore cancels the run while it loads the watermark.
type cancellingStore struct {
	*watermark.MemoryStore
	cancel context.CancelFunc
}

func (s *cancellingStore) Load(ctx context.Context) (watermark.Watermark, error) {
	s.cancel()
	return watermark.None(), nil
}

// blockingStore holds Load until release is closed.
type blockingStore struct {
	*watermark.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) Load(ctx context.Context) (watermark.Watermark, error) {
	close(s.entered)
	<-s.release
	return s.MemoryStore.Load(ctx)
}
