package hook_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/paulschiretz/pgl-tsbackup/pkg/hook"
	"github.com/paulschiretz/pgl-tsbackup/pkg/plog"
)

// TestHelperProcess stands in for the shell. It fails for command lines containing "fail".
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
	os.Stdout.WriteString("stage=" + os.Getenv("PGL_TSBACKUP_HOOK_STAGE") + " run=" + os.Getenv("PGL_TSBACKUP_RUN_ID"))
	os.Exit(0)
}

func newExecutor(executed *[]string, stdout *bytes.Buffer, logBuf *bytes.Buffer) *hook.Executor {
	mock := func(ctx context.Context, name string, arg ...string) *exec.Cmd {
		// The command line follows "-c" (sh) or "/C" (cmd).
		cmdLine := strings.Join(arg[1:], " ")
		*executed = append(*executed, cmdLine)

		cs := []string{"-test.run=TestHelperProcess", "--", cmdLine}
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = []string{"GO_WANT_HELPER_PROCESS=1"}
		return cmd
	}
	return hook.NewExecutor(
		hook.WithCommandContext(mock),
		hook.WithOutput(stdout, stdout),
		hook.WithLogger(plog.New(logBuf, plog.LevelDebug)),
	)
}

func TestRun(t *testing.T) {
	t.Run("Runs Commands In Order With Stage Env", func(t *testing.T) {
		var executed []string
		var stdout, logBuf bytes.Buffer
		e := newExecutor(&executed, &stdout, &logBuf)

		err := e.Run(context.Background(), hook.Plan{
			Stage:    hook.StagePreBackup,
			Commands: []string{"echo one", "echo two"},
			Env:      []string{"PGL_TSBACKUP_RUN_ID=abc"},
		})
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if len(executed) != 2 || executed[0] != "echo one" || executed[1] != "echo two" {
			t.Errorf("expected both commands in order, but got %v", executed)
		}
		if !strings.Contains(stdout.String(), "stage=pre-backup run=abc") {
			t.Errorf("expected stage and run id in the command env, got: %q", stdout.String())
		}
		if !strings.Contains(logBuf.String(), `level=INFO msg="Executing command" stage=pre-backup command="echo one"`) {
			t.Errorf("expected an INFO line per command, got: %s", logBuf.String())
		}
	})

	t.Run("Stops At First Failure", func(t *testing.T) {
		var executed []string
		var stdout, logBuf bytes.Buffer
		e := newExecutor(&executed, &stdout, &logBuf)

		err := e.Run(context.Background(), hook.Plan{
			Stage:    hook.StagePostBackup,
			Commands: []string{"fail this", "echo never"},
		})
		if err == nil || !strings.Contains(err.Error(), "post-backup command 'fail this' failed") {
			t.Fatalf("expected a command failure, but got: %v", err)
		}
		if len(executed) != 1 {
			t.Errorf("expected execution to stop after the failure, but ran %v", executed)
		}
	})

	t.Run("Dry Run Executes Nothing", func(t *testing.T) {
		var executed []string
		var stdout, logBuf bytes.Buffer
		e := newExecutor(&executed, &stdout, &logBuf)

		err := e.Run(context.Background(), hook.Plan{Stage: hook.StagePreBackup, Commands: []string{"echo x"}, DryRun: true})
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if len(executed) != 0 {
			t.Errorf("expected no command to run, but got %v", executed)
		}
		if !strings.Contains(logBuf.String(), "[DRY RUN] Executing command") {
			t.Errorf("expected a dry run line, got: %s", logBuf.String())
		}
	})

	t.Run("No Commands", func(t *testing.T) {
		var executed []string
		var stdout, logBuf bytes.Buffer
		if err := newExecutor(&executed, &stdout, &logBuf).Run(context.Background(), hook.Plan{Stage: hook.StagePreBackup}); err != nil {
			t.Errorf("expected no error, but got: %v", err)
		}
		if logBuf.Len() != 0 {
			t.Errorf("expected no output for an empty plan, got: %s", logBuf.String())
		}
	})

	t.Run("Cancelled Context", func(t *testing.T) {
		var executed []string
		var stdout, logBuf bytes.Buffer
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := newExecutor(&executed, &stdout, &logBuf).Run(ctx, hook.Plan{Stage: hook.StagePreBackup, Commands: []string{"echo x"}})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, but got: %v", err)
		}
	})
}
