package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/paulschiretz/pgl-tsbackup/cmd"
	"github.com/paulschiretz/pgl-tsbackup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-tsbackup/pkg/hints"
	"github.com/paulschiretz/pgl-tsbackup/pkg/plog"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:]))
}

// run executes the command line and returns the process exit code.
// Hints (skipped runs, nothing to do) exit 0.
func run(ctx context.Context, args []string) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer func() { _ = plog.CloseLogFile() }()

	root := cmd.NewRootCommand()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case hints.IsHint(err):
		plog.Warn(buildinfo.Name+" finished without running", "reason", err)
		return 0
	case errors.Is(err, context.Canceled):
		plog.Warn(buildinfo.Name + " was interrupted")
		return 130
	default:
		plog.Error(buildinfo.Name+" failed", "error", err)
		return 1
	}
}
