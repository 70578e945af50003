// Package hook runs the user's shell commands before and after a backup run.
package hook

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/paulschiretz/pgl-tsbackup/pkg/plog"
)

// Stage names passed to hook commands in PGL_TSBACKUP_HOOK_STAGE.
const (
	StagePreBackup  = "pre-backup"
	StagePostBackup = "post-backup"
)

// Plan is one batch of hook commands.
type Plan struct {
	Stage    string
	Commands []string
	// Env is appended to the inherited environment of every command.
	Env    []string
	DryRun bool
}

// Executor runs hook commands through the platform shell.
type Executor struct {
	// commandContext allows mocking os/exec for testing hooks.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
	log            *plog.Logger
	stdout         io.Writer
	stderr         io.Writer
}

// Option configures an Executor.
type Option func(*Executor)

// WithCommandContext replaces exec.CommandContext.
func WithCommandContext(fn func(ctx context.Context, name string, arg ...string) *exec.Cmd) Option {
	return func(e *Executor) { e.commandContext = fn }
}

// WithLogger sets the logger.
func WithLogger(l *plog.Logger) Option { return func(e *Executor) { e.log = l } }

// WithOutput sets where command output goes. Defaults to os.Stdout and os.Stderr.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(e *Executor) { e.stdout, e.stderr = stdout, stderr }
}

// NewExecutor creates an Executor.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		commandContext: exec.CommandContext,
		log:            plog.Default(),
		stdout:         os.Stdout,
		stderr:         os.Stderr,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes p.Commands in order and stops at the first failure.
func (e *Executor) Run(ctx context.Context, p Plan) error {
	if len(p.Commands) == 0 {
		return nil
	}
	e.log.Info("Running hook commands", "stage", p.Stage, "count", len(p.Commands))

	for _, command := range p.Commands {
		if err := ctx.Err(); err != nil {
			return err
		}

		if p.DryRun {
			e.log.Info("[DRY RUN] Executing command", "stage", p.Stage, "command", command)
			continue
		}
		e.log.Info("Executing command", "stage", p.Stage, "command", command)

		cmd := e.createCommand(ctx, command)
		cmd.Env = append(append(cmd.Environ(), "PGL_TSBACKUP_HOOK_STAGE="+p.Stage), p.Env...)
		cmd.Stdout = e.stdout
		cmd.Stderr = e.stderr

		if err := cmd.Run(); err != nil {
			// A cancelled context kills the command; report the cancellation instead.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%s command '%s' failed: %w", p.Stage, command, err)
		}
	}
	return nil
}
