//go:build !windows

package hook

import (
	"context"
	"os/exec"

	"golang.org/x/sys/unix"
)

// createCommand wraps command in /bin/sh -c.
func (e *Executor) createCommand(ctx context.Context, command string) *exec.Cmd {
	cmd := e.commandContext(ctx, "/bin/sh", "-c", command)
	// Own process group, so cancellation reaches the command's children too.
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
	return cmd
}
