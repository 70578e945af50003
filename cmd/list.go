package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-tsbackup/pkg/config"
	"github.com/paulschiretz/pgl-tsbackup/pkg/lockfile"
	"github.com/paulschiretz/pgl-tsbackup/pkg/pathretention"
	"github.com/paulschiretz/pgl-tsbackup/pkg/plog"
	"github.com/paulschiretz/pgl-tsbackup/pkg/retryledger"
)

func newListCommand(opts *rootOptions) *cobra.Command {
	var expiredOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the backups in the destination and what the next prune would do with them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return runList(cmd, cfg, time.Now(), expiredOnly)
		},
	}
	cmd.Flags().BoolVar(&expiredOnly, "expired", false, "Only show backups the next prune would remove.")
	return cmd
}

func runList(cmd *cobra.Command, cfg config.Config, now time.Time, expiredOnly bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	mark, err := config.NewFileStore(cfg.Path).Load(ctx)
	if err != nil {
		return err
	}
	if mark.IsSet() {
		fmt.Fprintf(out, "%s %s %s\n", prefix(), infoStyle.Sprint("last backup:"), mark.String())
	} else {
		fmt.Fprintf(out, "%s %s %s\n", prefix(), infoStyle.Sprint("last backup:"), subtleStyle.Sprint("never"))
	}

	if lock, err := lockfile.Read(cfg.Destination); err == nil {
		fmt.Fprintf(out, "%s %s\n", prefix(), warnStyle.Sprintf("locked by run %s (PID %d on %s), last heartbeat %s",
			lock.RunID, lock.PID, lock.Hostname, lock.LastUpdate.Local().Format(time.DateTime)))
	} else if !errors.Is(err, fs.ErrNotExist) {
		plog.Debug("Could not read lock file", "error", err)
	}

	ledger, err := retryledger.Load(cfg.Destination)
	if err != nil {
		fmt.Fprintf(out, "%s %s\n", prefix(), errorStyle.Sprintf("retry ledger unreadable: %v", err))
	} else if ledger.Len() > 0 {
		fmt.Fprintf(out, "%s %s\n", prefix(), warnStyle.Sprintf("%d file(s) pending retry", ledger.Len()))
		for _, e := range ledger.Paths {
			fmt.Fprintf(out, "    %s %s\n", e.RelPath, subtleStyle.Sprintf("(%d attempt(s): %s)", e.Attempts, e.LastError))
		}
	}

	policy := pathretention.Policy{Window: cfg.Retention, SecondStage: cfg.SecondStage, DryRun: true}
	decisions, err := pathretention.NewPathRetainer().Plan(ctx, cfg.Destination, policy, now)
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}
	printDecisions(out, decisions, expiredOnly)
	return nil
}

var actionStyles = map[pathretention.Action]*color.Color{
	pathretention.ActionKeep:        okStyle,
	pathretention.ActionRemove:      errorStyle,
	pathretention.ActionSpare:       warnStyle,
	pathretention.ActionUnparseable: subtleStyle,
}

func printDecisions(out io.Writer, decisions []pathretention.Decision, expiredOnly bool) {
	counts := make(map[pathretention.Action]int)
	for _, d := range decisions {
		counts[d.Action]++
		if expiredOnly && d.Action != pathretention.ActionRemove {
			continue
		}
		stamp := "-"
		if !d.Timestamp.IsZero() {
			stamp = d.Timestamp.Format(time.DateTime)
		}
		fmt.Fprintf(out, "  %-19s  %s  %s\n", stamp, actionStyles[d.Action].Sprintf("%-11s", d.Action), d.RelPath)
	}
	fmt.Fprintf(out, "%s %s\n", prefix(), infoStyle.Sprintf("%d backup(s): %d kept, %d expired, %d spared, %d unparseable",
		len(decisions), counts[pathretention.ActionKeep], counts[pathretention.ActionRemove],
		counts[pathretention.ActionSpare], counts[pathretention.ActionUnparseable]))
}
