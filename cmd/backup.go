package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-tsbackup/pkg/engine"
)

func newBackupCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Copy files changed since the last run and prune expired backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			rep, err := engine.NewRunner(cfg).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), rep)
			return nil
		},
	}
}

func printReport(out io.Writer, rep engine.Report) {
	title := "Backup finished"
	if rep.DryRun {
		title = "Dry run finished"
	}
	fmt.Fprintf(out, "%s %s %s\n", prefix(), okStyle.Sprint(title), subtleStyle.Sprintf("(%s)", rep.Duration.Round(time.Millisecond)))
	fmt.Fprintf(out, "%s %s\n", prefix(), infoStyle.Sprintf("copied %d, skipped %d, retried %d, %d bytes written",
		rep.Copied, rep.Skipped, rep.Retried, rep.BytesWritten))
	fmt.Fprintf(out, "%s %s\n", prefix(), infoStyle.Sprintf("removed %d, spared %d, unparseable %d",
		rep.Removed, rep.Spared, rep.Unparseable))

	if rep.Failed > 0 {
		fmt.Fprintf(out, "%s %s\n", prefix(), errorStyle.Sprintf("%d file(s) failed to copy", rep.Failed))
		for _, p := range rep.FailedPaths {
			fmt.Fprintf(out, "    %s\n", subtleStyle.Sprint(p))
		}
	}
	if !rep.DryRun && !rep.WatermarkAdvanced {
		fmt.Fprintf(out, "%s %s\n", prefix(), warnStyle.Sprint("last backup time was not advanced"))
	}
}
