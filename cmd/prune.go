package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-tsbackup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-tsbackup/pkg/engine"
	"github.com/paulschiretz/pgl-tsbackup/pkg/plog"
)

func newPruneCommand(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove backups older than the retention window without copying",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if !cfg.DryRun && !force {
				fmt.Fprintf(out, "%s %s\n", prefix(), warnStyle.Sprint("This permanently deletes backups in "+cfg.Destination))
				fmt.Fprintf(out, "    retention window: %s\n", cfg.Retention)
				if cfg.SecondStage.Magnitude() > 0 {
					fmt.Fprintf(out, "    second stage:     keep every %s\n", cfg.SecondStage)
				}
				if !PromptForConfirmation(cmd.InOrStdin(), out, "Are you sure you want to continue?", false) {
					plog.Info(buildinfo.Name + " prune operation canceled.")
					return nil
				}
			}

			rep, err := engine.NewRunner(cfg).Prune(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s\n", prefix(), okStyle.Sprintf("removed %d, spared %d, unparseable %d",
				rep.Removed, rep.Spared, rep.Unparseable))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip the confirmation prompt.")
	return cmd
}
