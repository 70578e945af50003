package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-tsbackup/pkg/engine"
	"github.com/paulschiretz/pgl-tsbackup/pkg/scheduler"
)

func newScheduleCommand(opts *rootOptions) *cobra.Command {
	var (
		spec       string
		runOnStart bool
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run backups on the configured cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if spec != "" {
				cfg.ScheduleCron = spec
			}
			if cfg.ScheduleCron == "" {
				return errors.New("no schedule configured: set schedule.cron or pass --cron")
			}

			runner := engine.NewRunner(cfg)
			s, err := scheduler.New(cfg.ScheduleCron, func(ctx context.Context) error {
				_, err := runner.RunOnce(ctx)
				return err
			}, scheduler.WithRunOnStart(runOnStart))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", prefix(), infoStyle.Sprint("Running backups on schedule"), cfg.ScheduleCron)
			return s.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&spec, "cron", "", "Override the configured cron expression.")
	cmd.Flags().BoolVar(&runOnStart, "run-now", false, "Run one backup immediately before waiting for the schedule.")
	return cmd
}
