package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-tsbackup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-tsbackup/pkg/config"
	"github.com/paulschiretz/pgl-tsbackup/pkg/plog"
	"github.com/paulschiretz/pgl-tsbackup/pkg/preflight"
	"github.com/paulschiretz/pgl-tsbackup/pkg/timespec"
	"github.com/paulschiretz/pgl-tsbackup/pkg/util"
)

type initOptions struct {
	source      string
	destination string
	retention   string
	secondStage string
	exclude     []string
	force       bool
}

func newInitCommand(opts *rootOptions) *cobra.Command {
	in := &initOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, opts, in)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&in.source, "source", "s", "", "Directory tree to back up.")
	flags.StringVarP(&in.destination, "destination", "d", "", "Directory receiving the timestamped copies.")
	flags.StringVar(&in.retention, "retention", "7d", "Retention window, e.g. 36h or 7d.")
	flags.StringVar(&in.secondStage, "second-stage", "0d", "Keep one expired backup every N hours/days; 0d disables.")
	flags.StringSliceVar(&in.exclude, "exclude", nil, "Glob patterns to leave out (repeatable).")
	flags.BoolVarP(&in.force, "force", "f", false, "Overwrite an existing configuration file without asking.")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("destination")
	return cmd
}

func runInit(cmd *cobra.Command, opts *rootOptions, in *initOptions) error {
	out := cmd.OutOrStdout()

	path, err := util.ExpandedAbsPath(opts.configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration path: %w", err)
	}
	src, err := util.ExpandedAbsPath(in.source)
	if err != nil {
		return fmt.Errorf("invalid source path: %w", err)
	}
	dst, err := util.ExpandedAbsPath(in.destination)
	if err != nil {
		return fmt.Errorf("invalid destination path: %w", err)
	}
	if err := preflight.CheckSourceAccessible(src); err != nil {
		return err
	}
	if err := preflight.CheckPathsNotNested(src, dst); err != nil {
		return err
	}

	c := config.NewDefault()
	c.Source = src
	c.Destination = dst
	c.Exclude = util.MergeAndDeduplicate(in.exclude)
	if c.Retention, err = timespec.Parse(in.retention); err != nil {
		return fmt.Errorf("invalid --retention: %w", err)
	}
	if c.Retention.IsZero() {
		return fmt.Errorf("invalid --retention: %w: must be greater than zero", timespec.ErrInvalidTimeMagnitude)
	}
	if c.SecondStage, err = timespec.Parse(in.secondStage); err != nil {
		return fmt.Errorf("invalid --second-stage: %w", err)
	}

	force := in.force
	if _, err := os.Stat(path); err == nil && !force {
		fmt.Fprintf(out, "%s %s\n", prefix(), warnStyle.Sprintf("Configuration file already exists at %s.", path))
		if !PromptForConfirmation(cmd.InOrStdin(), out, "Overwrite it? All custom settings will be lost.", false) {
			plog.Info(buildinfo.Name + " init operation canceled.")
			return nil
		}
		force = true
	}

	if err := config.Generate(path, c, force); err != nil {
		if errors.Is(err, config.ErrConfigExists) {
			return fmt.Errorf("%w: use --force to overwrite %s", err, path)
		}
		return err
	}
	fmt.Fprintf(out, "%s %s %s\n", prefix(), okStyle.Sprint("Wrote configuration to"), path)
	return nil
}
