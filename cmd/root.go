// Package cmd implements the pgl-tsbackup command line.
package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-tsbackup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-tsbackup/pkg/config"
	"github.com/paulschiretz/pgl-tsbackup/pkg/plog"
)

var (
	prefixStyle = color.New(color.FgHiCyan, color.Bold)
	infoStyle   = color.New(color.FgHiWhite)
	okStyle     = color.New(color.FgHiGreen, color.Bold)
	subtleStyle = color.New(color.FgHiBlack)
	warnStyle   = color.New(color.FgHiMagenta, color.Bold)
	errorStyle  = color.New(color.FgHiRed, color.Bold)
)

func prefix() string {
	return prefixStyle.Sprintf("[%s]", buildinfo.Name)
}

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	dryRun     bool
	quiet      bool
	noColor    bool
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           buildinfo.AppID,
		Short:         "Incremental, timestamp-driven file backups",
		Long:          "Copies files changed since the last run into a destination tree, stamping each copy with the run time, and prunes copies that have aged out of the retention window.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
			plog.SetQuiet(opts.quiet)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", config.DefaultConfigFileName, "Path to the configuration file.")
	flags.StringVar(&opts.logLevel, "log-level", "", "Override the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "Show what would be done without making any changes.")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress informational log output.")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable colored output.")

	root.AddCommand(newInitCommand(opts))
	root.AddCommand(newBackupCommand(opts))
	root.AddCommand(newPruneCommand(opts))
	root.AddCommand(newListCommand(opts))
	root.AddCommand(newScheduleCommand(opts))
	root.AddCommand(newVersionCommand())

	return root
}

// loadConfig reads the configuration file, applies the command line
// overrides and sets up logging accordingly.
func loadConfig(opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg, err = cfg.WithOverrides(config.Overrides{LogLevel: opts.logLevel, DryRun: opts.dryRun})
	if err != nil {
		return config.Config{}, err
	}

	plog.SetLevel(plog.LevelFromString(cfg.LogLevel))
	if cfg.LogFile != "" {
		if err := plog.OpenLogFile(cfg.LogFile); err != nil {
			return config.Config{}, err
		}
	}
	cfg.LogSummary()
	return cfg, nil
}
