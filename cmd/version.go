package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-tsbackup/pkg/buildinfo"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the application version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", prefix(), infoStyle.Sprintf("version %s", buildinfo.Version),
				subtleStyle.Sprintf("(%s/%s, %s)", runtime.GOOS, runtime.GOARCH, runtime.Version()))
		},
	}
}
