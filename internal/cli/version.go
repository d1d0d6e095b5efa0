package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/relogix/scand/internal/version"
)

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "scand %s %s/%s %s\n",
				version.Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
		},
	}
}
