// Package cli implements the scand command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose bool
}

// NewRootCommand creates the root command for the scand CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "scand",
		Short: "scand - soft realtime signal scan engine",
		Long: `scand runs a fixed-period scan loop over a block program: signals in,
logic blocks in dependency order, signals out. Drivers bridge the signal
bus to MQTT and Postgres; an HTTP API exposes control and observation.`,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}
