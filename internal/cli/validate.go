package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/relogix/scand/internal/config"
	"github.com/relogix/scand/internal/engine"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <program.yaml>",
		Short: "Validate a program without running it",
		Long: `Load a program, construct every block and build the scan plan, then
print the plan instead of running it. Catches unknown block kinds, bad
parameters, unbound signals, multi-writer conflicts and combinational
cycles before deployment.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	cfg, err := config.Load(path)
	if err != nil {
		return WrapExitError(ExitConfigError, "invalid configuration", err)
	}

	eng, err := engine.New(cfg, nil)
	if err != nil {
		return WrapExitError(ExitConfigError, "invalid program", err)
	}

	out := cmd.OutOrStdout()
	plan := eng.Plan()
	fmt.Fprintf(out, "%s: %d signals, %d blocks, scan every %dms\n",
		path, len(cfg.Signals), len(cfg.Blocks), cfg.ScanTimeMS)
	for i, layer := range plan.Layers {
		fmt.Fprintf(out, "  layer %d: %s\n", i, strings.Join(layer, ", "))
	}
	for _, e := range plan.RelaxedEdges {
		fmt.Fprintf(out, "  feedback: %s -> %s via %s (reads previous scan)\n",
			e.From, e.To, e.Signal)
	}
	if opts.Verbose {
		for _, b := range cfg.Blocks {
			fmt.Fprintf(out, "  block %s kind=%s inputs=%v outputs=%v\n",
				b.Name, b.Kind, b.Inputs, b.Outputs)
		}
	}
	fmt.Fprintln(out, "OK")
	return nil
}
