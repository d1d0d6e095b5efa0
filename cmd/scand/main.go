package main

import (
	"fmt"
	"os"

	"github.com/relogix/scand/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "scand: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
