package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "spacectl",
		Short:         "Operator tooling for the hosting space server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newCheckRouteCmd())
	rootCmd.AddCommand(newWatchRouteCmd())

	return rootCmd
}
