package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"hostingspace/app/internal/routes"
)

func newCheckRouteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-route <name>",
		Short: "Check a route name against the naming rules without contacting the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			name := args[0]

			err := routes.ValidateSlug(name)
			var invalid *routes.InvalidSlugError
			if errors.As(err, &invalid) {
				fmt.Fprintf(out, "%s %s: %s\n", name, stateColor(routes.StateInvalid).Sprint("invalid"), invalid.Reason)
				return fmt.Errorf("route name %q is not valid", name)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "%s %s\n", name, color.New(color.FgGreen).Sprint("valid"))
			return nil
		},
	}
}

func stateColor(state routes.State) *color.Color {
	switch state {
	case routes.StateAvailable:
		return color.New(color.FgGreen, color.Bold)
	case routes.StateTaken:
		return color.New(color.FgRed, color.Bold)
	case routes.StateInvalid:
		return color.New(color.FgYellow)
	case routes.StateError:
		return color.New(color.FgMagenta)
	default:
		return color.New(color.FgCyan)
	}
}
