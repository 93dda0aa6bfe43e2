package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"gratwin/internal/app"
	"gratwin/internal/task"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and list its units",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.Validate(configPath(cmd))
			if err != nil {
				return err
			}
			defs, err := cfg.UnitDefs()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config OK: %d units\n", len(defs))
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tKIND\tINTERVAL\tMAX TRIES\tRESET\tMAX RESETS\tPROBE")
			for _, d := range defs {
				reset, maxResets := "-", "-"
				if d.Kind == task.KindRepeating {
					reset, maxResets = d.ResetInterval.String(), d.MaxResets.String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s:%s\n",
					d.Name, d.Kind, d.Interval, d.MaxTries, reset, maxResets, d.Probe.Type, d.Probe.Key)
			}
			return w.Flush()
		},
	}
}
