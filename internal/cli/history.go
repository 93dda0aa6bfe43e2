package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"gratwin/internal/app"
	"gratwin/internal/storage"
	logx "gratwin/pkg/logx"
)

func newHistoryCmd() *cobra.Command {
	var q storage.Query
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled unit outcomes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := app.OpenHistory(configPath(cmd), logx.Nop())
			if errors.Is(err, storage.ErrDisabled) {
				return fmt.Errorf("history needs storage.driver set to file or sqlite")
			}
			if err != nil {
				return err
			}
			defer st.Close()

			rows, err := st.Recent(cmd.Context(), q)
			if err != nil {
				return fmt.Errorf("failed to read history: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No outcomes recorded.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "AT\tRUN\tUNIT\tEVENT\tSTATE\tREASON\tTRIES\tRESETS\tERROR")
			for _, o := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
					o.At.Local().Format(time.DateTime), shortID(o.RunID), o.Unit, o.Event,
					o.State, dash(o.Reason), o.Tries, o.Resets, dash(o.Error))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&q.Limit, "limit", "n", 20, "maximum rows")
	cmd.Flags().StringVar(&q.Unit, "unit", "", "only this unit")
	cmd.Flags().StringVar(&q.RunID, "run", "", "only this run id")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
