package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gratwin/internal/app"
)

const stopTimeout = 10 * time.Second

func newRunCmd() *cobra.Command {
	var (
		watch     bool
		untilDone bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the twin until interrupted",
		Long:  `Load the config, start the driver loop and keep it running until SIGINT/SIGTERM, a fatal unit failure, or (with --until-done) every unit has finished.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.NewApp(configPath(cmd), app.Options{
				In:           cmd.InOrStdin(),
				Out:          cmd.OutOrStdout(),
				Watch:        watch,
				StopWhenDone: untilDone,
			})
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				stopCtx, stop := context.WithTimeout(context.Background(), stopTimeout)
				defer stop()
				_ = a.Stop(stopCtx, app.StopFatalError)
				return err
			}

			reason := app.StopAppStop
			select {
			case <-ctx.Done():
				reason = app.StopSignal
			case <-a.Done():
			}

			stopCtx, stop := context.WithTimeout(context.Background(), stopTimeout)
			defer stop()
			if err := a.Stop(stopCtx, reason); err != nil {
				return fmt.Errorf("twin failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), app.Summarize(a.Snapshot()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "reload the config file when it changes")
	cmd.Flags().BoolVar(&untilDone, "until-done", false, "exit once every unit has reached a final state")
	return cmd
}
