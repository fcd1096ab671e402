package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/feed-ingestor/internal/app"
)

func newRunCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll all feeds until interrupted",
		Long: `Lists the configured sources, then runs a pass over every feed,
sleeps for scheduler.poll_interval_seconds and repeats until SIGINT or SIGTERM.
On a stop signal the current pass drains for up to
scheduler.shutdown_grace_seconds, then the filter snapshot is written.`,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("start: %w", err)
			}
			defer func() {
				if closeErr := a.Close(); closeErr != nil {
					rt.logger.Warn("shutdown incomplete", zap.Error(closeErr))
				}
			}()

			if once {
				summary := a.RunOnce(ctx)
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(summary); err != nil {
					return fmt.Errorf("write summary: %w", err)
				}
				return nil
			}
			return a.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single pass and exit")
	return cmd
}
