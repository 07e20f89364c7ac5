package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/vietddude/riverwatch/internal/control"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [pipeline...]",
	Short: "Run one fetch attempt for the given pipelines (all when none given)",
	Run:   runFetch,
}

var checkStaleCmd = &cobra.Command{
	Use:   "check-stale [pipeline...]",
	Short: "Re-evaluate freshness without fetching",
	Run:   runCheckStale,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(checkStaleCmd)
}

func runFetch(cmd *cobra.Command, args []string) {
	withWatcher(func(ctx context.Context, app *control.Watcher) error {
		pipelines, err := app.Select(args)
		if err != nil {
			return err
		}
		var errs error
		for _, p := range pipelines {
			if err := p.Load(ctx); err != nil {
				slog.Warn("Failed to load status record, starting empty", "pipeline", p.ID(), "error", err)
			}
			if _, err := p.Fetch(ctx); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", p.ID(), err))
			}
		}
		return errs
	})
}

func runCheckStale(cmd *cobra.Command, args []string) {
	withWatcher(func(ctx context.Context, app *control.Watcher) error {
		pipelines, err := app.Select(args)
		if err != nil {
			return err
		}
		var errs error
		for _, p := range pipelines {
			if _, err := p.CheckStale(ctx); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", p.ID(), err))
			}
		}
		return errs
	})
}
