package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/vietddude/riverwatch/internal/control"
)

var backupCmd = &cobra.Command{
	Use:   "backup [pipeline...]",
	Short: "Snapshot the ephemeral stores to the durable target",
	Run:   runBackup,
}

var restoreCmd = &cobra.Command{
	Use:   "restore [pipeline...]",
	Short: "Restore the ephemeral stores from the durable target and re-evaluate freshness",
	Run:   runRestore,
}

func init() {
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
}

func runBackup(cmd *cobra.Command, args []string) {
	withWatcher(func(ctx context.Context, app *control.Watcher) error {
		if len(args) == 0 {
			return app.Backup().BackupAll(ctx)
		}
		pipelines, err := app.Select(args)
		if err != nil {
			return err
		}
		var errs error
		for _, p := range pipelines {
			if err := app.Backup().Backup(ctx, p.ID()); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		return errs
	})
}

func runRestore(cmd *cobra.Command, args []string) {
	withWatcher(func(ctx context.Context, app *control.Watcher) error {
		pipelines, err := app.Select(args)
		if err != nil {
			return err
		}
		var errs error
		for _, p := range pipelines {
			res, err := p.Recover(ctx)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", p.ID(), err))
				continue
			}
			slog.Info("Restored", "pipeline", p.ID(), "state", res.State)
		}
		return errs
	})
}
