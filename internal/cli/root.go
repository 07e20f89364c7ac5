package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/riverwatch/internal/control"
	"github.com/vietddude/riverwatch/internal/core/config"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "riverwatch",
	Short: "River telemetry and graph watcher",
	Long: `Riverwatch fetches river telemetry and flow graphs on a schedule, publishes them
to a web directory and Home Assistant, marks them stale when they stop updating,
and backs them up so a restart does not lose the last good data.`,
	Run: runWatcher,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

// setup loads .env and the configuration, then installs the logger.
func setup() *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}
	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
	return cfg
}

// withWatcher builds the watcher, runs fn under a signal-aware context and
// releases the watcher afterwards.
func withWatcher(fn func(ctx context.Context, w *control.Watcher) error) {
	cfg := setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := control.NewWatcher(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize Watcher", "error", err)
		os.Exit(1)
	}

	runErr := fn(ctx, app)
	if err := app.Close(); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}
	if runErr != nil {
		slog.Error("Command failed", "error", runErr)
		os.Exit(1)
	}
}

func runWatcher(cmd *cobra.Command, args []string) {
	withWatcher(func(ctx context.Context, app *control.Watcher) error {
		slog.Info("Watcher starting", "config", cfgPath)
		err := app.Start(ctx)
		slog.Info("Shutting down...")
		return err
	})
}
