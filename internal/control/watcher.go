package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/riverwatch/internal/core/backup"
	"github.com/vietddude/riverwatch/internal/core/config"
	"github.com/vietddude/riverwatch/internal/core/domain"
	"github.com/vietddude/riverwatch/internal/health"
	"github.com/vietddude/riverwatch/internal/infra/storage/postgres"
	"github.com/vietddude/riverwatch/internal/pipeline"
)

const shutdownTimeout = 10 * time.Second

// Watcher is the main application struct that manages the pipelines' lifecycle.
type Watcher struct {
	cfg          *config.AppConfig
	pipelines    []*pipeline.Pipeline
	backup       *backup.Manager
	scheduler    *backup.Scheduler
	healthServer *health.Server
	db           *postgres.DB
	log          *slog.Logger
}

// NewWatcher creates a new Watcher instance with all dependencies initialized.
func NewWatcher(ctx context.Context, cfg *config.AppConfig) (*Watcher, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	// 1. Durable target
	target, db, err := buildTarget(ctx, cfg)
	if err != nil {
		return nil, err
	}
	mgr := backup.NewManager(target)

	scheduler, err := backup.NewScheduler(mgr, cfg.Backup.Schedule)
	if err != nil {
		_ = target.Close()
		return nil, err
	}

	// 2. Pipelines
	pipelines := make([]*pipeline.Pipeline, 0, len(cfg.Pipelines))
	sources := make([]health.StatusSource, 0, len(cfg.Pipelines))
	for _, pc := range cfg.Pipelines {
		p, err := buildPipeline(pc, cfg, loc, mgr)
		if err != nil {
			_ = target.Close()
			return nil, err
		}
		pipelines = append(pipelines, p)
		sources = append(sources, p)
	}

	// 3. Health
	healthServer := health.NewServer(health.NewMonitor(sources...), cfg.Server.Port)

	return &Watcher{
		cfg:          cfg,
		pipelines:    pipelines,
		backup:       mgr,
		scheduler:    scheduler,
		healthServer: healthServer,
		db:           db,
		log:          slog.Default(),
	}, nil
}

// Pipelines returns every configured pipeline.
func (w *Watcher) Pipelines() []*pipeline.Pipeline { return w.pipelines }

// Pipeline returns the pipeline with the given id.
func (w *Watcher) Pipeline(id domain.PipelineID) (*pipeline.Pipeline, error) {
	for _, p := range w.pipelines {
		if p.ID() == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("unknown pipeline %q", id)
}

// Select returns the named pipelines, or all of them when ids is empty.
func (w *Watcher) Select(ids []string) ([]*pipeline.Pipeline, error) {
	if len(ids) == 0 {
		return w.pipelines, nil
	}
	out := make([]*pipeline.Pipeline, 0, len(ids))
	for _, id := range ids {
		p, err := w.Pipeline(id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Backup returns the backup manager.
func (w *Watcher) Backup() *backup.Manager { return w.backup }

// Recover restores and evaluates every pipeline. It must run before Start.
func (w *Watcher) Recover(ctx context.Context) {
	for _, p := range w.pipelines {
		if _, err := p.Recover(ctx); err != nil {
			w.log.Error("Recovery failed", "pipeline", p.ID(), "error", err)
		}
	}
}

// Start recovers the pipelines, then runs their loops, the backup
// scheduler and the health server until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	w.Recover(ctx)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.healthServer.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return w.healthServer.Stop(stopCtx)
	})

	if w.db != nil {
		w.db.StartMetricsCollector(ctx)
	}

	g.Go(func() error {
		w.scheduler.Start(ctx)
		return nil
	})

	for _, p := range w.pipelines {
		w.log.Info("Starting pipeline", "pipeline", p.ID())
		g.Go(func() error {
			return p.Run(ctx)
		})
	}

	w.log.Info("Watcher started",
		"pipelines", len(w.pipelines),
		"backup_target", w.backup.Target().Name(),
		"backup_schedule", w.cfg.Backup.Schedule,
		"port", w.cfg.Server.Port)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close releases the durable target.
func (w *Watcher) Close() error {
	w.log.Info("Stopping Watcher...")
	return w.backup.Target().Close()
}
