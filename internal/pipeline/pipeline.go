// Package pipeline wires one fetch pipeline and runs its periodic loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vietddude/riverwatch/internal/core/backup"
	"github.com/vietddude/riverwatch/internal/core/domain"
	"github.com/vietddude/riverwatch/internal/core/fetch"
	"github.com/vietddude/riverwatch/internal/core/freshness"
	"github.com/vietddude/riverwatch/internal/core/status"
	"github.com/vietddude/riverwatch/internal/infra/storage"
)

// Config holds one pipeline's collaborators.
type Config struct {
	ID          domain.PipelineID
	Kind        domain.PipelineKind
	Interval    time.Duration
	Threshold   time.Duration
	Retry       fetch.Config
	Store       storage.Store
	Source      fetch.Source
	Transformer fetch.Transformer
	Publisher   fetch.Publisher // optional
	Overlay     freshness.Overlay
	Backup      *backup.Manager // optional
	Location    *time.Location
	Clock       func() time.Time
}

// Status is a point-in-time view of a pipeline.
type Status struct {
	ID        domain.PipelineID   `json:"id"`
	Kind      domain.PipelineKind `json:"kind"`
	State     freshness.State     `json:"state"`
	Running   bool                `json:"running"`
	Threshold string              `json:"stale_threshold"`
	Record    domain.StatusRecord `json:"status"`

	Transitions []freshness.Transition `json:"transitions,omitempty"`
}

// Pipeline runs fetch attempts for one source and keeps its store fresh.
type Pipeline struct {
	cfg       Config
	guard     *fetch.Guard
	recorder  *status.Recorder
	evaluator *freshness.Evaluator
	executor  *fetch.Executor
	running   atomic.Bool
	log       *slog.Logger
}

// New wires a pipeline. The store is registered with the backup manager,
// and the first successful fetch bootstraps an empty durable target.
func New(cfg Config) *Pipeline {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	guard := fetch.NewGuard()
	recorder := status.NewRecorder(cfg.ID, cfg.Store, cfg.Location)
	evaluator := freshness.NewEvaluator(cfg.ID, cfg.Threshold, cfg.Store, recorder, cfg.Overlay).
		WithClock(cfg.Clock)

	executor := fetch.NewExecutor(fetch.Options{
		PipelineID:  cfg.ID,
		Config:      cfg.Retry,
		Source:      cfg.Source,
		Transformer: cfg.Transformer,
		Publisher:   cfg.Publisher,
		Store:       cfg.Store,
		Recorder:    recorder,
		Evaluator:   evaluator,
		Guard:       guard,
		Clock:       cfg.Clock,
	})

	p := &Pipeline{
		cfg:       cfg,
		guard:     guard,
		recorder:  recorder,
		evaluator: evaluator,
		executor:  executor,
		log:       slog.Default().With("component", "pipeline", "pipeline", cfg.ID),
	}

	if cfg.Backup != nil {
		cfg.Backup.Register(cfg.ID, cfg.Store)
		executor.OnSuccess(p.bootstrapBackup)
	}
	return p
}

// ID returns the pipeline id.
func (p *Pipeline) ID() domain.PipelineID { return p.cfg.ID }

// Threshold returns the staleness threshold.
func (p *Pipeline) Threshold() time.Duration { return p.cfg.Threshold }

// Recorder returns the status recorder.
func (p *Pipeline) Recorder() *status.Recorder { return p.recorder }

// Recover restores the store from the durable target, reloads the status
// record and evaluates freshness once. Restore failures are logged and the
// pipeline starts from whatever the store holds.
func (p *Pipeline) Recover(ctx context.Context) (freshness.Result, error) {
	if err := p.guard.Acquire(ctx); err != nil {
		return freshness.Result{}, err
	}
	defer p.guard.Release()

	if p.cfg.Backup != nil {
		if _, err := p.cfg.Backup.Restore(ctx, p.cfg.ID); err != nil {
			p.log.Error("Restore failed, starting from current store", "error", err)
		}
	}
	if err := p.recorder.Load(ctx); err != nil {
		p.log.Error("Failed to load status record, starting empty", "error", err)
	}

	res, err := p.evaluator.Run(ctx)
	if err != nil {
		return res, fmt.Errorf("evaluate after restore: %w", err)
	}
	p.logResult("Recovered", res)
	return res, nil
}

// Load reloads the status record from the store. One-shot runs call it before
// Fetch so a failure does not overwrite the persisted last success.
func (p *Pipeline) Load(ctx context.Context) error {
	return p.recorder.Load(ctx)
}

// Fetch runs one fetch attempt.
func (p *Pipeline) Fetch(ctx context.Context) (domain.Artifact, error) {
	return p.executor.Attempt(ctx)
}

// CheckStale reloads the status record and re-evaluates freshness without
// fetching. It waits for a running attempt to finish.
func (p *Pipeline) CheckStale(ctx context.Context) (freshness.Result, error) {
	if err := p.guard.Acquire(ctx); err != nil {
		return freshness.Result{}, err
	}
	defer p.guard.Release()

	if err := p.recorder.Load(ctx); err != nil {
		return freshness.Result{}, err
	}
	res, err := p.evaluator.Run(ctx)
	if err != nil {
		return res, err
	}
	p.logResult("Checked", res)
	return res, nil
}

// Run fetches immediately, then once per interval until ctx is done.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("pipeline %s already running", p.cfg.ID)
	}
	defer p.running.Store(false)

	p.log.Info("Pipeline started", "interval", p.cfg.Interval, "stale_threshold", p.cfg.Threshold)
	p.tick(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("Pipeline stopped")
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// Status returns the current view of the pipeline.
func (p *Pipeline) Status() Status {
	return Status{
		ID:        p.cfg.ID,
		Kind:      p.cfg.Kind,
		State:     p.evaluator.State(),
		Running:   p.running.Load(),
		Threshold: p.cfg.Threshold.String(),
		Record:    p.recorder.Current(),

		Transitions: p.evaluator.History(),
	}
}

func (p *Pipeline) tick(ctx context.Context) {
	_, err := p.executor.Attempt(ctx)
	if errors.Is(err, fetch.ErrAttemptInProgress) {
		return
	}
	// Failures are recorded and logged by the executor; the next tick retries.
	if err != nil && ctx.Err() == nil {
		p.log.Debug("Tick finished with failure", "error", err)
	}
}

func (p *Pipeline) bootstrapBackup(ctx context.Context, _ domain.Artifact) {
	if _, err := p.cfg.Backup.BootstrapIfEmpty(ctx, p.cfg.ID); err != nil {
		p.log.Warn("Initial backup failed", "error", err)
	}
}

func (p *Pipeline) logResult(msg string, res freshness.Result) {
	attrs := []any{"freshness", res.Freshness, "state", res.State, "overlaid", res.Overlaid}
	if rec := p.recorder.Current(); rec.LastSuccess != nil {
		attrs = append(attrs, "last_success", humanize.Time(*rec.LastSuccess))
	}
	p.log.Info(msg, attrs...)
}
