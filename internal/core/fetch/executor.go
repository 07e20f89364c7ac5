// Package fetch runs bounded-retry fetch attempts and records their outcome.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sethvargo/go-retry"

	"github.com/vietddude/riverwatch/internal/core/domain"
	"github.com/vietddude/riverwatch/internal/core/freshness"
	"github.com/vietddude/riverwatch/internal/infra/storage"
	"github.com/vietddude/riverwatch/internal/metrics"
)

const (
	DefaultRetryCount = 3
	DefaultRetryDelay = 5 * time.Second
)

// ErrAttemptInProgress is returned when another run holds the pipeline guard.
var ErrAttemptInProgress = errors.New("fetch attempt already in progress")

// Source is the remote fetch collaborator.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Transformer turns fetched bytes into a publishable artifact.
type Transformer interface {
	Transform(ctx context.Context, raw []byte, at time.Time) (domain.Artifact, error)
}

// Publisher pushes an artifact to a downstream platform.
type Publisher interface {
	Publish(ctx context.Context, a domain.Artifact) error
}

// Recorder is the part of status.Recorder the executor needs.
type Recorder interface {
	RecordSuccess(ctx context.Context, at time.Time, generation string) (domain.StatusRecord, error)
	RecordFailure(ctx context.Context, at time.Time, cause error) (domain.StatusRecord, error)
}

// Evaluator re-evaluates freshness after each attempt.
type Evaluator interface {
	Run(ctx context.Context) (freshness.Result, error)
}

// SuccessHook runs after a successful attempt, outside the guard.
type SuccessHook func(ctx context.Context, a domain.Artifact)

// Config holds retry settings.
type Config struct {
	RetryCount int
	RetryDelay time.Duration
}

// Options wires an executor.
type Options struct {
	PipelineID  domain.PipelineID
	Config      Config
	Source      Source
	Transformer Transformer
	Publisher   Publisher // optional
	Store       storage.ArtifactStore
	Recorder    Recorder
	Evaluator   Evaluator
	Guard       *Guard
	Clock       func() time.Time
}

// Executor performs one bounded-retry attempt per call.
type Executor struct {
	id          domain.PipelineID
	cfg         Config
	source      Source
	transformer Transformer
	publisher   Publisher
	store       storage.ArtifactStore
	recorder    Recorder
	evaluator   Evaluator
	guard       *Guard
	now         func() time.Time
	hooks       []SuccessHook
	log         *slog.Logger
}

// NewExecutor creates an executor, applying retry defaults.
func NewExecutor(opts Options) *Executor {
	cfg := opts.Config
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = DefaultRetryCount
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	guard := opts.Guard
	if guard == nil {
		guard = NewGuard()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Executor{
		id:          opts.PipelineID,
		cfg:         cfg,
		source:      opts.Source,
		transformer: opts.Transformer,
		publisher:   opts.Publisher,
		store:       opts.Store,
		recorder:    opts.Recorder,
		evaluator:   opts.Evaluator,
		guard:       guard,
		now:         now,
		log:         slog.Default().With("component", "fetch", "pipeline", opts.PipelineID),
	}
}

// OnSuccess registers a hook run after every successful attempt.
func (e *Executor) OnSuccess(h SuccessHook) {
	e.hooks = append(e.hooks, h)
}

// Attempt fetches, transforms, publishes and stores a fresh artifact, records
// the outcome and re-evaluates freshness. It returns ErrAttemptInProgress
// without side effects when another run holds the guard.
func (e *Executor) Attempt(ctx context.Context) (domain.Artifact, error) {
	if !e.guard.TryAcquire() {
		metrics.FetchAttempts.WithLabelValues(e.id, "skipped").Inc()
		e.log.Warn("Previous run still holds the pipeline, skipping")
		return domain.Artifact{}, ErrAttemptInProgress
	}
	artifact, err := e.attempt(ctx)
	e.guard.Release()

	if err != nil {
		return artifact, err
	}
	for _, h := range e.hooks {
		h(ctx, artifact)
	}
	return artifact, nil
}

func (e *Executor) attempt(ctx context.Context) (domain.Artifact, error) {
	start := e.now()
	artifact, err := e.run(ctx)
	at := e.now()
	metrics.FetchDuration.WithLabelValues(e.id).Observe(at.Sub(start).Seconds())

	if err != nil {
		metrics.FetchAttempts.WithLabelValues(e.id, "failure").Inc()
		e.log.Error("Fetch attempt failed", "error", err, "class", ClassifyError(err))
		if _, rerr := e.recorder.RecordFailure(ctx, at, err); rerr != nil {
			e.log.Error("Failed to record failure", "error", rerr)
		}
	} else {
		metrics.FetchAttempts.WithLabelValues(e.id, "success").Inc()
		if _, rerr := e.recorder.RecordSuccess(ctx, at, artifact.ID.String()); rerr != nil {
			e.log.Error("Failed to record success", "error", rerr)
			err = rerr
		} else {
			metrics.LastSuccess.WithLabelValues(e.id).Set(float64(at.Unix()))
			e.log.Info("Artifact published",
				"name", artifact.Name,
				"size", humanize.Bytes(uint64(len(artifact.Data))),
				"took", at.Sub(start).Round(time.Millisecond))
		}
	}

	if _, everr := e.evaluator.Run(ctx); everr != nil {
		e.log.Error("Freshness evaluation failed", "error", everr)
	}
	return artifact, err
}

func (e *Executor) run(ctx context.Context) (domain.Artifact, error) {
	raw, err := e.fetch(ctx)
	if err != nil {
		return domain.Artifact{}, err
	}

	artifact, err := e.transformer.Transform(ctx, raw, e.now())
	if err != nil {
		// Retrying cannot fix a page we already failed to process.
		return domain.Artifact{}, &domain.PermanentError{Err: fmt.Errorf("transform: %w", err)}
	}

	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, artifact); err != nil {
			var pe *domain.PublishError
			if !errors.As(err, &pe) {
				pe = &domain.PublishError{Target: "downstream", Err: err}
			}
			metrics.PublishErrors.WithLabelValues(e.id, pe.Target).Inc()
			return domain.Artifact{}, pe
		}
	}

	if err := e.store.Publish(ctx, artifact); err != nil {
		return domain.Artifact{}, &domain.PersistenceError{Op: "store artifact", Err: err}
	}
	return artifact, nil
}

// fetch calls the source up to RetryCount times with a constant delay,
// stopping early on permanent errors.
func (e *Executor) fetch(ctx context.Context) ([]byte, error) {
	var (
		raw     []byte
		attempt int
		lastErr error
	)
	count := e.cfg.RetryCount
	b := retry.WithMaxRetries(uint64(count-1), retry.NewConstant(e.cfg.RetryDelay))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		data, err := e.source.Fetch(ctx)
		if err == nil {
			raw = data
			return nil
		}

		lastErr = Classify(err)
		if ClassifyError(lastErr) == ClassPermanent {
			return lastErr
		}
		if attempt < count {
			metrics.FetchRetries.WithLabelValues(e.id).Inc()
			e.log.Warn("Fetch failed, retrying",
				"attempt", attempt, "max", count, "delay", e.cfg.RetryDelay, "error", err)
		}
		return retry.RetryableError(lastErr)
	})
	if err == nil {
		return raw, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if lastErr != nil {
			return nil, fmt.Errorf("fetch interrupted after %d attempts: %w", attempt, lastErr)
		}
		return nil, Classify(err)
	}
	if ClassifyError(err) == ClassPermanent {
		return nil, err
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", attempt, err)
}
