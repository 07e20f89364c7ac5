package freshness

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"

	"github.com/vietddude/riverwatch/internal/core/domain"
	"github.com/vietddude/riverwatch/internal/infra/storage"
	"github.com/vietddude/riverwatch/internal/metrics"
)

// Overlay derives the stale-marked variant of a clean artifact.
// Apply(Apply(x)) must equal Apply(x).
type Overlay interface {
	Apply(base []byte) ([]byte, error)
}

// StatusRecorder is the part of status.Recorder the evaluator needs.
type StatusRecorder interface {
	Current() domain.StatusRecord
	SetStale(ctx context.Context, stale bool) error
}

// Result is the outcome of one evaluation.
type Result struct {
	Freshness Freshness
	State     State
	Overlaid  bool
	Age       time.Duration
}

const historySize = 10

// Evaluator applies the freshness decision to the exposed artifact.
// Callers must hold the pipeline guard while Run executes.
type Evaluator struct {
	id        domain.PipelineID
	threshold time.Duration
	store     storage.ArtifactStore
	recorder  StatusRecorder
	overlay   Overlay
	now       func() time.Time
	log       *slog.Logger

	mu      sync.Mutex
	state   State
	history []Transition
}

// NewEvaluator creates an evaluator starting in the empty state.
func NewEvaluator(
	id domain.PipelineID,
	threshold time.Duration,
	store storage.ArtifactStore,
	recorder StatusRecorder,
	overlay Overlay,
) *Evaluator {
	return &Evaluator{
		id:        id,
		threshold: threshold,
		store:     store,
		recorder:  recorder,
		overlay:   overlay,
		now:       time.Now,
		log:       slog.Default().With("component", "freshness", "pipeline", id),
		state:     domain.PipelineStateEmpty,
	}
}

// WithClock replaces the time source.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Threshold returns the configured staleness threshold.
func (e *Evaluator) Threshold() time.Duration { return e.threshold }

// State returns the state computed by the last run.
func (e *Evaluator) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// History returns the most recent state changes, oldest first.
func (e *Evaluator) History() []Transition {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Transition, len(e.history))
	copy(out, e.history)
	return out
}

// Run evaluates the current record. On STALE the overlay of the cached base is
// exposed; on CURRENT the clean base is exposed. The exposed file is only
// rewritten when its content changes.
func (e *Evaluator) Run(ctx context.Context) (Result, error) {
	rec := e.recorder.Current()
	now := e.now()
	f := Evaluate(rec, now, e.threshold)

	res := Result{Freshness: f}
	if rec.LastSuccess != nil {
		res.Age = now.Sub(*rec.LastSuccess)
	}

	// The stale flag and state follow freshness even when the exposed file
	// could not be updated.
	var errs error
	overlaid, err := e.reconcile(ctx, f)
	res.Overlaid = overlaid
	if err != nil {
		e.log.Error("Failed to update exposed artifact", "freshness", f, "error", err)
		errs = multierr.Append(errs, err)
	}

	if err := e.recorder.SetStale(ctx, f == Stale); err != nil {
		errs = multierr.Append(errs, err)
	}

	res.State = DeriveState(rec, f)
	e.transition(res, rec, now)
	return res, errs
}

func (e *Evaluator) reconcile(ctx context.Context, f Freshness) (bool, error) {
	base, err := e.store.Base(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, &domain.PersistenceError{Op: "read base", Err: err}
	}

	want := base
	overlaid := false
	if f == Stale {
		marked, err := e.overlay.Apply(base)
		if err != nil {
			// Serve the last known-good artifact without a marker.
			e.log.Error("Overlay generation failed, serving clean artifact",
				"error", &domain.PersistenceError{Op: "overlay", Err: err})
		} else {
			want = marked
			overlaid = true
		}
	}

	exposed, err := e.store.Exposed(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		e.log.Warn("Failed to read exposed artifact", "error", err)
	}
	if bytes.Equal(exposed, want) {
		return overlaid, nil
	}
	if err := e.store.Expose(ctx, want); err != nil {
		return false, &domain.PersistenceError{Op: "expose", Err: err}
	}
	e.log.Debug("Exposed artifact replaced", "overlay", overlaid, "size", humanize.Bytes(uint64(len(want))))
	return overlaid, nil
}

func (e *Evaluator) transition(res Result, rec domain.StatusRecord, now time.Time) {
	e.mu.Lock()
	from := e.state
	e.state = res.State
	t := NewTransition(from, res.State, string(res.Freshness), now)
	if from != res.State {
		if len(e.history) >= historySize {
			copy(e.history, e.history[1:])
			e.history[len(e.history)-1] = t
		} else {
			e.history = append(e.history, t)
		}
	}
	e.mu.Unlock()

	for _, s := range []State{
		domain.PipelineStateEmpty,
		domain.PipelineStateCurrent,
		domain.PipelineStateFailedButCurrent,
		domain.PipelineStateStale,
	} {
		v := 0.0
		if s == res.State {
			v = 1
		}
		metrics.PipelineState.WithLabelValues(e.id, string(s)).Set(v)
	}
	if res.Freshness == Stale {
		metrics.Stale.WithLabelValues(e.id).Set(1)
	} else {
		metrics.Stale.WithLabelValues(e.id).Set(0)
	}

	if from == res.State {
		return
	}
	attrs := []any{"from", from, "to", res.State, "freshness", res.Freshness}
	if rec.LastSuccess != nil {
		attrs = append(attrs, "last_success", humanize.RelTime(*rec.LastSuccess, now, "ago", "from now"))
	}
	if !t.IsValid() {
		e.log.Warn("Unexpected state transition", attrs...)
		return
	}
	if res.State == domain.PipelineStateStale {
		e.log.Warn("Published data is stale", attrs...)
		return
	}
	e.log.Info("Pipeline state changed", attrs...)
}
