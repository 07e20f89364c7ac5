// Package freshness decides whether published data can still be trusted and
// keeps the exposed artifact and the public stale flag in line with that decision.
package freshness

import (
	"time"

	"github.com/vietddude/riverwatch/internal/core/domain"
)

// Freshness of a pipeline's published data.
type Freshness string

const (
	Current Freshness = "CURRENT"
	Stale   Freshness = "STALE"
)

// Evaluate returns Stale when no success was ever recorded or the last one is
// older than threshold.
func Evaluate(rec domain.StatusRecord, now time.Time, threshold time.Duration) Freshness {
	if !rec.HasSucceeded() {
		return Stale
	}
	if now.Sub(*rec.LastSuccess) > threshold {
		return Stale
	}
	return Current
}

// DeriveState maps a record and its freshness to the pipeline state.
func DeriveState(rec domain.StatusRecord, f Freshness) domain.PipelineState {
	switch {
	case !rec.HasSucceeded():
		return domain.PipelineStateEmpty
	case f == Stale:
		return domain.PipelineStateStale
	case rec.Outcome == domain.OutcomeFailure:
		return domain.PipelineStateFailedButCurrent
	default:
		return domain.PipelineStateCurrent
	}
}
