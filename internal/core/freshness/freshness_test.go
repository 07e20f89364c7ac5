package freshness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vietddude/riverwatch/internal/core/domain"
)

func recordAt(ts time.Time) domain.StatusRecord {
	return domain.NewStatusRecord("graph").WithSuccess(ts, "")
}

func TestEvaluate(t *testing.T) {
	now := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)
	threshold := 2 * time.Hour

	tests := []struct {
		name string
		rec  domain.StatusRecord
		want Freshness
	}{
		{"never succeeded", domain.NewStatusRecord("graph"), Stale},
		{"just now", recordAt(now), Current},
		{"one minute", recordAt(now.Add(-time.Minute)), Current},
		{"just under threshold", recordAt(now.Add(-threshold + time.Nanosecond)), Current},
		{"exactly threshold", recordAt(now.Add(-threshold)), Current},
		{"just over threshold", recordAt(now.Add(-threshold - time.Nanosecond)), Stale},
		{"three hours", recordAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)), Stale},
		{"ten days", recordAt(now.Add(-240 * time.Hour)), Stale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.rec, now, threshold))
		})
	}
}

func TestEvaluate_AgesBelowAndAboveThreshold(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	threshold := 12 * time.Hour

	for delta := time.Duration(0); delta < threshold; delta += 17 * time.Minute {
		assert.Equal(t, Current, Evaluate(recordAt(now.Add(-delta)), now, threshold), delta)
	}
	for delta := threshold + time.Second; delta < 30*24*time.Hour; delta += 7 * time.Hour {
		assert.Equal(t, Stale, Evaluate(recordAt(now.Add(-delta)), now, threshold), delta)
	}
}

func TestEvaluate_NullSuccessIsAlwaysStale(t *testing.T) {
	rec := domain.NewStatusRecord("telemetry").WithFailure(time.Now(), nil)
	for _, threshold := range []time.Duration{0, time.Hour, 1 << 62} {
		assert.Equal(t, Stale, Evaluate(rec, time.Now(), threshold))
	}
}

func TestDeriveState(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ok := recordAt(t0)
	failed := ok.WithFailure(t0.Add(time.Minute), nil)

	assert.Equal(t, domain.PipelineStateEmpty, DeriveState(domain.NewStatusRecord("x"), Stale))
	assert.Equal(t, domain.PipelineStateCurrent, DeriveState(ok, Current))
	assert.Equal(t, domain.PipelineStateFailedButCurrent, DeriveState(failed, Current))
	assert.Equal(t, domain.PipelineStateStale, DeriveState(failed, Stale))
	assert.Equal(t, domain.PipelineStateStale, DeriveState(ok, Stale))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(domain.PipelineStateEmpty, domain.PipelineStateCurrent))
	assert.True(t, CanTransition(domain.PipelineStateEmpty, domain.PipelineStateStale))
	assert.True(t, CanTransition(domain.PipelineStateCurrent, domain.PipelineStateFailedButCurrent))
	assert.True(t, CanTransition(domain.PipelineStateFailedButCurrent, domain.PipelineStateStale))
	assert.True(t, CanTransition(domain.PipelineStateStale, domain.PipelineStateCurrent))
	assert.False(t, CanTransition(domain.PipelineStateStale, domain.PipelineStateFailedButCurrent))
	assert.False(t, CanTransition(domain.PipelineStateCurrent, domain.PipelineStateEmpty))
	assert.False(t, CanTransition("bogus", domain.PipelineStateCurrent))

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, NewTransition(domain.PipelineStateEmpty, domain.PipelineStateStale, "STALE", at).IsValid())
	assert.False(t, NewTransition(domain.PipelineStateStale, domain.PipelineStateEmpty, "", at).IsValid())
}
