package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/riverwatch/internal/core/domain"
	"github.com/vietddude/riverwatch/internal/core/freshness"
	"github.com/vietddude/riverwatch/internal/core/status"
	"github.com/vietddude/riverwatch/internal/infra/storage/memory"
	"github.com/vietddude/riverwatch/internal/overlay"
)

type stubSource struct {
	calls atomic.Int32
	errs  []error
	data  []byte
}

func (s *stubSource) Fetch(ctx context.Context) ([]byte, error) {
	n := int(s.calls.Add(1)) - 1
	if n < len(s.errs) && s.errs[n] != nil {
		return nil, s.errs[n]
	}
	return s.data, nil
}

type passthrough struct{}

func (passthrough) Transform(ctx context.Context, raw []byte, at time.Time) (domain.Artifact, error) {
	return domain.NewArtifact("telemetry", "river_data.json", "application/json", raw, at), nil
}

type stubPublisher struct {
	err   error
	calls int
}

func (p *stubPublisher) Publish(ctx context.Context, a domain.Artifact) error {
	p.calls++
	return p.err
}

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("HTTP status %d", int(e)) }
func (e statusErr) HTTPStatus() int { return int(e) }

type harness struct {
	store    *memory.MemoryStorage
	recorder *status.Recorder
	exec     *Executor
	clock    *time.Time
}

func newHarness(t *testing.T, src Source, pub Publisher) *harness {
	t.Helper()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := &harness{clock: &now}
	clock := func() time.Time { return *h.clock }

	h.store = memory.NewMemoryStorage("telemetry", "river_data.json", "status.json")
	h.recorder = status.NewRecorder("telemetry", h.store, time.UTC)
	eval := freshness.NewEvaluator("telemetry", 2*time.Hour, h.store, h.recorder,
		overlay.JSONFlag{Warning: "stale"}).WithClock(clock)

	h.exec = NewExecutor(Options{
		PipelineID:  "telemetry",
		Config:      Config{RetryCount: 3, RetryDelay: time.Millisecond},
		Source:      src,
		Transformer: passthrough{},
		Publisher:   pub,
		Store:       h.store,
		Recorder:    h.recorder,
		Evaluator:   eval,
		Clock:       clock,
	})
	return h
}

func TestExecutor_SuccessPublishesAndRecords(t *testing.T) {
	src := &stubSource{data: []byte(`{"flow":1}`)}
	pub := &stubPublisher{}
	h := newHarness(t, src, pub)

	var hooked atomic.Bool
	h.exec.OnSuccess(func(ctx context.Context, a domain.Artifact) { hooked.Store(true) })

	a, err := h.exec.Attempt(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"flow":1}`), a.Data)
	assert.Equal(t, 1, pub.calls)
	assert.True(t, hooked.Load())

	rec := h.recorder.Current()
	require.NotNil(t, rec.LastSuccess)
	assert.Equal(t, domain.OutcomeSuccess, rec.Outcome)
	assert.False(t, rec.Stale)
	assert.Equal(t, a.ID.String(), rec.Metadata[domain.MetaGeneration])

	exposed, err := h.store.Exposed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a.Data, exposed)
}

func TestExecutor_TransientFailuresKeepLastSuccess(t *testing.T) {
	ctx := context.Background()
	src := &stubSource{data: []byte(`{"flow":1}`)}
	h := newHarness(t, src, nil)

	_, err := h.exec.Attempt(ctx)
	require.NoError(t, err)
	prior := *h.recorder.Current().LastSuccess

	*h.clock = h.clock.Add(10 * time.Minute)
	src.errs = []error{nil, statusErr(503), errors.New("connection reset"), statusErr(502)}

	_, err = h.exec.Attempt(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, int32(4), src.calls.Load())

	rec := h.recorder.Current()
	assert.Equal(t, domain.OutcomeFailure, rec.Outcome)
	require.NotNil(t, rec.LastSuccess)
	assert.Equal(t, prior, *rec.LastSuccess)
	assert.True(t, rec.LastAttempt.After(prior))
	assert.False(t, rec.Stale, "still within threshold")
}

func TestExecutor_PermanentErrorNotRetried(t *testing.T) {
	src := &stubSource{errs: []error{statusErr(http.StatusForbidden)}}
	h := newHarness(t, src, nil)

	_, err := h.exec.Attempt(context.Background())
	require.Error(t, err)

	var perm *domain.PermanentError
	assert.ErrorAs(t, err, &perm)
	assert.Equal(t, int32(1), src.calls.Load())

	rec := h.recorder.Current()
	assert.Equal(t, domain.OutcomeFailure, rec.Outcome)
	assert.Nil(t, rec.LastSuccess)
	assert.True(t, rec.Stale, "no success ever recorded")
}

func TestExecutor_PublishErrorRecordsFailure(t *testing.T) {
	src := &stubSource{data: []byte(`{"flow":1}`)}
	pub := &stubPublisher{err: errors.New("401 unauthorized")}
	h := newHarness(t, src, pub)

	_, err := h.exec.Attempt(context.Background())
	var pe *domain.PublishError
	require.ErrorAs(t, err, &pe)

	assert.Equal(t, domain.OutcomeFailure, h.recorder.Current().Outcome)
	_, err = h.store.Base(context.Background())
	assert.Error(t, err, "store must not be updated on publish failure")
}

func TestExecutor_OverlappingAttemptSkipped(t *testing.T) {
	src := &stubSource{data: []byte(`{}`)}
	h := newHarness(t, src, nil)

	require.True(t, h.exec.guard.TryAcquire())
	_, err := h.exec.Attempt(context.Background())
	assert.ErrorIs(t, err, ErrAttemptInProgress)
	assert.Equal(t, int32(0), src.calls.Load())
	assert.True(t, h.recorder.Current().LastAttempt.IsZero())

	h.exec.guard.Release()
	_, err = h.exec.Attempt(context.Background())
	assert.NoError(t, err)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"server error", statusErr(500), ClassTransient},
		{"rate limited", statusErr(429), ClassTransient},
		{"request timeout", statusErr(408), ClassTransient},
		{"not found", statusErr(404), ClassPermanent},
		{"unauthorized", statusErr(401), ClassPermanent},
		{"deadline", context.DeadlineExceeded, ClassTransient},
		{"canceled", context.Canceled, ClassPermanent},
		{"wrapped permanent", &domain.PermanentError{Err: errors.New("x")}, ClassPermanent},
		{"bad scheme", errors.New(`unsupported protocol scheme "ftp"`), ClassPermanent},
		{"unknown", errors.New("connection reset by peer"), ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestGuard(t *testing.T) {
	g := NewGuard()
	require.True(t, g.TryAcquire())
	assert.False(t, g.TryAcquire())

	err := g.AcquireTimeout(context.Background(), 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	g.Release()
	g.Release()
	assert.NoError(t, g.Acquire(context.Background()))
}
