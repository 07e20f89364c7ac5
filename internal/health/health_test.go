package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/riverwatch/internal/core/domain"
	"github.com/vietddude/riverwatch/internal/core/freshness"
	"github.com/vietddude/riverwatch/internal/pipeline"
)

type stubPipeline struct {
	st pipeline.Status
}

func (s stubPipeline) Status() pipeline.Status { return s.st }

func stub(id domain.PipelineID, state domain.PipelineState) stubPipeline {
	rec := domain.NewStatusRecord(id)
	if state != domain.PipelineStateEmpty {
		rec = rec.WithSuccess(time.Now().Add(-time.Hour), "gen")
	}
	return stubPipeline{st: pipeline.Status{ID: id, State: state, Running: true, Record: rec}}
}

func TestCheckHealth_WorstWins(t *testing.T) {
	tests := []struct {
		name   string
		states []domain.PipelineState
		want   SystemStatus
	}{
		{"all current", []domain.PipelineState{domain.PipelineStateCurrent, domain.PipelineStateCurrent}, StatusHealthy},
		{"one failing", []domain.PipelineState{domain.PipelineStateCurrent, domain.PipelineStateFailedButCurrent}, StatusDegraded},
		{"empty", []domain.PipelineState{domain.PipelineStateEmpty}, StatusDegraded},
		{"one stale", []domain.PipelineState{domain.PipelineStateStale, domain.PipelineStateFailedButCurrent}, StatusCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sources []StatusSource
			for i, s := range tt.states {
				sources = append(sources, stub(domain.PipelineID(rune('a'+i)), s))
			}
			assert.Equal(t, tt.want, NewMonitor(sources...).CheckHealth().SystemStatus)
		})
	}
}

func TestServer_Health(t *testing.T) {
	srv := NewServer(NewMonitor(stub("graph", domain.PipelineStateStale)), 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "critical", body["status"])
}

func TestServer_DetailedDescribesState(t *testing.T) {
	p := stub("graph", domain.PipelineStateFailedButCurrent)
	p.st.Transitions = []freshness.Transition{
		freshness.NewTransition(domain.PipelineStateCurrent, domain.PipelineStateFailedButCurrent, "CURRENT", time.Now()),
	}
	srv := NewServer(NewMonitor(p), 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	graph := report.Pipelines["graph"]
	assert.Equal(t, StatusDegraded, graph.Status)
	assert.Equal(t, freshness.StateDescription(domain.PipelineStateFailedButCurrent), graph.Description)
	require.Len(t, graph.Transitions, 1)
	assert.Equal(t, domain.PipelineStateCurrent, graph.Transitions[0].From)
}

func TestServer_Status(t *testing.T) {
	srv := NewServer(NewMonitor(stub("telemetry", domain.PipelineStateCurrent)), 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var docs map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	require.Contains(t, docs, "telemetry")
	assert.Equal(t, "telemetry", docs["telemetry"]["pipeline_id"])
	assert.NotNil(t, docs["telemetry"]["last_success"])
}

func TestServer_Metrics(t *testing.T) {
	srv := NewServer(NewMonitor(), 0)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
