package health

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vietddude/riverwatch/internal/core/domain"
	"github.com/vietddude/riverwatch/internal/core/freshness"
	"github.com/vietddude/riverwatch/internal/pipeline"
)

// StatusSource reports the current status of one pipeline.
type StatusSource interface {
	Status() pipeline.Status
}

// Monitor aggregates health status from the pipelines.
type Monitor struct {
	pipelines []StatusSource
	now       func() time.Time
}

// NewMonitor creates a new health monitor.
func NewMonitor(pipelines ...StatusSource) *Monitor {
	return &Monitor{pipelines: pipelines, now: time.Now}
}

// CheckHealth builds a report; the worst pipeline status wins.
func (m *Monitor) CheckHealth() HealthReport {
	report := HealthReport{
		SystemStatus: StatusHealthy,
		Pipelines:    make(map[domain.PipelineID]PipelineHealth, len(m.pipelines)),
	}

	for _, p := range m.pipelines {
		st := p.Status()
		h := PipelineHealth{
			PipelineID:  st.ID,
			Status:      statusOf(st.State),
			State:       st.State,
			Description: freshness.StateDescription(st.State),
			Running:     st.Running,
			LastError:   st.Record.LastError,
			Transitions: st.Transitions,
		}
		if st.Record.LastSuccess != nil {
			h.LastSuccess = humanize.RelTime(*st.Record.LastSuccess, m.now(), "ago", "from now")
		}
		report.Pipelines[st.ID] = h

		switch {
		case h.Status == StatusCritical:
			report.SystemStatus = StatusCritical
		case h.Status == StatusDegraded && report.SystemStatus == StatusHealthy:
			report.SystemStatus = StatusDegraded
		}
	}
	return report
}

// Statuses returns the status document of every pipeline.
func (m *Monitor) Statuses() map[domain.PipelineID]domain.StatusRecord {
	out := make(map[domain.PipelineID]domain.StatusRecord, len(m.pipelines))
	for _, p := range m.pipelines {
		st := p.Status()
		out[st.ID] = st.Record
	}
	return out
}
