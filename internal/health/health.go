// Package health provides system health monitoring and status reporting.
package health

import (
	"github.com/vietddude/riverwatch/internal/core/domain"
	"github.com/vietddude/riverwatch/internal/core/freshness"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// PipelineHealth contains the health of one pipeline.
type PipelineHealth struct {
	PipelineID  domain.PipelineID    `json:"pipeline_id"`
	Status      SystemStatus         `json:"status"`
	State       domain.PipelineState `json:"state"`
	Description string               `json:"description"`
	Running     bool                 `json:"running"`
	LastSuccess string               `json:"last_success,omitempty"`
	LastError   string               `json:"last_error,omitempty"`

	Transitions []freshness.Transition `json:"transitions,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus                         `json:"system_status"`
	Pipelines    map[domain.PipelineID]PipelineHealth `json:"pipelines"`
}

// statusOf maps a pipeline state to a health status. Stale data is critical.
func statusOf(s domain.PipelineState) SystemStatus {
	switch s {
	case domain.PipelineStateStale:
		return StatusCritical
	case domain.PipelineStateEmpty, domain.PipelineStateFailedButCurrent:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}
