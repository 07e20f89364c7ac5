package domain

// PipelineID identifies a pipeline (e.g. "telemetry", "graph").
type PipelineID = string

// PipelineKind selects how a pipeline fetches and transforms its artifact.
type PipelineKind string

const (
	PipelineKindTelemetry PipelineKind = "telemetry"
	PipelineKindGraph     PipelineKind = "graph"
)

// PipelineState is the externally observable state of a pipeline.
type PipelineState string

const (
	PipelineStateEmpty            PipelineState = "empty"
	PipelineStateCurrent          PipelineState = "current"
	PipelineStateFailedButCurrent PipelineState = "failed_but_current"
	PipelineStateStale            PipelineState = "stale"
)
