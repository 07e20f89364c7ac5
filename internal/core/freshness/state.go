package freshness

import (
	"time"

	"github.com/vietddude/riverwatch/internal/core/domain"
)

// State is an alias for domain.PipelineState for internal use.
type State = domain.PipelineState

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
var ValidTransitions = map[State][]State{
	domain.PipelineStateEmpty: {
		domain.PipelineStateEmpty,
		domain.PipelineStateCurrent,
		domain.PipelineStateFailedButCurrent,
		domain.PipelineStateStale,
	},
	domain.PipelineStateCurrent: {
		domain.PipelineStateCurrent,
		domain.PipelineStateFailedButCurrent,
		domain.PipelineStateStale,
	},
	domain.PipelineStateFailedButCurrent: {
		domain.PipelineStateFailedButCurrent,
		domain.PipelineStateCurrent,
		domain.PipelineStateStale,
	},
	domain.PipelineStateStale: {
		domain.PipelineStateStale,
		domain.PipelineStateCurrent,
	},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	validTargets, ok := ValidTransitions[from]
	if !ok {
		return false
	}

	for _, target := range validTargets {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a state change with metadata.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTransition creates a new transition record.
func NewTransition(from, to State, reason string, at time.Time) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: at,
	}
}

// IsValid returns true if this transition is allowed by the state machine.
func (t Transition) IsValid() bool {
	return CanTransition(t.From, t.To)
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s State) string {
	switch s {
	case domain.PipelineStateEmpty:
		return "Empty - nothing fetched or restored yet"
	case domain.PipelineStateCurrent:
		return "Current - last fetch succeeded within threshold"
	case domain.PipelineStateFailedButCurrent:
		return "Failed but current - last fetch failed, data still within threshold"
	case domain.PipelineStateStale:
		return "Stale - data older than threshold, marked for readers"
	default:
		return "Unknown state"
	}
}
