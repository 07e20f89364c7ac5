package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Outcome of the most recent fetch attempt.
type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Metadata keys carried by StatusRecord.
const (
	MetaTimezone   = "timezone"
	MetaGeneration = "generation"
)

// StatusRecord tracks attempts and successes of one pipeline.
// LastSuccess is never after LastAttempt, and a failure never clears it.
type StatusRecord struct {
	PipelineID  PipelineID
	LastSuccess *time.Time
	LastAttempt time.Time
	Outcome     Outcome
	Stale       bool
	LastError   string
	Metadata    map[string]string
}

// NewStatusRecord returns the empty record of a pipeline that never ran.
func NewStatusRecord(id PipelineID) StatusRecord {
	return StatusRecord{PipelineID: id}
}

// WithSuccess returns a copy recording a successful attempt at at.
func (r StatusRecord) WithSuccess(at time.Time, generation string) StatusRecord {
	next := r.clone()
	next.LastSuccess = &at
	next.LastAttempt = at
	next.Outcome = OutcomeSuccess
	next.LastError = ""
	if generation != "" {
		next.Metadata[MetaGeneration] = generation
	}
	return next
}

// WithFailure returns a copy recording a failed attempt at at.
func (r StatusRecord) WithFailure(at time.Time, cause error) StatusRecord {
	next := r.clone()
	if next.LastSuccess != nil && at.Before(*next.LastSuccess) {
		// Clock stepped backwards.
		at = *next.LastSuccess
	}
	next.LastAttempt = at
	next.Outcome = OutcomeFailure
	next.LastError = ""
	if cause != nil {
		next.LastError = cause.Error()
	}
	return next
}

// WithStale returns a copy with the public stale flag set.
func (r StatusRecord) WithStale(stale bool) StatusRecord {
	next := r.clone()
	next.Stale = stale
	return next
}

// WithMetadata returns a copy with key set to value.
func (r StatusRecord) WithMetadata(key, value string) StatusRecord {
	next := r.clone()
	next.Metadata[key] = value
	return next
}

// HasSucceeded reports whether a success was ever recorded.
func (r StatusRecord) HasSucceeded() bool {
	return r.LastSuccess != nil
}

// Validate checks the ordering invariant.
func (r StatusRecord) Validate() error {
	if r.PipelineID == "" {
		return fmt.Errorf("status record: missing pipeline id")
	}
	if r.LastSuccess != nil && r.LastSuccess.After(r.LastAttempt) {
		return fmt.Errorf("status record %s: last_success %s after last_attempt %s",
			r.PipelineID, r.LastSuccess.Format(time.RFC3339), r.LastAttempt.Format(time.RFC3339))
	}
	return nil
}

func (r StatusRecord) clone() StatusRecord {
	next := r
	if r.LastSuccess != nil {
		ts := *r.LastSuccess
		next.LastSuccess = &ts
	}
	next.Metadata = make(map[string]string, len(r.Metadata)+1)
	maps.Copy(next.Metadata, r.Metadata)
	return next
}

// statusDocument is the JSON shape read by the web front end.
type statusDocument struct {
	PipelineID  string            `json:"pipeline_id"`
	LastSuccess *time.Time        `json:"last_success"`
	LastAttempt *time.Time        `json:"last_attempt"`
	Outcome     Outcome           `json:"outcome,omitempty"`
	Stale       bool              `json:"stale"`
	LastError   string            `json:"last_error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// MarshalJSON encodes the record as the public status document.
func (r StatusRecord) MarshalJSON() ([]byte, error) {
	doc := statusDocument{
		PipelineID:  r.PipelineID,
		LastSuccess: r.LastSuccess,
		Outcome:     r.Outcome,
		Stale:       r.Stale,
		LastError:   r.LastError,
		Metadata:    r.Metadata,
	}
	if !r.LastAttempt.IsZero() {
		attempt := r.LastAttempt
		doc.LastAttempt = &attempt
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes a status document.
func (r *StatusRecord) UnmarshalJSON(data []byte) error {
	var doc statusDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*r = StatusRecord{
		PipelineID:  doc.PipelineID,
		LastSuccess: doc.LastSuccess,
		Outcome:     doc.Outcome,
		Stale:       doc.Stale,
		LastError:   doc.LastError,
		Metadata:    doc.Metadata,
	}
	if doc.LastAttempt != nil {
		r.LastAttempt = *doc.LastAttempt
	}
	return nil
}
