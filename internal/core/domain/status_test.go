package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusRecord_FailureKeepsLastSuccess(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := NewStatusRecord("graph").WithSuccess(t0, "gen-1")

	next := rec.WithFailure(t0.Add(time.Hour), errors.New("boom"))

	require.NotNil(t, next.LastSuccess)
	assert.Equal(t, t0, *next.LastSuccess)
	assert.Equal(t, t0.Add(time.Hour), next.LastAttempt)
	assert.Equal(t, OutcomeFailure, next.Outcome)
	assert.Equal(t, "boom", next.LastError)
	assert.NoError(t, next.Validate())

	// original untouched
	assert.Equal(t, OutcomeSuccess, rec.Outcome)
	assert.Equal(t, "gen-1", rec.Metadata[MetaGeneration])
}

func TestStatusRecord_FailureBeforeSuccessClamps(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rec := NewStatusRecord("graph").WithSuccess(t0, "")

	next := rec.WithFailure(t0.Add(-time.Minute), nil)

	assert.Equal(t, t0, next.LastAttempt)
	assert.NoError(t, next.Validate())
}

func TestStatusRecord_ValidateRejectsInversion(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	later := t0.Add(time.Hour)
	rec := StatusRecord{PipelineID: "x", LastSuccess: &later, LastAttempt: t0}
	assert.Error(t, rec.Validate())
}

func TestStatusRecord_JSONDocument(t *testing.T) {
	rec := NewStatusRecord("telemetry")
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"pipeline_id":"telemetry","last_success":null,"last_attempt":null,"stale":false}`, string(data))

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec = rec.WithSuccess(t0, "abc").WithStale(true)
	data, err = json.Marshal(rec)
	require.NoError(t, err)

	var decoded StatusRecord
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, rec.PipelineID, decoded.PipelineID)
	assert.True(t, decoded.LastSuccess.Equal(t0))
	assert.True(t, decoded.LastAttempt.Equal(t0))
	assert.True(t, decoded.Stale)
	assert.Equal(t, "abc", decoded.Metadata[MetaGeneration])
}
