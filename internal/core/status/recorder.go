// Package status persists per-pipeline attempt and success timestamps.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/riverwatch/internal/core/domain"
	"github.com/vietddude/riverwatch/internal/infra/storage"
)

// Recorder owns the StatusRecord of one pipeline. Every mutation builds a new
// record and replaces the persisted document atomically before it becomes current.
type Recorder struct {
	id    domain.PipelineID
	store storage.StatusStore
	loc   *time.Location

	mu      sync.RWMutex
	current domain.StatusRecord
}

// NewRecorder creates a recorder holding an empty record.
func NewRecorder(id domain.PipelineID, store storage.StatusStore, loc *time.Location) *Recorder {
	if loc == nil {
		loc = time.UTC
	}
	return &Recorder{
		id:      id,
		store:   store,
		loc:     loc,
		current: domain.NewStatusRecord(id),
	}
}

// Current returns a copy of the in-memory record.
func (r *Recorder) Current() domain.StatusRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Load reads the persisted record. A missing document leaves the empty record.
func (r *Recorder) Load(ctx context.Context) error {
	data, err := r.store.ReadStatus(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		r.set(domain.NewStatusRecord(r.id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load status %s: %w", r.id, err)
	}

	var rec domain.StatusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("decode status %s: %w", r.id, err)
	}
	if rec.PipelineID == "" {
		rec.PipelineID = r.id
	}
	if rec.PipelineID != r.id {
		return fmt.Errorf("status document belongs to %q, not %q", rec.PipelineID, r.id)
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	r.set(rec)
	return nil
}

// RecordSuccess stamps a successful attempt.
func (r *Recorder) RecordSuccess(ctx context.Context, at time.Time, generation string) (domain.StatusRecord, error) {
	next := r.Current().WithSuccess(at.In(r.loc), generation)
	return next, r.replace(ctx, next)
}

// RecordFailure stamps a failed attempt, keeping the last success.
func (r *Recorder) RecordFailure(ctx context.Context, at time.Time, cause error) (domain.StatusRecord, error) {
	next := r.Current().WithFailure(at.In(r.loc), cause)
	return next, r.replace(ctx, next)
}

// SetStale updates the public stale flag. Nothing is written when it is unchanged.
func (r *Recorder) SetStale(ctx context.Context, stale bool) error {
	cur := r.Current()
	if cur.Stale == stale {
		return nil
	}
	return r.replace(ctx, cur.WithStale(stale))
}

func (r *Recorder) replace(ctx context.Context, next domain.StatusRecord) error {
	next = next.WithMetadata(domain.MetaTimezone, r.loc.String())
	if err := next.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status %s: %w", r.id, err)
	}
	if err := r.store.WriteStatus(ctx, append(data, '\n')); err != nil {
		return &domain.PersistenceError{Op: "write status", Err: err}
	}
	r.set(next)
	return nil
}

func (r *Recorder) set(rec domain.StatusRecord) {
	r.mu.Lock()
	r.current = rec
	r.mu.Unlock()
}
