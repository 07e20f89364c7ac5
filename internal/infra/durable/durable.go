// Package durable defines the single-generation backup targets that survive
// a restart of the host.
package durable

import (
	"context"
	"errors"

	"github.com/vietddude/riverwatch/internal/core/domain"
	"github.com/vietddude/riverwatch/internal/infra/storage"
)

var (
	// ErrNoSnapshot is returned when the target holds nothing for a pipeline
	ErrNoSnapshot = errors.New("no snapshot")
)

// Target stores exactly one snapshot per pipeline. Save overwrites it.
type Target interface {
	// Name identifies the backend in logs and metrics
	Name() string

	// Load returns the stored snapshot or ErrNoSnapshot
	Load(ctx context.Context, id domain.PipelineID) (*storage.Snapshot, error)

	// Save replaces the stored snapshot
	Save(ctx context.Context, snap *storage.Snapshot) error

	// Exists reports whether a snapshot is stored
	Exists(ctx context.Context, id domain.PipelineID) (bool, error)

	Close() error
}

// Locker is implemented by targets that can exclude other processes while fn runs.
type Locker interface {
	WithLock(ctx context.Context, id domain.PipelineID, fn func() error) error
}
