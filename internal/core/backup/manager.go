// Package backup copies ephemeral pipeline stores to a durable target and back.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"

	"github.com/vietddude/riverwatch/internal/core/domain"
	"github.com/vietddude/riverwatch/internal/infra/durable"
	"github.com/vietddude/riverwatch/internal/infra/storage"
	"github.com/vietddude/riverwatch/internal/metrics"
)

// Manager owns the durable target. Backup and Restore never run concurrently
// against it: an in-process mutex serializes them, and targets implementing
// durable.Locker also exclude other processes.
type Manager struct {
	target durable.Target
	log    *slog.Logger

	mu     sync.Mutex // guards target access
	stores map[domain.PipelineID]storage.SnapshotStore

	bootMu       sync.Mutex
	bootstrapped map[domain.PipelineID]bool
}

// NewManager creates a manager for target.
func NewManager(target durable.Target) *Manager {
	return &Manager{
		target:       target,
		log:          slog.Default().With("component", "backup", "target", target.Name()),
		stores:       make(map[domain.PipelineID]storage.SnapshotStore),
		bootstrapped: make(map[domain.PipelineID]bool),
	}
}

// Register adds a pipeline store.
func (m *Manager) Register(id domain.PipelineID, store storage.SnapshotStore) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores[id] = store
}

// Target returns the durable target.
func (m *Manager) Target() durable.Target { return m.target }

// Pipelines returns registered pipeline ids in sorted order.
func (m *Manager) Pipelines() []domain.PipelineID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]domain.PipelineID, 0, len(m.stores))
	for id := range m.stores {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Backup snapshots the pipeline store and overwrites the previous backup.
// An empty store is never written over an existing backup.
func (m *Manager) Backup(ctx context.Context, id domain.PipelineID) error {
	start := time.Now()
	err := m.exclusive(ctx, id, func(store storage.SnapshotStore) error {
		snap, err := store.Snapshot(ctx)
		if err != nil {
			return err
		}
		if snap.Empty() {
			m.log.Info("Store is empty, nothing to back up", "pipeline", id)
			return nil
		}
		if err := m.target.Save(ctx, snap); err != nil {
			return err
		}
		metrics.BackupBytes.WithLabelValues(id).Set(float64(snap.Size()))
		m.log.Info("Backup completed",
			"pipeline", id,
			"files", len(snap.Files),
			"size", humanize.Bytes(snap.Size()),
			"took", time.Since(start).Round(time.Millisecond))
		return nil
	})
	metrics.BackupDuration.WithLabelValues(id, m.target.Name()).Observe(time.Since(start).Seconds())
	m.observe(id, "backup", err)
	if err != nil {
		return &domain.PersistenceError{Op: "backup " + id, Err: err}
	}
	return nil
}

// BackupAll backs up every pipeline. Failures are logged and combined.
func (m *Manager) BackupAll(ctx context.Context) error {
	var errs error
	for _, id := range m.Pipelines() {
		if err := m.Backup(ctx, id); err != nil {
			m.log.Error("Backup failed", "pipeline", id, "error", err)
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// BootstrapIfEmpty backs up a pipeline once per process when the target holds
// nothing for it yet. It is meant to run after the first successful fetch. A
// failed attempt is retried on the next call.
func (m *Manager) BootstrapIfEmpty(ctx context.Context, id domain.PipelineID) (bool, error) {
	m.bootMu.Lock()
	defer m.bootMu.Unlock()
	if m.bootstrapped[id] {
		return false, nil
	}

	exists, err := m.target.Exists(ctx, id)
	if err != nil {
		return false, &domain.PersistenceError{Op: "check backup " + id, Err: err}
	}
	if exists {
		m.bootstrapped[id] = true
		return false, nil
	}

	m.log.Info("Durable target is empty, running initial backup", "pipeline", id)
	if err := m.Backup(ctx, id); err != nil {
		return false, err
	}
	m.bootstrapped[id] = true
	return true, nil
}

// Restore copies the stored snapshot into the pipeline store, overwriting
// what is there. It reports false when the target holds nothing.
func (m *Manager) Restore(ctx context.Context, id domain.PipelineID) (bool, error) {
	restored := false
	err := m.exclusive(ctx, id, func(store storage.SnapshotStore) error {
		snap, err := m.target.Load(ctx, id)
		if errors.Is(err, durable.ErrNoSnapshot) {
			m.log.Info("No backup found, starting empty", "pipeline", id)
			return nil
		}
		if err != nil {
			return err
		}
		if err := store.Restore(ctx, snap); err != nil {
			return err
		}
		restored = true
		m.log.Info("Store restored from backup",
			"pipeline", id,
			"files", len(snap.Files),
			"taken", humanize.Time(snap.TakenAt))
		return nil
	})
	m.observe(id, "restore", err)
	if err != nil {
		return false, &domain.PersistenceError{Op: "restore " + id, Err: err}
	}
	return restored, nil
}

func (m *Manager) exclusive(ctx context.Context, id domain.PipelineID, fn func(storage.SnapshotStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	store, ok := m.stores[id]
	if !ok {
		return fmt.Errorf("unknown pipeline %q", id)
	}
	if locker, ok := m.target.(durable.Locker); ok {
		return locker.WithLock(ctx, id, func() error { return fn(store) })
	}
	return fn(store)
}

func (m *Manager) observe(id domain.PipelineID, op string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.BackupRuns.WithLabelValues(id, op, result).Inc()
}
