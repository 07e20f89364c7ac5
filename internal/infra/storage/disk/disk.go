// Package disk implements storage.Store on a directory, typically a tmpfs web root.
package disk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/vietddude/riverwatch/internal/core/domain"
	"github.com/vietddude/riverwatch/internal/infra/storage"
)

// Options configures a directory store.
type Options struct {
	PipelineID domain.PipelineID
	Dir        string
	Artifact   string // exposed file name, e.g. latest_graph.png
	Status     string // status document name
	Derive     storage.Deriver
}

// Store keeps one pipeline's files in a directory. Every write goes to a
// temporary file in the same directory and is renamed into place.
type Store struct {
	opts Options
	mu   sync.RWMutex
	log  *slog.Logger
}

// New creates the directory if needed.
func New(opts Options) (*Store, error) {
	if err := storage.ValidateName(opts.Artifact); err != nil {
		return nil, err
	}
	if err := storage.ValidateName(opts.Status); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{
		opts: opts,
		log:  slog.Default().With("component", "store", "pipeline", opts.PipelineID),
	}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.opts.Dir }

func (s *Store) Publish(ctx context.Context, a domain.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(storage.BasePath(s.opts.Artifact), a.Data); err != nil {
		return err
	}
	return s.expose(a.Data)
}

func (s *Store) Base(ctx context.Context) ([]byte, error) {
	return s.read(storage.BasePath(s.opts.Artifact))
}

func (s *Store) Exposed(ctx context.Context) ([]byte, error) {
	return s.read(s.opts.Artifact)
}

func (s *Store) Expose(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expose(data)
}

func (s *Store) ReadStatus(ctx context.Context) ([]byte, error) {
	return s.read(s.opts.Status)
}

func (s *Store) WriteStatus(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(s.opts.Status, data)
}

// Snapshot reads every regular file under the store directory, except
// leftover temp files.
func (s *Store) Snapshot(ctx context.Context) (*storage.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &storage.Snapshot{
		PipelineID: s.opts.PipelineID,
		Files:      make(map[string][]byte),
		TakenAt:    time.Now(),
	}
	err := filepath.WalkDir(s.opts.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.opts.Dir, path)
		if err != nil {
			return err
		}
		if storage.IsTempName(filepath.ToSlash(rel)) {
			s.log.Debug("Skipping temp file", "path", path)
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		snap.Files[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", s.opts.Dir, err)
	}
	return snap, nil
}

// Restore writes the snapshot files over the current content. Temp files
// captured by older backups are dropped.
func (s *Store) Restore(ctx context.Context, snap *storage.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name := range snap.Files {
		if err := storage.ValidateName(name); err != nil {
			return err
		}
	}
	for _, name := range snap.Names() {
		if storage.IsTempName(name) {
			continue
		}
		if err := s.write(name, snap.Files[name]); err != nil {
			return err
		}
	}
	s.log.Debug("Store restored", "files", len(snap.Files))
	return nil
}

// Clear removes the content of the directory, keeping the directory itself.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.opts.Dir)
	if err != nil {
		return fmt.Errorf("clear %s: %w", s.opts.Dir, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.opts.Dir, e.Name())); err != nil {
			return fmt.Errorf("clear %s: %w", s.opts.Dir, err)
		}
	}
	return nil
}

func (s *Store) expose(data []byte) error {
	if err := s.write(s.opts.Artifact, data); err != nil {
		return err
	}
	if s.opts.Derive == nil {
		return nil
	}
	extra, err := s.opts.Derive(data)
	if err != nil {
		return fmt.Errorf("derive renditions: %w", err)
	}
	for name, d := range extra {
		if err := storage.ValidateName(name); err != nil {
			return err
		}
		if err := s.write(name, d); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) write(name string, data []byte) error {
	path := filepath.Join(s.opts.Dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (s *Store) read(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.opts.Dir, filepath.FromSlash(name)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}
