package memory

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/riverwatch/internal/core/domain"
	"github.com/vietddude/riverwatch/internal/infra/storage"
)

// MemoryStorage is an in-process storage.Store, used by tests and dry runs.
type MemoryStorage struct {
	pipelineID domain.PipelineID
	artifact   string
	status     string
	derive     storage.Deriver
	files      map[string][]byte
	writes     int
	mu         sync.RWMutex
}

// NewMemoryStorage creates a store exposing artifact and status under the given names.
func NewMemoryStorage(pipelineID domain.PipelineID, artifact, status string) *MemoryStorage {
	return &MemoryStorage{
		pipelineID: pipelineID,
		artifact:   artifact,
		status:     status,
		files:      make(map[string][]byte),
	}
}

// WithDeriver sets the rendition hook run on every exposed write.
func (s *MemoryStorage) WithDeriver(d storage.Deriver) *MemoryStorage {
	s.derive = d
	return s
}

func (s *MemoryStorage) Publish(ctx context.Context, a domain.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(storage.BasePath(s.artifact), a.Data)
	return s.expose(a.Data)
}

func (s *MemoryStorage) Base(ctx context.Context) ([]byte, error) {
	return s.get(storage.BasePath(s.artifact))
}

func (s *MemoryStorage) Exposed(ctx context.Context) ([]byte, error) {
	return s.get(s.artifact)
}

func (s *MemoryStorage) Expose(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expose(data)
}

func (s *MemoryStorage) ReadStatus(ctx context.Context) ([]byte, error) {
	return s.get(s.status)
}

func (s *MemoryStorage) WriteStatus(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(s.status, data)
	return nil
}

func (s *MemoryStorage) Snapshot(ctx context.Context) (*storage.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := &storage.Snapshot{
		PipelineID: s.pipelineID,
		Files:      make(map[string][]byte, len(s.files)),
		TakenAt:    time.Now(),
	}
	for name, data := range s.files {
		snap.Files[name] = bytes.Clone(data)
	}
	return snap, nil
}

func (s *MemoryStorage) Restore(ctx context.Context, snap *storage.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range snap.Files {
		if err := storage.ValidateName(name); err != nil {
			return err
		}
	}
	for name, data := range snap.Files {
		s.put(name, data)
	}
	return nil
}

func (s *MemoryStorage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = make(map[string][]byte)
	return nil
}

// Writes returns how many file writes the store performed.
func (s *MemoryStorage) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *MemoryStorage) expose(data []byte) error {
	s.put(s.artifact, data)
	if s.derive == nil {
		return nil
	}
	extra, err := s.derive(data)
	if err != nil {
		return fmt.Errorf("derive renditions: %w", err)
	}
	for name, d := range extra {
		s.put(name, d)
	}
	return nil
}

func (s *MemoryStorage) put(name string, data []byte) {
	s.files[name] = bytes.Clone(data)
	s.writes++
}

func (s *MemoryStorage) get(name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return bytes.Clone(data), nil
}
