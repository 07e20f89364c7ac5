package storage

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/vietddude/riverwatch/internal/core/domain"
)

var (
	// ErrNotFound is returned when a file is absent from a store
	ErrNotFound = errors.New("not found")
)

// BaseDir holds the clean copy of the last published artifact.
const BaseDir = ".base"

// BasePath returns the store-relative path of the clean base copy of artifact.
func BasePath(artifact string) string {
	return path.Join(BaseDir, artifact)
}

// Snapshot is the full content of one pipeline's ephemeral store.
// Keys are slash-separated store-relative paths.
type Snapshot struct {
	PipelineID domain.PipelineID
	Files      map[string][]byte
	TakenAt    time.Time
}

// Empty reports whether the snapshot holds no files.
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Files) == 0
}

// Size returns the total payload size in bytes.
func (s *Snapshot) Size() uint64 {
	var n uint64
	if s == nil {
		return 0
	}
	for _, data := range s.Files {
		n += uint64(len(data))
	}
	return n
}

// Names returns the file names in sorted order.
func (s *Snapshot) Names() []string {
	if s == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(s.Files))
}

// ValidateName rejects names that would escape the store directory.
func ValidateName(name string) error {
	if name == "" || !filepath.IsLocal(filepath.FromSlash(name)) {
		return fmt.Errorf("invalid store file name %q", name)
	}
	return nil
}

// IsTempName reports whether name is a hidden file, such as the temp files
// renameio leaves behind when a process dies mid-write. Hidden directories
// like BaseDir do not count.
func IsTempName(name string) bool {
	return strings.HasPrefix(path.Base(name), ".")
}

// Deriver renders extra files (e.g. a JPEG copy) from the exposed artifact.
type Deriver func(exposed []byte) (map[string][]byte, error)

// ArtifactStore handles the published artifact of one pipeline
type ArtifactStore interface {
	// Publish replaces both the clean base and the exposed artifact
	Publish(ctx context.Context, a domain.Artifact) error

	// Base returns the clean copy of the last published artifact
	Base(ctx context.Context) ([]byte, error)

	// Exposed returns what readers currently see
	Exposed(ctx context.Context) ([]byte, error)

	// Expose atomically replaces what readers see, leaving the base untouched
	Expose(ctx context.Context, data []byte) error
}

// StatusStore persists the status document
type StatusStore interface {
	ReadStatus(ctx context.Context) ([]byte, error)
	WriteStatus(ctx context.Context, data []byte) error
}

// SnapshotStore copies the store content in and out as a whole
type SnapshotStore interface {
	// Snapshot returns every file of the store
	Snapshot(ctx context.Context) (*Snapshot, error)

	// Restore writes every file of snap, overwriting existing ones
	Restore(ctx context.Context, snap *Snapshot) error

	// Clear removes every file of the store
	Clear(ctx context.Context) error
}

// Store is the ephemeral serving store of one pipeline.
type Store interface {
	ArtifactStore
	StatusStore
	SnapshotStore
}
