// Package filesystem keeps backups in a directory on persistent storage.
package filesystem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/danjacques/gofslock/fslock"
	"github.com/google/renameio/v2"

	"github.com/vietddude/riverwatch/internal/core/domain"
	"github.com/vietddude/riverwatch/internal/infra/durable"
	"github.com/vietddude/riverwatch/internal/infra/storage"
)

const (
	manifestName  = "manifest.json"
	blobsDir      = "blobs"
	lockHeldDelay = 500 * time.Millisecond
)

type manifestEntry struct {
	Name   string `json:"name"`
	Size   int    `json:"size"`
	SHA256 string `json:"sha256"`
}

type manifest struct {
	PipelineID string          `json:"pipeline_id"`
	TakenAt    time.Time       `json:"taken_at"`
	Files      []manifestEntry `json:"files"`
}

// Target stores each pipeline under <root>/<pipeline>/. File contents live in
// blobs/<sha256> and are never modified once written; the manifest maps names
// to blobs. Replacing the manifest commits a backup, so an interrupted Save
// leaves the previous generation intact.
type Target struct {
	root string
	log  *slog.Logger
}

// New creates the backup root if needed.
func New(root string) (*Target, error) {
	if root == "" {
		return nil, errors.New("filesystem backup: empty path")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("filesystem backup: %w", err)
	}
	return &Target{
		root: root,
		log:  slog.Default().With("component", "backup", "target", "filesystem"),
	}, nil
}

func (t *Target) Name() string { return "filesystem" }

func (t *Target) Close() error { return nil }

func (t *Target) dir(id domain.PipelineID) string {
	return filepath.Join(t.root, id)
}

// WithLock holds an exclusive file lock for the pipeline while fn runs.
func (t *Target) WithLock(ctx context.Context, id domain.PipelineID, fn func() error) error {
	blocker := func() error {
		t.log.Debug("Backup lock is held, waiting", "pipeline", id)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockHeldDelay):
			return nil
		}
	}
	return fslock.WithBlocking(filepath.Join(t.root, id+".lock"), blocker, fn)
}

func (t *Target) Exists(ctx context.Context, id domain.PipelineID) (bool, error) {
	_, err := os.Stat(filepath.Join(t.dir(id), manifestName))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *Target) readManifest(id domain.PipelineID) (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(t.dir(id), manifestName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, durable.ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

func (t *Target) Load(ctx context.Context, id domain.PipelineID) (*storage.Snapshot, error) {
	m, err := t.readManifest(id)
	if err != nil {
		return nil, err
	}
	if len(m.Files) == 0 {
		return nil, durable.ErrNoSnapshot
	}

	snap := &storage.Snapshot{
		PipelineID: id,
		Files:      make(map[string][]byte, len(m.Files)),
		TakenAt:    m.TakenAt,
	}
	for _, e := range m.Files {
		if err := storage.ValidateName(e.Name); err != nil {
			return nil, err
		}
		if _, err := hex.DecodeString(e.SHA256); err != nil || len(e.SHA256) != sha256.Size*2 {
			return nil, fmt.Errorf("backup file %s: bad checksum %q", e.Name, e.SHA256)
		}
		data, err := os.ReadFile(t.blobPath(id, e.SHA256))
		if err != nil {
			return nil, fmt.Errorf("read backup file %s: %w", e.Name, err)
		}
		if checksum(data) != e.SHA256 {
			return nil, fmt.Errorf("backup file %s: checksum mismatch", e.Name)
		}
		snap.Files[e.Name] = data
	}
	return snap, nil
}

func (t *Target) Save(ctx context.Context, snap *storage.Snapshot) error {
	id := snap.PipelineID
	if err := os.MkdirAll(t.dir(id), 0o755); err != nil {
		return fmt.Errorf("filesystem backup: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(t.dir(id), blobsDir), 0o755); err != nil {
		return fmt.Errorf("filesystem backup: %w", err)
	}

	next := manifest{PipelineID: id, TakenAt: snap.TakenAt}
	written := 0
	for _, name := range snap.Names() {
		if err := storage.ValidateName(name); err != nil {
			return err
		}
		data := snap.Files[name]
		sum := checksum(data)
		next.Files = append(next.Files, manifestEntry{Name: name, Size: len(data), SHA256: sum})

		if t.hasBlob(id, sum) {
			continue
		}
		if err := renameio.WriteFile(t.blobPath(id, sum), data, 0o644); err != nil {
			return fmt.Errorf("write backup file %s: %w", name, err)
		}
		written++
	}

	encoded, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(filepath.Join(t.dir(id), manifestName), encoded, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	t.prune(id, next)
	t.log.Debug("Backup written", "pipeline", id, "files", len(next.Files), "rewritten", written)
	return nil
}

// hasBlob reports whether an intact blob with the given checksum exists.
func (t *Target) hasBlob(id domain.PipelineID, sum string) bool {
	data, err := os.ReadFile(t.blobPath(id, sum))
	return err == nil && checksum(data) == sum
}

// prune removes blobs the committed manifest no longer references, along with
// leftovers of interrupted saves.
func (t *Target) prune(id domain.PipelineID, m manifest) {
	keep := make(map[string]bool, len(m.Files))
	for _, e := range m.Files {
		keep[e.SHA256] = true
	}
	entries, err := os.ReadDir(filepath.Join(t.dir(id), blobsDir))
	if err != nil {
		t.log.Warn("Failed to list backup blobs", "pipeline", id, "error", err)
		return
	}
	for _, e := range entries {
		if keep[e.Name()] {
			continue
		}
		path := filepath.Join(t.dir(id), blobsDir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			t.log.Warn("Failed to prune backup blob", "path", path, "error", err)
		}
	}
}

func (t *Target) blobPath(id domain.PipelineID, sum string) string {
	return filepath.Join(t.dir(id), blobsDir, sum)
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
