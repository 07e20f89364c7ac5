package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/riverwatch/internal/core/domain"
	"github.com/vietddude/riverwatch/internal/infra/durable"
	"github.com/vietddude/riverwatch/internal/infra/storage"
)

const (
	filePrefix   = "file:"
	takenAtField = "meta:taken_at"
)

// BackupTarget keeps one snapshot per pipeline in a Redis hash.
type BackupTarget struct {
	client *Client
}

// NewBackupTarget creates a Redis-backed durable target.
func NewBackupTarget(client *Client) *BackupTarget {
	return &BackupTarget{client: client}
}

func (t *BackupTarget) Name() string { return "redis" }

func (t *BackupTarget) Close() error { return t.client.Close() }

// Save replaces the hash in a single MULTI/EXEC.
func (t *BackupTarget) Save(ctx context.Context, snap *storage.Snapshot) error {
	key := snapshotKey(snap.PipelineID)
	fields := make(map[string]any, len(snap.Files)+1)
	fields[takenAtField] = snap.TakenAt.UTC().Format(time.RFC3339Nano)
	for name, data := range snap.Files {
		fields[filePrefix+name] = data
	}

	_, err := t.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis backup save: %w", err)
	}
	return nil
}

func (t *BackupTarget) Load(ctx context.Context, id domain.PipelineID) (*storage.Snapshot, error) {
	values, err := t.client.rdb.HGetAll(ctx, snapshotKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis backup load: %w", err)
	}

	snap := &storage.Snapshot{PipelineID: id, Files: make(map[string][]byte)}
	for field, value := range values {
		if name, ok := strings.CutPrefix(field, filePrefix); ok {
			snap.Files[name] = []byte(value)
		}
	}
	if len(snap.Files) == 0 {
		return nil, durable.ErrNoSnapshot
	}
	if ts, ok := values[takenAtField]; ok {
		snap.TakenAt, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("redis backup load: bad taken_at: %w", err)
		}
	}
	return snap, nil
}

func (t *BackupTarget) Exists(ctx context.Context, id domain.PipelineID) (bool, error) {
	n, err := t.client.rdb.Exists(ctx, snapshotKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis backup exists: %w", err)
	}
	return n > 0, nil
}
