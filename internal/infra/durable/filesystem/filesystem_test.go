package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/riverwatch/internal/infra/durable"
	"github.com/vietddude/riverwatch/internal/infra/storage"
)

func snapshot(files map[string]string) *storage.Snapshot {
	s := &storage.Snapshot{
		PipelineID: "graph",
		Files:      make(map[string][]byte),
		TakenAt:    time.Date(2024, 1, 1, 4, 0, 0, 0, time.UTC),
	}
	for k, v := range files {
		s.Files[k] = []byte(v)
	}
	return s
}

func TestTarget_EmptyHasNoSnapshot(t *testing.T) {
	target, err := New(t.TempDir())
	require.NoError(t, err)

	ok, err := target.Exists(context.Background(), "graph")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = target.Load(context.Background(), "graph")
	assert.ErrorIs(t, err, durable.ErrNoSnapshot)
}

func TestTarget_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	target, err := New(t.TempDir())
	require.NoError(t, err)

	in := snapshot(map[string]string{
		"latest_graph.png":       "png",
		".base/latest_graph.png": "clean",
		"last_success.json":      `{"pipeline_id":"graph"}`,
	})
	require.NoError(t, target.Save(ctx, in))

	ok, err := target.Exists(ctx, "graph")
	require.NoError(t, err)
	assert.True(t, ok)

	out, err := target.Load(ctx, "graph")
	require.NoError(t, err)
	assert.Equal(t, in.Files, out.Files)
	assert.True(t, in.TakenAt.Equal(out.TakenAt))
}

func blob(root, content string) string {
	return filepath.Join(root, "graph", blobsDir, checksum([]byte(content)))
}

func TestTarget_SkipsUnchangedAndPrunesRemoved(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	target, err := New(root)
	require.NoError(t, err)

	require.NoError(t, target.Save(ctx, snapshot(map[string]string{"a": "1", "b": "2"})))
	before, err := os.Stat(blob(root, "1"))
	require.NoError(t, err)

	require.NoError(t, target.Save(ctx, snapshot(map[string]string{"a": "1", "c": "3"})))
	after, err := os.Stat(blob(root, "1"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(before, after), "unchanged file must not be rewritten")

	_, err = os.Stat(blob(root, "2"))
	assert.True(t, os.IsNotExist(err), "previous generation file must be removed")

	out, err := target.Load(ctx, "graph")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, out.Names())
}

func TestTarget_FailedSaveKeepsPreviousGeneration(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	target, err := New(root)
	require.NoError(t, err)

	require.NoError(t, target.Save(ctx, snapshot(map[string]string{"a.png": "v1"})))

	// A non-empty directory where the blob of b.png belongs makes its write fail
	// after a.png's new content was already stored.
	require.NoError(t, os.MkdirAll(filepath.Join(blob(root, "v3"), "x"), 0o755))
	err = target.Save(ctx, snapshot(map[string]string{"a.png": "v2", "b.png": "v3"}))
	require.Error(t, err)

	out, err := target.Load(ctx, "graph")
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a.png": []byte("v1")}, out.Files)

	// The next successful save commits and cleans up.
	require.NoError(t, os.RemoveAll(blob(root, "v3")))
	require.NoError(t, target.Save(ctx, snapshot(map[string]string{"a.png": "v2"})))
	out, err = target.Load(ctx, "graph")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(out.Files["a.png"]))
	_, err = os.Stat(blob(root, "v1"))
	assert.True(t, os.IsNotExist(err))
}

func TestTarget_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	target, err := New(root)
	require.NoError(t, err)

	require.NoError(t, target.Save(ctx, snapshot(map[string]string{"a": "1"})))
	require.NoError(t, os.WriteFile(blob(root, "1"), []byte("x"), 0o644))

	_, err = target.Load(ctx, "graph")
	assert.ErrorContains(t, err, "checksum mismatch")
}

func TestTarget_RejectsBadManifestChecksum(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	target, err := New(root)
	require.NoError(t, err)

	manifest := `{"pipeline_id":"graph","files":[{"name":"a","size":1,"sha256":"../../etc/passwd"}]}`
	require.NoError(t, os.MkdirAll(filepath.Join(root, "graph"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "graph", manifestName), []byte(manifest), 0o644))

	_, err = target.Load(ctx, "graph")
	assert.ErrorContains(t, err, "bad checksum")
}

func TestTarget_WithLockRunsFn(t *testing.T) {
	target, err := New(t.TempDir())
	require.NoError(t, err)

	ran := false
	err = target.WithLock(context.Background(), "graph", func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}
