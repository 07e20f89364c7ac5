package backup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/riverwatch/internal/core/domain"
	"github.com/vietddude/riverwatch/internal/infra/durable"
	"github.com/vietddude/riverwatch/internal/infra/durable/filesystem"
	"github.com/vietddude/riverwatch/internal/infra/storage"
	"github.com/vietddude/riverwatch/internal/infra/storage/disk"
	"github.com/vietddude/riverwatch/internal/infra/storage/memory"
)

func newTarget(t *testing.T) *filesystem.Target {
	t.Helper()
	target, err := filesystem.New(t.TempDir())
	require.NoError(t, err)
	return target
}

func seed(t *testing.T, s storage.Store) {
	t.Helper()
	ctx := context.Background()
	a := domain.NewArtifact("graph", "graph.png", "image/png", []byte("png-bytes"), time.Now())
	require.NoError(t, s.Publish(ctx, a))
	require.NoError(t, s.WriteStatus(ctx, []byte(`{"pipeline_id":"graph"}`)))
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := disk.New(disk.Options{
		PipelineID: "graph",
		Dir:        t.TempDir(),
		Artifact:   "graph.png",
		Status:     "graph_status.json",
	})
	require.NoError(t, err)
	seed(t, store)
	require.NoError(t, store.Expose(ctx, []byte("png-with-banner")))

	before, err := store.Snapshot(ctx)
	require.NoError(t, err)

	m := NewManager(newTarget(t))
	m.Register("graph", store)
	require.NoError(t, m.Backup(ctx, "graph"))

	require.NoError(t, store.Clear(ctx))
	cleared, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, cleared.Empty())

	restored, err := m.Restore(ctx, "graph")
	require.NoError(t, err)
	assert.True(t, restored)

	after, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Files, after.Files)
}

func TestBackup_OverwritesSingleGeneration(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage("graph", "graph.png", "graph_status.json")
	seed(t, store)

	target := newTarget(t)
	m := NewManager(target)
	m.Register("graph", store)
	require.NoError(t, m.Backup(ctx, "graph"))

	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Publish(ctx, domain.NewArtifact("graph", "graph.png", "image/png", []byte("v2"), time.Now())))
	require.NoError(t, m.Backup(ctx, "graph"))

	snap, err := target.Load(ctx, "graph")
	require.NoError(t, err)
	assert.Equal(t, []string{".base/graph.png", "graph.png"}, snap.Names())
	assert.Equal(t, []byte("v2"), snap.Files["graph.png"])
}

func TestBackup_EmptyStoreKeepsExistingBackup(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage("graph", "graph.png", "graph_status.json")
	seed(t, store)

	target := newTarget(t)
	m := NewManager(target)
	m.Register("graph", store)
	require.NoError(t, m.Backup(ctx, "graph"))

	require.NoError(t, store.Clear(ctx))
	require.NoError(t, m.Backup(ctx, "graph"))

	snap, err := target.Load(ctx, "graph")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), snap.Files["graph.png"])
}

func TestRestore_NoBackupIsNoop(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage("telemetry", "river_data.json", "status.json")
	m := NewManager(newTarget(t))
	m.Register("telemetry", store)

	restored, err := m.Restore(ctx, "telemetry")
	require.NoError(t, err)
	assert.False(t, restored)
	assert.Zero(t, store.Writes())
}

func TestBootstrapIfEmpty_RunsOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage("telemetry", "river_data.json", "status.json")
	seed(t, store)

	target := newTarget(t)
	m := NewManager(target)
	m.Register("telemetry", store)

	exists, err := target.Exists(ctx, "telemetry")
	require.NoError(t, err)
	require.False(t, exists)

	ran, err := m.BootstrapIfEmpty(ctx, "telemetry")
	require.NoError(t, err)
	assert.True(t, ran)

	exists, err = target.Exists(ctx, "telemetry")
	require.NoError(t, err)
	assert.True(t, exists)

	ran, err = m.BootstrapIfEmpty(ctx, "telemetry")
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestBootstrapIfEmpty_SkipsWhenBackupExists(t *testing.T) {
	ctx := context.Background()
	target := newTarget(t)
	require.NoError(t, target.Save(ctx, &storage.Snapshot{
		PipelineID: "graph",
		Files:      map[string][]byte{"graph.png": []byte("old")},
		TakenAt:    time.Now(),
	}))

	store := memory.NewMemoryStorage("graph", "graph.png", "graph_status.json")
	seed(t, store)
	m := NewManager(target)
	m.Register("graph", store)

	ran, err := m.BootstrapIfEmpty(ctx, "graph")
	require.NoError(t, err)
	assert.False(t, ran)

	snap, err := target.Load(ctx, "graph")
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), snap.Files["graph.png"])
}

type brokenTarget struct{ durable.Target }

func (brokenTarget) Name() string { return "broken" }
func (brokenTarget) Save(ctx context.Context, snap *storage.Snapshot) error {
	return errors.New("disk full")
}

func TestBackupAll_CombinesFailures(t *testing.T) {
	ctx := context.Background()
	m := NewManager(brokenTarget{})
	for _, id := range []domain.PipelineID{"graph", "telemetry"} {
		s := memory.NewMemoryStorage(id, "a", "s")
		seed(t, s)
		m.Register(id, s)
	}

	err := m.BackupAll(ctx)
	require.Error(t, err)
	var pe *domain.PersistenceError
	assert.ErrorAs(t, err, &pe)
	assert.Contains(t, err.Error(), "graph")
	assert.Contains(t, err.Error(), "telemetry")
}

func TestBackup_UnknownPipeline(t *testing.T) {
	m := NewManager(newTarget(t))
	assert.Error(t, m.Backup(context.Background(), "nope"))
}

func TestScheduler_Next(t *testing.T) {
	s, err := NewScheduler(NewManager(newTarget(t)), "")
	require.NoError(t, err)

	from := time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 2, 4, 0, 0, 0, time.UTC), s.Next(from))

	_, err = NewScheduler(NewManager(newTarget(t)), "not a cron")
	assert.Error(t, err)
}
