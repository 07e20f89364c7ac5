package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/riverwatch/internal/core/domain"
	"github.com/vietddude/riverwatch/internal/infra/durable"
	"github.com/vietddude/riverwatch/internal/infra/storage"
)

type snapshotRow struct {
	PipelineID string    `db:"pipeline_id"`
	TakenAt    time.Time `db:"taken_at"`
}

type fileRow struct {
	PipelineID string `db:"pipeline_id"`
	Name       string `db:"name"`
	Content    []byte `db:"content"`
}

// BackupRepo stores one snapshot per pipeline in PostgreSQL.
type BackupRepo struct {
	db *DB
}

// NewBackupRepo creates a new PostgreSQL-backed durable target.
func NewBackupRepo(db *DB) *BackupRepo {
	return &BackupRepo{db: db}
}

func (r *BackupRepo) Name() string { return "postgres" }

func (r *BackupRepo) Close() error { return r.db.Close() }

func (r *BackupRepo) Save(ctx context.Context, snap *storage.Snapshot) error {
	files := make([]fileRow, 0, len(snap.Files))
	for _, name := range snap.Names() {
		files = append(files, fileRow{PipelineID: snap.PipelineID, Name: name, Content: snap.Files[name]})
	}

	uow, err := r.db.NewUnitOfWork(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = uow.Rollback() }()

	row := snapshotRow{PipelineID: snap.PipelineID, TakenAt: snap.TakenAt}
	if err := uow.ReplaceSnapshot(ctx, row, files); err != nil {
		return err
	}
	return uow.Commit()
}

func (r *BackupRepo) Load(ctx context.Context, id domain.PipelineID) (*storage.Snapshot, error) {
	var row snapshotRow
	err := r.db.GetContext(ctx, &row,
		`SELECT pipeline_id, taken_at FROM backup_snapshots WHERE pipeline_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, durable.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var files []fileRow
	if err := r.db.SelectContext(ctx, &files,
		`SELECT pipeline_id, name, content FROM backup_files WHERE pipeline_id = $1 ORDER BY name`, id); err != nil {
		return nil, fmt.Errorf("load snapshot files: %w", err)
	}
	if len(files) == 0 {
		return nil, durable.ErrNoSnapshot
	}

	snap := &storage.Snapshot{PipelineID: id, Files: make(map[string][]byte, len(files)), TakenAt: row.TakenAt}
	for _, f := range files {
		snap.Files[f.Name] = f.Content
	}
	return snap, nil
}

func (r *BackupRepo) Exists(ctx context.Context, id domain.PipelineID) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM backup_files WHERE pipeline_id = $1)`, id)
	if err != nil {
		return false, fmt.Errorf("check snapshot: %w", err)
	}
	return exists, nil
}
