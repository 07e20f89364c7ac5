package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// UnitOfWork bundles persistence operations into a single database transaction,
// ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	tx *sqlx.Tx
}

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Already committed or rolled back
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// ReplaceSnapshot deletes the previous snapshot of a pipeline and inserts the new one.
func (u *UnitOfWork) ReplaceSnapshot(ctx context.Context, row snapshotRow, files []fileRow) error {
	if _, err := u.tx.ExecContext(ctx,
		`DELETE FROM backup_snapshots WHERE pipeline_id = $1`, row.PipelineID); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	if _, err := u.tx.NamedExecContext(ctx,
		`INSERT INTO backup_snapshots (pipeline_id, taken_at) VALUES (:pipeline_id, :taken_at)`, row); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	for _, f := range files {
		if _, err := u.tx.NamedExecContext(ctx,
			`INSERT INTO backup_files (pipeline_id, name, content) VALUES (:pipeline_id, :name, :content)`, f); err != nil {
			return fmt.Errorf("insert file %s: %w", f.Name, err)
		}
	}
	return nil
}
