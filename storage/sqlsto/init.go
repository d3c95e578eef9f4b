package sqlsto

import (
	"context"
	"errors"

	"github.com/uptrace/bun"
)

func createJobsTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*jobModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

func createRunAfterIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*jobModel)(nil)).
		Index("idx_jobs_queue_status_run_after").
		Column("queue", "status", "run_after").
		IfNotExists().
		Exec(ctx)
	return err
}

func createStatusIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*jobModel)(nil)).
		Index("idx_jobs_queue_status").
		Column("queue", "status").
		IfNotExists().
		Exec(ctx)
	return err
}

func createRunIDIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*jobModel)(nil)).
		Index("idx_jobs_queue_run_id").
		Column("queue", "job_run_id").
		IfNotExists().
		Exec(ctx)
	return err
}

func createFingerprintIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*jobModel)(nil)).
		Index("idx_jobs_queue_fingerprint_status").
		Column("queue", "fingerprint", "status").
		IfNotExists().
		Exec(ctx)
	return err
}

func createExecutionTrackingTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*executionModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

func createExecutionTrackingIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*executionModel)(nil)).
		Index("idx_execution_tracking_queue_time").
		Column("queue", "executed_at").
		IfNotExists().
		Exec(ctx)
	return err
}

func createNextAvailableTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*nextAvailableModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

func initDB(ctx context.Context, db *bun.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	steps := []func(context.Context, bun.IDB) error{
		createJobsTable,
		createRunAfterIndex,
		createStatusIndex,
		createRunIDIndex,
		createFingerprintIndex,
		createExecutionTrackingTable,
		createExecutionTrackingIndex,
		createNextAvailableTable,
	}
	for _, step := range steps {
		if err := step(ctx, tx); err != nil {
			return errors.Join(err, tx.Rollback())
		}
	}
	return tx.Commit()
}

// InitDB initializes the jobs table, its indexes, and the rate-limiter
// side tables (execution_tracking, next_available) inside a single
// transaction. InitDB is idempotent and may be called multiple times;
// it never drops or alters existing objects.
//
// The caller is responsible for providing a properly configured *bun.DB.
func InitDB(ctx context.Context, db *bun.DB) error {
	return initDB(ctx, db)
}

// MustInitDB behaves like InitDB but panics if initialization fails.
// Intended for application bootstrap code where a broken schema is
// unrecoverable.
func MustInitDB(ctx context.Context, db *bun.DB) {
	if err := initDB(ctx, db); err != nil {
		panic(err)
	}
}
