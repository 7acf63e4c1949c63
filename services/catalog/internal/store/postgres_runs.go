package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const runColumns = `id::text, mode, status, started_at, finished_at, heartbeat_at,
inserted, updated, unchanged, skipped, cursor_endpoint, cursor_page, error_message, resumed_from::text`

// ClaimRun relies on the sync_runs_one_running partial unique index, so two
// concurrent claims cannot both succeed.
func (s *PostgresStore) ClaimRun(ctx context.Context, run SyncRun) (SyncRun, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	row := s.db.QueryRow(ctx, `
INSERT INTO sync_runs (id, mode, status, inserted, updated, unchanged, skipped, cursor_endpoint, cursor_page, resumed_from)
VALUES ($1::uuid,$2,'running',$3,$4,$5,$6,$7,$8,$9::uuid)
RETURNING `+runColumns,
		run.ID, string(run.Mode), run.Totals.Inserted, run.Totals.Updated, run.Totals.Unchanged, run.Totals.Skipped,
		run.Cursor.Endpoint, run.Cursor.Page, run.ResumedFrom,
	)
	out, err := scanRun(row)
	if err != nil {
		if isUniqueViolation(err) {
			return SyncRun{}, ErrRunActive
		}
		return SyncRun{}, fmt.Errorf("claim run: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CheckpointRun(ctx context.Context, runID string, cursor Cursor, totals Totals) error {
	tag, err := s.db.Exec(ctx, `
UPDATE sync_runs
SET cursor_endpoint=$2, cursor_page=$3, inserted=$4, updated=$5, unchanged=$6, skipped=$7, heartbeat_at=now()
WHERE id=$1::uuid AND status='running'`,
		runID, cursor.Endpoint, cursor.Page, totals.Inserted, totals.Updated, totals.Unchanged, totals.Skipped,
	)
	if err != nil {
		return fmt.Errorf("checkpoint run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status RunStatus, totals Totals, errMsg string) error {
	tag, err := s.db.Exec(ctx, `
UPDATE sync_runs
SET status=$2, inserted=$3, updated=$4, unchanged=$5, skipped=$6, error_message=$7, finished_at=now(), heartbeat_at=now()
WHERE id=$1::uuid AND status='running'`,
		runID, string(status), totals.Inserted, totals.Updated, totals.Unchanged, totals.Skipped, errMsg,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) RunningRun(ctx context.Context) (SyncRun, error) {
	row := s.db.QueryRow(ctx, `SELECT `+runColumns+` FROM sync_runs WHERE status='running' LIMIT 1`)
	out, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SyncRun{}, ErrNotFound
		}
		return SyncRun{}, fmt.Errorf("running run: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) LastFinishedRun(ctx context.Context, mode SyncMode) (SyncRun, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+runColumns+` FROM sync_runs
WHERE status <> 'running' AND ($1 = '' OR mode = $1)
ORDER BY finished_at DESC, started_at DESC
LIMIT 1`, string(mode))
	out, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SyncRun{}, ErrNotFound
		}
		return SyncRun{}, fmt.Errorf("last finished run: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) FailStaleRuns(ctx context.Context, cutoff time.Time, reason string) (int, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE sync_runs
SET status='failed', error_message=$2, finished_at=now()
WHERE status='running' AND heartbeat_at < $1`, cutoff, reason)
	if err != nil {
		return 0, fmt.Errorf("fail stale runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanRun(row pgx.Row) (SyncRun, error) {
	var r SyncRun
	var mode, status string
	err := row.Scan(&r.ID, &mode, &status, &r.StartedAt, &r.FinishedAt, &r.HeartbeatAt,
		&r.Totals.Inserted, &r.Totals.Updated, &r.Totals.Unchanged, &r.Totals.Skipped,
		&r.Cursor.Endpoint, &r.Cursor.Page, &r.Error, &r.ResumedFrom)
	r.Mode, r.Status = SyncMode(mode), RunStatus(status)
	return r, err
}
