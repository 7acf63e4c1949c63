package store

import (
	"context"
	"time"
)

type SyncMode string

const (
	ModeFull    SyncMode = "full"
	ModeChanges SyncMode = "changes"
)

// ParseMode accepts "full" or "changes".
func ParseMode(s string) (SyncMode, bool) {
	switch SyncMode(s) {
	case ModeFull, ModeChanges:
		return SyncMode(s), true
	default:
		return "", false
	}
}

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Cursor is the last fully processed page of Endpoint. Page 0 means the
// endpoint was entered but none of its pages are done yet.
type Cursor struct {
	Endpoint string `json:"endpoint,omitempty"`
	Page     int    `json:"page"`
}

type Totals struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
}

func (t Totals) Add(o Totals) Totals {
	return Totals{
		Inserted:  t.Inserted + o.Inserted,
		Updated:   t.Updated + o.Updated,
		Unchanged: t.Unchanged + o.Unchanged,
		Skipped:   t.Skipped + o.Skipped,
	}
}

// SyncRun is one row of the append-only sync log.
type SyncRun struct {
	ID          string     `json:"id"`
	Mode        SyncMode   `json:"mode"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	HeartbeatAt time.Time  `json:"heartbeat_at"`
	Totals      Totals     `json:"totals"`
	Cursor      Cursor     `json:"cursor"`
	Error       string     `json:"error,omitempty"`
	ResumedFrom *string    `json:"resumed_from,omitempty"`
}

// SyncRunStore persists run history and the single running slot.
type SyncRunStore interface {
	// ClaimRun atomically inserts run as running, or returns ErrRunActive.
	ClaimRun(ctx context.Context, run SyncRun) (SyncRun, error)
	CheckpointRun(ctx context.Context, runID string, cursor Cursor, totals Totals) error
	// FinishRun finalizes a running run. Finalizing twice returns ErrNotFound.
	FinishRun(ctx context.Context, runID string, status RunStatus, totals Totals, errMsg string) error
	RunningRun(ctx context.Context) (SyncRun, error)
	// LastFinishedRun returns the latest finalized run of mode, or of any mode when mode is empty.
	LastFinishedRun(ctx context.Context, mode SyncMode) (SyncRun, error)
	// FailStaleRuns fails running runs whose heartbeat is before cutoff.
	FailStaleRuns(ctx context.Context, cutoff time.Time, reason string) (int, error)
}
