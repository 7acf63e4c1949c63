// Package syncrun coordinates TMDB sync runs: it claims the single running
// slot, pages through the upstream source, checkpoints after every page and
// finalizes the run.
package syncrun

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/movie-catalog/internal/platform/auth"
	"github.com/example/movie-catalog/internal/platform/events"
	"github.com/example/movie-catalog/services/catalog/internal/metrics"
	"github.com/example/movie-catalog/services/catalog/internal/reconcile"
	"github.com/example/movie-catalog/services/catalog/internal/store"
	"github.com/example/movie-catalog/services/catalog/internal/tmdb"
)

var ErrInvalidMode = errors.New("syncrun: invalid mode")

// errSuperseded stops a run that lost the running slot, usually to the
// staleness policy, while it was waiting on a page.
var errSuperseded = errors.New("syncrun: run is no longer running")

const (
	StateIdle    = "idle"
	StateRunning = "running"
)

// Status is the live view of the sync subsystem.
type Status struct {
	State          string         `json:"state"`
	RunID          string         `json:"run_id,omitempty"`
	Mode           store.SyncMode `json:"mode,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	HeartbeatAt    *time.Time     `json:"heartbeat_at,omitempty"`
	ElapsedSeconds float64        `json:"elapsed_seconds,omitempty"`
	Cursor         *store.Cursor  `json:"cursor,omitempty"`
	Totals         *store.Totals  `json:"totals,omitempty"`
	ResumedFrom    *string        `json:"resumed_from,omitempty"`
}

// EventPublisher is satisfied by *events.Publisher.
type EventPublisher interface {
	Publish(subject, eventName, actor string, props map[string]any)
}

type Options struct {
	ImageBaseURL string
	// StaleAfter fails running runs without a checkpoint for this long. Zero disables it.
	StaleAfter time.Duration
	Executor   Executor
	Events     EventPublisher
	Now        func() time.Time
}

type Coordinator struct {
	runs    store.SyncRunStore
	catalog reconcile.Store
	source  tmdb.Source
	log     *zap.Logger
	opts    Options
}

func New(runs store.SyncRunStore, catalog reconcile.Store, source tmdb.Source, log *zap.Logger, opts Options) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Executor == nil {
		opts.Executor = &GoExecutor{}
	}
	if opts.Events == nil {
		opts.Events = (*events.Publisher)(nil)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Coordinator{runs: runs, catalog: catalog, source: source, log: log, opts: opts}
}

// Start claims the running slot and hands the run to the executor. With
// resume set and the latest finalized full run failed, the new run picks up
// from that run's cursor and totals. Changes runs always start fresh: the
// changes listing shifts between runs, so a saved page no longer points at the
// same movies. Returns store.ErrRunActive when a run is already in progress.
func (c *Coordinator) Start(ctx context.Context, mode store.SyncMode, resume bool) (store.SyncRun, error) {
	if Plan(mode) == nil {
		return store.SyncRun{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	c.failStale(ctx)

	if resume && mode == store.ModeChanges {
		c.log.Info("resume ignored for changes sync")
		resume = false
	}

	run := store.SyncRun{Mode: mode}
	if resume {
		last, err := c.runs.LastFinishedRun(ctx, mode)
		switch {
		case err == nil && last.Status == store.RunFailed:
			run.Cursor = last.Cursor
			run.Totals = last.Totals
			run.ResumedFrom = &last.ID
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return store.SyncRun{}, fmt.Errorf("load last run: %w", err)
		}
	}

	claimed, err := c.runs.ClaimRun(ctx, run)
	if err != nil {
		return store.SyncRun{}, err
	}

	actor, ok := auth.UserIDFromContext(ctx)
	if !ok || actor == "" {
		actor = "system"
	}
	log := c.log.With(zap.String("run_id", claimed.ID), zap.String("mode", string(mode)))
	if claimed.ResumedFrom != nil {
		log = log.With(zap.String("resumed_from", *claimed.ResumedFrom))
	}
	log.Info("sync run started", zap.String("endpoint", claimed.Cursor.Endpoint), zap.Int("page", claimed.Cursor.Page))
	c.opts.Events.Publish(events.SubjectSyncStarted, "sync_started", actor, map[string]any{
		"run_id": claimed.ID, "mode": string(mode), "resumed": claimed.ResumedFrom != nil,
	})

	c.opts.Executor.Go(func() { c.execute(claimed, actor, log) })
	return claimed, nil
}

// Status reports idle or a snapshot of the running run.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	c.failStale(ctx)
	r, err := c.runs.RunningRun(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return Status{State: StateIdle}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("running run: %w", err)
	}
	started, heartbeat, cursor, totals := r.StartedAt, r.HeartbeatAt, r.Cursor, r.Totals
	return Status{
		State:          StateRunning,
		RunID:          r.ID,
		Mode:           r.Mode,
		StartedAt:      &started,
		HeartbeatAt:    &heartbeat,
		ElapsedSeconds: c.opts.Now().Sub(r.StartedAt).Seconds(),
		Cursor:         &cursor,
		Totals:         &totals,
		ResumedFrom:    r.ResumedFrom,
	}, nil
}

// LastSync returns the latest finalized run of any mode.
func (c *Coordinator) LastSync(ctx context.Context) (store.SyncRun, error) {
	return c.runs.LastFinishedRun(ctx, "")
}

// Wait blocks until in-flight runs finish or ctx ends.
func (c *Coordinator) Wait(ctx context.Context) error {
	return waitContext(ctx, c.opts.Executor)
}

func (c *Coordinator) failStale(ctx context.Context) {
	if c.opts.StaleAfter <= 0 {
		return
	}
	cutoff := c.opts.Now().Add(-c.opts.StaleAfter)
	reason := "stale: no checkpoint since " + cutoff.Format(time.RFC3339)
	n, err := c.runs.FailStaleRuns(ctx, cutoff, reason)
	if err != nil {
		c.log.Warn("fail stale runs", zap.Error(err))
		return
	}
	if n > 0 {
		c.log.Warn("failed stale sync runs", zap.Int("count", n), zap.Time("cutoff", cutoff))
	}
}

// execute drives one claimed run to a final state. It owns the run from here on.
func (c *Coordinator) execute(run store.SyncRun, actor string, log *zap.Logger) {
	// The run outlives the request that started it.
	ctx := context.Background()
	metrics.SyncRunning.Inc()
	defer metrics.SyncRunning.Dec()

	start := c.opts.Now()
	var runErr error
	func() {
		defer func() {
			if p := recover(); p != nil {
				log.Error("sync run panicked", zap.Any("panic", p), zap.Stack("stack"))
				runErr = fmt.Errorf("panic: %v", p)
			}
		}()
		runErr = c.walk(ctx, &run, log)
	}()

	status, msg := store.RunCompleted, ""
	if runErr != nil {
		status, msg = store.RunFailed, runErr.Error()
	}
	if err := c.runs.FinishRun(ctx, run.ID, status, run.Totals, msg); err != nil {
		// ErrNotFound here means the run was already failed as stale.
		log.Error("finish sync run", zap.Error(err))
		return
	}
	metrics.SyncRunsTotal.WithLabelValues(string(run.Mode), string(status)).Inc()

	fields := []zap.Field{
		zap.Int("inserted", run.Totals.Inserted), zap.Int("updated", run.Totals.Updated),
		zap.Int("unchanged", run.Totals.Unchanged), zap.Int("skipped", run.Totals.Skipped),
		zap.Duration("took", c.opts.Now().Sub(start)),
	}
	props := map[string]any{"run_id": run.ID, "mode": string(run.Mode), "totals": run.Totals, "cursor": run.Cursor}
	if runErr != nil {
		log.Warn("sync run failed", append(fields, zap.Error(runErr))...)
		props["error"] = msg
		c.opts.Events.Publish(events.SubjectSyncFailed, "sync_failed", actor, props)
		return
	}
	log.Info("sync run completed", fields...)
	c.opts.Events.Publish(events.SubjectSyncCompleted, "sync_completed", actor, props)
}

// walk pages through the run's plan from its cursor. run.Cursor and
// run.Totals always equal the last persisted checkpoint.
func (c *Coordinator) walk(ctx context.Context, run *store.SyncRun, log *zap.Logger) error {
	genres, err := c.source.Genres(ctx)
	if err != nil {
		return fmt.Errorf("load genres: %w", err)
	}
	engine := reconcile.New(c.catalog, log, reconcile.Options{
		ImageBaseURL: c.opts.ImageBaseURL,
		UpdateOnly:   run.Mode == store.ModeChanges,
	})
	if err := engine.PrepareGenres(ctx, genres); err != nil {
		return err
	}

	if run.Mode == store.ModeChanges {
		ctx = tmdb.WithChangesUntil(ctx, run.StartedAt)
	}

	plan := Plan(run.Mode)
	first, page := resumePoint(plan, run.Cursor)
	for i := first; i < len(plan); i++ {
		endpoint := plan[i]
		if i > first {
			page = 1
		}
		for {
			began := time.Now()
			p, err := c.source.FetchPage(ctx, endpoint, page)
			if err != nil {
				return err
			}
			if err := c.stillCurrent(ctx, run.ID); err != nil {
				return err
			}

			var delta store.Totals
			for _, rec := range p.Records {
				outcome, err := engine.Reconcile(ctx, rec)
				if err != nil {
					return err
				}
				switch outcome {
				case reconcile.Inserted:
					delta.Inserted++
				case reconcile.Updated:
					delta.Updated++
				case reconcile.Unchanged:
					delta.Unchanged++
				default:
					delta.Skipped++
				}
				metrics.SyncRecordsTotal.WithLabelValues(string(run.Mode), outcome.String()).Inc()
			}

			cursor := store.Cursor{Endpoint: endpoint, Page: page}
			if !p.HasMore && i+1 < len(plan) {
				cursor = store.Cursor{Endpoint: plan[i+1], Page: 0}
			}
			totals := run.Totals.Add(delta)
			if err := c.runs.CheckpointRun(ctx, run.ID, cursor, totals); err != nil {
				return fmt.Errorf("checkpoint %s page %d: %w", endpoint, page, err)
			}
			run.Cursor, run.Totals = cursor, totals
			metrics.SyncPageDuration.WithLabelValues(endpoint).Observe(time.Since(began).Seconds())
			log.Debug("sync page done", zap.String("endpoint", endpoint), zap.Int("page", page),
				zap.Int("records", len(p.Records)), zap.Bool("has_more", p.HasMore))

			if !p.HasMore {
				break
			}
			page++
		}
	}
	return nil
}

// stillCurrent fails once the run no longer holds the running slot. Checked
// after each fetch so a run failed as stale writes nothing more.
func (c *Coordinator) stillCurrent(ctx context.Context, runID string) error {
	cur, err := c.runs.RunningRun(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return errSuperseded
	case err != nil:
		return fmt.Errorf("running run: %w", err)
	case cur.ID != runID:
		return errSuperseded
	}
	return nil
}
