// Package queue consumes sync jobs from JetStream and schedules periodic ones.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/movie-catalog/internal/platform/natsconn"
	"github.com/example/movie-catalog/services/catalog/internal/store"
	"github.com/example/movie-catalog/services/catalog/internal/syncrun"
)

// SyncStarter is implemented by *syncrun.Coordinator.
type SyncStarter interface {
	Start(ctx context.Context, mode store.SyncMode, resume bool) (store.SyncRun, error)
}

// JetStream is the subset of nats.JetStreamContext the Worker uses.
type JetStream interface {
	natsconn.StreamManager
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
	PullSubscribe(subj, durable string, opts ...nats.SubOpt) (*nats.Subscription, error)
}

type acker interface {
	Ack(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
}

type Worker struct {
	Log  *zap.Logger
	JS   JetStream
	Sync SyncStarter

	MaxDeliver int
}

func NewWorker(log *zap.Logger, js JetStream, sync SyncStarter, maxDeliver int) *Worker {
	return &Worker{Log: log, JS: js, Sync: sync, MaxDeliver: maxDeliver}
}

func (w *Worker) EnsureStream() error {
	return natsconn.EnsureStream(w.JS, nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{StreamSubjects},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	})
}

// Run consumes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.EnsureStream(); err != nil {
		return fmt.Errorf("ensure stream %s: %w", StreamName, err)
	}
	sub, err := w.JS.PullSubscribe(SubjectSync, durableSync)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()

	w.Log.Info("consumer started", zap.String("subject", SubjectSync))
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(2*time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, m := range msgs {
			numDelivered := uint64(1)
			if md, err := m.Metadata(); err == nil && md != nil {
				numDelivered = md.NumDelivered
			}
			_ = w.process(ctx, m, m.Data, numDelivered)
		}
	}
}

// process settles one delivery. Only failures worth retrying are nak'ed.
func (w *Worker) process(ctx context.Context, m acker, data []byte, numDelivered uint64) error {
	if w.MaxDeliver > 0 && int(numDelivered) > w.MaxDeliver {
		if err := w.publishDLQ(data, fmt.Sprintf("max deliveries exceeded: %d", numDelivered)); err != nil {
			w.Log.Warn("dlq publish failed", zap.Error(err))
		}
		_ = m.Ack()
		return nil
	}

	var j SyncJob
	if err := json.Unmarshal(data, &j); err != nil {
		w.Log.Warn("bad payload", zap.String("subject", SubjectSync), zap.Error(err))
		_ = m.Ack()
		return nil
	}
	mode, ok := store.ParseMode(j.Mode)
	if !ok {
		w.Log.Warn("bad sync mode", zap.String("mode", j.Mode))
		_ = w.publishDLQ(data, "invalid mode")
		_ = m.Ack()
		return nil
	}

	run, err := w.Sync.Start(ctx, mode, j.Resume)
	switch {
	case errors.Is(err, store.ErrRunActive):
		// The running run covers this request.
		w.Log.Info("sync job skipped, run already active", zap.String("mode", j.Mode))
		_ = m.Ack()
		return nil
	case errors.Is(err, syncrun.ErrInvalidMode):
		_ = m.Ack()
		return nil
	case err != nil:
		w.Log.Warn("sync job failed", zap.String("mode", j.Mode), zap.Uint64("attempt", numDelivered), zap.Error(err))
		_ = m.NakWithDelay(backoffDelay(numDelivered))
		return err
	}
	w.Log.Info("sync job started run", zap.String("run_id", run.ID), zap.String("mode", j.Mode), zap.Bool("resume", j.Resume))
	_ = m.Ack()
	return nil
}

func (w *Worker) publishDLQ(data []byte, reason string) error {
	msg := map[string]any{"subject": SubjectSync, "reason": reason, "payload": json.RawMessage(data)}
	if !json.Valid(data) {
		msg["payload"] = string(data)
	}
	b, _ := json.Marshal(msg)
	_, err := w.JS.Publish(SubjectDLQ, b)
	return err
}
