package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/movie-catalog/services/catalog/internal/store"
)

// Publisher is the subset of nats.JetStreamContext the Scheduler uses.
type Publisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Scheduler enqueues periodic sync jobs. A zero interval disables that mode.
// Scheduled jobs always ask to resume so a failed run picks up where it stopped.
type Scheduler struct {
	Log             *zap.Logger
	JS              Publisher
	FullInterval    time.Duration
	ChangesInterval time.Duration

	now func() time.Time
}

func (s *Scheduler) Enabled() bool {
	return s.FullInterval > 0 || s.ChangesInterval > 0
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var fullC, changesC <-chan time.Time
	if s.FullInterval > 0 {
		t := time.NewTicker(s.FullInterval)
		defer t.Stop()
		fullC = t.C
	}
	if s.ChangesInterval > 0 {
		t := time.NewTicker(s.ChangesInterval)
		defer t.Stop()
		changesC = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-fullC:
			s.enqueue(store.ModeFull, s.FullInterval)
		case <-changesC:
			s.enqueue(store.ModeChanges, s.ChangesInterval)
		}
	}
}

// enqueue publishes one job. The message id is derived from the interval slot,
// so replicas ticking in the same slot produce a single job.
func (s *Scheduler) enqueue(mode store.SyncMode, interval time.Duration) {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	slot := now().UTC().Truncate(interval).Unix()
	b, _ := json.Marshal(SyncJob{Mode: string(mode), Resume: true})
	msgID := "sync-" + string(mode) + "-" + strconv.FormatInt(slot, 10)
	if _, err := s.JS.Publish(SubjectSync, b, nats.MsgId(msgID)); err != nil {
		s.Log.Warn("scheduler: publish failed", zap.String("mode", string(mode)), zap.Error(err))
		return
	}
	s.Log.Info("scheduler: sync job enqueued", zap.String("mode", string(mode)), zap.String("msg_id", msgID))
}
