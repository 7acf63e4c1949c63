package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/movie-catalog/services/catalog/internal/store"
)

func TestScheduler_Enqueue(t *testing.T) {
	js := &fakeJS{}
	s := &Scheduler{Log: zap.NewNop(), JS: js, now: func() time.Time {
		return time.Date(2026, 5, 1, 10, 17, 0, 0, time.UTC)
	}}
	s.enqueue(store.ModeChanges, time.Hour)

	pubs := js.Published()
	if len(pubs) != 1 || pubs[0].subject != SubjectSync || pubs[0].opts != 1 {
		t.Fatalf("published = %+v", pubs)
	}
	var j SyncJob
	if err := json.Unmarshal(pubs[0].data, &j); err != nil {
		t.Fatal(err)
	}
	if j.Mode != "changes" || !j.Resume {
		t.Fatalf("job = %+v", j)
	}
}

func TestScheduler_RunTicksUntilCancelled(t *testing.T) {
	js := &fakeJS{}
	s := &Scheduler{Log: zap.NewNop(), JS: js, FullInterval: 10 * time.Millisecond}
	if !s.Enabled() {
		t.Fatal("expected enabled")
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(js.Published()) == 0 {
		select {
		case <-deadline:
			t.Fatal("scheduler never published")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	var j SyncJob
	_ = json.Unmarshal(js.Published()[0].data, &j)
	if j.Mode != "full" {
		t.Fatalf("job = %+v", j)
	}
}

func TestScheduler_Disabled(t *testing.T) {
	if (&Scheduler{}).Enabled() {
		t.Fatal("zero intervals should disable the scheduler")
	}
}
