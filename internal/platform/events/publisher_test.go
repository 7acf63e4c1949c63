package events

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
)

type recordingJS struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (r *recordingJS) PublishAsync(subj string, data []byte, _ ...nats.PubOpt) (nats.PubAckFuture, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.subjects = append(r.subjects, subj)
	r.payloads = append(r.payloads, data)
	return nil, nil
}

func TestPublisher_NilSafe(t *testing.T) {
	var p *Publisher
	p.Publish(SubjectSyncStarted, "sync_started", "", nil)

	New(nil, nil).Publish(SubjectSyncStarted, "sync_started", "", nil)
}

func TestPublisher_Envelope(t *testing.T) {
	js := &recordingJS{}
	p := New(js, nil)

	p.Publish(SubjectSyncCompleted, "sync_completed", "admin-1", map[string]any{"inserted": 3})

	if len(js.subjects) != 1 || js.subjects[0] != SubjectSyncCompleted {
		t.Fatalf("unexpected subjects: %v", js.subjects)
	}
	var ev Event
	if err := json.Unmarshal(js.payloads[0], &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.EventID == "" || ev.EventName != "sync_completed" || ev.Actor != "admin-1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Properties["inserted"] != float64(3) {
		t.Fatalf("expected inserted=3, got %v", ev.Properties["inserted"])
	}
}

func TestPublisher_PublishErrorSwallowed(t *testing.T) {
	p := New(&recordingJS{err: errors.New("no responders")}, nil)
	p.Publish(SubjectSyncFailed, "sync_failed", "", nil)
}
