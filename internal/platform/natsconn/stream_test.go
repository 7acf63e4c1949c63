package natsconn

import (
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
)

type fakeStreams struct {
	existing *nats.StreamConfig
	infoErr  error
	added    *nats.StreamConfig
	updated  *nats.StreamConfig
}

func (f *fakeStreams) StreamInfo(string, ...nats.JSOpt) (*nats.StreamInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	if f.existing == nil {
		return nil, nats.ErrStreamNotFound
	}
	return &nats.StreamInfo{Config: *f.existing}, nil
}

func (f *fakeStreams) AddStream(cfg *nats.StreamConfig, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	f.added = cfg
	return &nats.StreamInfo{Config: *cfg}, nil
}

func (f *fakeStreams) UpdateStream(cfg *nats.StreamConfig, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	f.updated = cfg
	return &nats.StreamInfo{Config: *cfg}, nil
}

func TestEnsureStream_Creates(t *testing.T) {
	js := &fakeStreams{}
	if err := EnsureStream(js, nats.StreamConfig{Name: "CATALOG_JOBS", Subjects: []string{"jobs.catalog.>"}}); err != nil {
		t.Fatal(err)
	}
	if js.added == nil || js.added.Name != "CATALOG_JOBS" {
		t.Fatalf("stream not created: %+v", js.added)
	}
}

func TestEnsureStream_UpdatesSubjects(t *testing.T) {
	js := &fakeStreams{existing: &nats.StreamConfig{Name: "CATALOG_EVENTS", Subjects: []string{"catalog.movie.*"}, MaxAge: 42}}
	if err := EnsureStream(js, nats.StreamConfig{Name: "CATALOG_EVENTS", Subjects: []string{"catalog.>"}}); err != nil {
		t.Fatal(err)
	}
	if js.updated == nil || js.updated.Subjects[0] != "catalog.>" || js.updated.MaxAge != 42 {
		t.Fatalf("unexpected update: %+v", js.updated)
	}
	if js.added != nil {
		t.Fatal("existing stream must not be re-added")
	}
}

func TestEnsureStream_NoopWhenCurrent(t *testing.T) {
	js := &fakeStreams{existing: &nats.StreamConfig{Name: "CATALOG_EVENTS", Subjects: []string{"catalog.>"}}}
	if err := EnsureStream(js, nats.StreamConfig{Name: "CATALOG_EVENTS", Subjects: []string{"catalog.>"}}); err != nil {
		t.Fatal(err)
	}
	if js.updated != nil || js.added != nil {
		t.Fatal("expected no changes")
	}
}

func TestEnsureStream_PropagatesErrors(t *testing.T) {
	boom := errors.New("jetstream not enabled")
	js := &fakeStreams{infoErr: boom}
	if err := EnsureStream(js, nats.StreamConfig{Name: "X"}); !errors.Is(err, boom) {
		t.Fatalf("want %v, got %v", boom, err)
	}
}
