package natsconn

import (
	"errors"
	"slices"

	"github.com/nats-io/nats.go"
)

// StreamManager is the subset of nats.JetStreamContext EnsureStream needs.
type StreamManager interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// EnsureStream creates the stream described by cfg, or widens the subjects of
// an existing stream with the same name. Other settings of an existing stream
// are left alone.
func EnsureStream(js StreamManager, cfg nats.StreamConfig) error {
	info, err := js.StreamInfo(cfg.Name)
	if err == nil {
		missing := false
		for _, s := range cfg.Subjects {
			if !slices.Contains(info.Config.Subjects, s) {
				missing = true
				break
			}
		}
		if !missing {
			return nil
		}
		updated := info.Config
		updated.Subjects = cfg.Subjects
		_, err = js.UpdateStream(&updated)
		return err
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = js.AddStream(&cfg)
	return err
}
