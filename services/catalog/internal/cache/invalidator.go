package cache

import (
	"context"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Purger removes cached entries by key prefix.
type Purger interface {
	Purge(ctx context.Context, prefix string) (int, error)
}

// Subscriber is the subset of *nats.Conn the invalidator needs.
type Subscriber interface {
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Invalidator drops cached catalog reads whenever a movie changes. Updates
// reach it through the outbox, so the cache is at most one outbox poll behind.
type Invalidator struct {
	Cache   Purger
	Subject string
	Prefix  string
	Log     *zap.Logger
}

// Subscribe registers the handler. The caller owns the returned subscription.
func (i *Invalidator) Subscribe(nc Subscriber) (*nats.Subscription, error) {
	return nc.Subscribe(i.Subject, i.Handle)
}

func (i *Invalidator) Handle(msg *nats.Msg) {
	n, err := i.Cache.Purge(context.Background(), i.Prefix)
	if err != nil {
		i.Log.Warn("cache purge failed", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	if n > 0 {
		i.Log.Debug("cache purged", zap.String("prefix", i.Prefix), zap.Int("keys", n))
	}
}
