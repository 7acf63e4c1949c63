// Package outbox drains catalog_outbox rows into the CATALOG_EVENTS stream.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/movie-catalog/internal/platform/natsconn"
	"github.com/example/movie-catalog/services/catalog/internal/config"
	"github.com/example/movie-catalog/services/catalog/internal/metrics"
)

const (
	StreamName     = "CATALOG_EVENTS"
	StreamSubjects = "catalog.>"
)

// JetStream is the subset of nats.JetStreamContext the Publisher uses.
type JetStream interface {
	natsconn.StreamManager
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

type Publisher struct {
	Log          *zap.Logger
	DB           *pgxpool.Pool
	JS           JetStream
	BatchSize    int
	PollInterval time.Duration
}

type outboxRow struct {
	ID        string
	EventType string
	Payload   json.RawMessage
}

func NewPublisher(log *zap.Logger, db *pgxpool.Pool, js JetStream, cfg config.OutboxConfig) *Publisher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Publisher{
		Log:          log,
		DB:           db,
		JS:           js,
		BatchSize:    cfg.BatchSize,
		PollInterval: cfg.PollInterval,
	}
}

func (p *Publisher) EnsureStream() error {
	return natsconn.EnsureStream(p.JS, nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{StreamSubjects},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	})
}

// Run polls the outbox until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	if err := p.EnsureStream(); err != nil {
		return fmt.Errorf("ensure stream %s: %w", StreamName, err)
	}

	ticker := time.NewTicker(p.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.flushOnce(ctx); err != nil {
				p.Log.Warn("outbox flush failed", zap.Error(err))
			}
		}
	}
}

func (p *Publisher) flushOnce(ctx context.Context) error {
	tx, err := p.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT id::text, event_type, payload
FROM catalog_outbox
WHERE published_at IS NULL
ORDER BY created_at
LIMIT $1
FOR UPDATE SKIP LOCKED
`, p.BatchSize)
	if err != nil {
		return err
	}

	items := make([]outboxRow, 0, p.BatchSize)
	for rows.Next() {
		var item outboxRow
		if err := rows.Scan(&item.ID, &item.EventType, &item.Payload); err != nil {
			rows.Close()
			return err
		}
		items = append(items, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	ids, pubErr := p.publish(items)
	if len(ids) > 0 {
		if _, err := tx.Exec(ctx, `UPDATE catalog_outbox SET published_at = now() WHERE id::text = ANY($1)`, ids); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}
	return pubErr
}

// publish sends items in order and returns the ids that were acknowledged.
// It stops at the first failure so later rows keep their order on retry.
// The row id doubles as the JetStream message id, so a row published twice
// after a failed commit is deduplicated by the server.
func (p *Publisher) publish(items []outboxRow) ([]string, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, err := p.JS.Publish(item.EventType, item.Payload, nats.MsgId(item.ID)); err != nil {
			return ids, fmt.Errorf("publish %s: %w", item.ID, err)
		}
		ids = append(ids, item.ID)
		metrics.OutboxPublishedTotal.Inc()
	}
	return ids, nil
}
