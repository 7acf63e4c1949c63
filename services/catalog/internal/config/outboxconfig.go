package config

import "time"

// OutboxConfig controls how often catalog_outbox is drained and how many rows per pass.
type OutboxConfig struct {
	BatchSize    int
	PollInterval time.Duration
}

func LoadOutbox() OutboxConfig {
	batch := envInt("OUTBOX_BATCH_SIZE", 100)
	if batch == 0 {
		batch = 100
	}
	poll := envDuration("OUTBOX_POLL_INTERVAL", 2*time.Second)
	if poll == 0 {
		poll = 2 * time.Second
	}
	return OutboxConfig{BatchSize: batch, PollInterval: poll}
}
