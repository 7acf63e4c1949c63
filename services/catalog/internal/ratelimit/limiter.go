// Package ratelimit paces outbound TMDB requests.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter releases at most one caller per interval. A nil Limiter never blocks.
type Limiter struct {
	t        *time.Ticker
	interval time.Duration
	once     sync.Once
}

// NewRPS allows up to rps requests per second. rps <= 0 means unlimited.
func NewRPS(rps int) *Limiter {
	if rps <= 0 {
		return nil
	}
	return Every(time.Second / time.Duration(rps))
}

// Every releases one caller per interval.
func Every(interval time.Duration) *Limiter {
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &Limiter{t: time.NewTicker(interval), interval: interval}
}

func (l *Limiter) Interval() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}

func (l *Limiter) Stop() {
	if l == nil || l.t == nil {
		return
	}
	l.once.Do(l.t.Stop)
}

// Wait blocks until the next slot or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.t == nil {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.t.C:
		return nil
	}
}
