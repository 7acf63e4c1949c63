package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNilLimiterDoesNotBlock(t *testing.T) {
	var l *Limiter
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("nil limiter: %v", err)
	}
	l.Stop()
	if NewRPS(0) != nil {
		t.Fatal("rps 0 should be unlimited")
	}
}

func TestNewRPSInterval(t *testing.T) {
	l := NewRPS(4)
	defer l.Stop()
	if l.Interval() != 250*time.Millisecond {
		t.Fatalf("interval = %s", l.Interval())
	}
}

func TestWaitPaces(t *testing.T) {
	l := Every(20 * time.Millisecond)
	defer l.Stop()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("three waits took only %s", elapsed)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	l := Every(time.Hour)
	defer l.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStopTwice(t *testing.T) {
	l := Every(time.Millisecond)
	l.Stop()
	l.Stop()
}
