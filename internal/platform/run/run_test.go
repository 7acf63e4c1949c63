package run

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWithSignals_ExitCodes(t *testing.T) {
	r := New(zap.NewNop())

	if code := r.WithSignals(func(context.Context) error { return nil }); code != 0 {
		t.Fatalf("nil error: expected 0, got %d", code)
	}
	if code := r.WithSignals(func(context.Context) error { return http.ErrServerClosed }); code != 0 {
		t.Fatalf("server closed: expected 0, got %d", code)
	}
	if code := r.WithSignals(func(context.Context) error { return errors.New("boom") }); code != 1 {
		t.Fatalf("failure: expected 1, got %d", code)
	}
}

func TestGraceful_RunsAllStepsInOrder(t *testing.T) {
	r := New(zap.NewNop())
	r.ShutdownTimeout = time.Second

	var order []int
	r.Graceful(
		func(context.Context) error { order = append(order, 1); return errors.New("first failed") },
		func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				t.Error("expected deadline on shutdown context")
			}
			order = append(order, 2)
			return nil
		},
	)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("unexpected order: %v", order)
	}
}
