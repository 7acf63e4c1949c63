package syncrun

import (
	"context"
	"sync"
)

// Executor runs a claimed sync run outside the caller's request.
type Executor interface {
	Go(fn func())
}

// GoExecutor runs each job on its own goroutine and can wait for all of them.
type GoExecutor struct {
	wg sync.WaitGroup
}

func (e *GoExecutor) Go(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

func (e *GoExecutor) Wait() {
	e.wg.Wait()
}

// InlineExecutor runs jobs synchronously. Tests use it to make runs deterministic.
type InlineExecutor struct{}

func (InlineExecutor) Go(fn func()) { fn() }

type waiter interface {
	Wait()
}

// waitContext waits for exec's in-flight jobs, giving up when ctx ends.
func waitContext(ctx context.Context, exec Executor) error {
	w, ok := exec.(waiter)
	if !ok {
		return nil
	}
	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
