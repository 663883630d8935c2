package grpcweb

import (
	"context"
	"sync"
)

// onceValue is a one-shot, multi-waiter promise: resolve may be called
// exactly once (later calls are no-ops), and any number of goroutines may
// await the value, cancellation-aware via ctx. It backs the request body's
// write-ready signaling for client-stream/duplex calls.
type onceValue[T any] struct {
	ch   chan struct{}
	once sync.Once
	val  T
}

func newOnceValue[T any]() *onceValue[T] {
	return &onceValue[T]{ch: make(chan struct{})}
}

func (o *onceValue[T]) resolve(v T) {
	o.once.Do(func() {
		o.val = v
		close(o.ch)
	})
}

func (o *onceValue[T]) wait(ctx context.Context) (T, error) {
	select {
	case <-o.ch:
		return o.val, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (o *onceValue[T]) isResolved() bool {
	select {
	case <-o.ch:
		return true
	default:
		return false
	}
}
