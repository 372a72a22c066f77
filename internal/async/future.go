// Package async provides a single-resolution promise/future pair.
//
// A Promise is resolved at most once; later resolutions report false and are
// otherwise ignored, which lets competing completion paths (reply, timeout,
// cancellation) race safely.
package async

import (
	"context"
	"sync"
)

// Promise is the write side of a Future.
type Promise[T any] struct {
	once   sync.Once     // once guards the single resolution
	done   chan struct{} // done is closed on resolution
	value  T             // value is set before done is closed
	err    error         // err is set before done is closed
	future *Future[T]    // future is the read side
}

// Future is the read side of an asynchronous result.
type Future[T any] struct {
	p *Promise[T]
}

// NewPromise creates an unresolved promise.
func NewPromise[T any]() *Promise[T] {
	p := &Promise[T]{done: make(chan struct{})}
	p.future = &Future[T]{p: p}

	return p
}

// Resolved returns a future already resolved with v.
func Resolved[T any](v T) *Future[T] {
	p := NewPromise[T]()
	p.Resolve(v)

	return p.Future()
}

// Failed returns a future already failed with err.
func Failed[T any](err error) *Future[T] {
	p := NewPromise[T]()
	p.Reject(err)

	return p.Future()
}

// Future returns the read side of the promise.
func (p *Promise[T]) Future() *Future[T] {
	return p.future
}

// Resolve sets the value. Returns false if already resolved.
func (p *Promise[T]) Resolve(v T) bool {
	return p.settle(v, nil)
}

// Reject sets the error. Returns false if already resolved.
func (p *Promise[T]) Reject(err error) bool {
	var zero T
	return p.settle(zero, err)
}

// Settle resolves with v when err is nil, otherwise rejects with err.
func (p *Promise[T]) Settle(v T, err error) bool {
	if err != nil {
		var zero T
		return p.settle(zero, err)
	}

	return p.settle(v, nil)
}

// settle performs the single resolution.
func (p *Promise[T]) settle(v T, err error) bool {
	won := false

	p.once.Do(func() {
		p.value = v
		p.err = err
		won = true
		close(p.done)
	})

	return won
}

// Done returns a channel closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.p.done
}

// Ready reports whether the result is available without blocking.
func (f *Future[T]) Ready() bool {
	select {
	case <-f.p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the result is available or ctx ends.
// A context error is returned without resolving the future.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.p.done:
		return f.p.value, f.p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Get blocks until the result is available.
func (f *Future[T]) Get() (T, error) {
	<-f.p.done
	return f.p.value, f.p.err
}

// Then returns a future resolved with fn applied to this future's result.
// fn runs on its own goroutine once the result is available.
func Then[T, U any](f *Future[T], fn func(T, error) (U, error)) *Future[U] {
	p := NewPromise[U]()

	go func() {
		v, err := f.Get()
		p.Settle(fn(v, err))
	}()

	return p.Future()
}
