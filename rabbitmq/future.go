package rabbitmq

import (
	"context"
	"sync"
	"time"
)

// Outcome is the final state of a Future.
type Outcome int32

const (
	Pending Outcome = iota
	Succeeded
	Failed
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}

// Future is the result of an asynchronous operation. It resolves exactly once;
// later resolutions are ignored.
//
// Callbacks registered with Then run on the goroutine that resolves the
// future, which for engine operations is the connection's event loop. A
// callback must not block on another future of the same connection.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	outcome   Outcome
	value     T
	err       error
	callbacks []func(T, error)

	// exec owns the future when it carries engine callbacks. Timeouts are
	// then completed on it instead of on the waiting goroutine.
	exec executor
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// newLoopFuture returns a future whose completion always happens on exec.
func newLoopFuture[T any](exec executor) *Future[T] {
	f := newFuture[T]()
	f.exec = exec
	return f
}

// failedFuture returns a future that has already failed with err.
func failedFuture[T any](err error) *Future[T] {
	f := newFuture[T]()
	f.fail(err)
	return f
}

func (f *Future[T]) resolve(v T) bool {
	return f.complete(Succeeded, v, nil)
}

func (f *Future[T]) fail(err error) bool {
	var zero T
	return f.complete(Failed, zero, err)
}

func (f *Future[T]) complete(o Outcome, v T, err error) bool {
	f.mu.Lock()
	if f.outcome != Pending {
		f.mu.Unlock()
		return false
	}
	f.outcome, f.value, f.err = o, v, err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(v, err)
	}
	return true
}

// Done is closed once the future resolves.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Outcome returns the current state.
func (f *Future[T]) Outcome() Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcome
}

// Result returns the value and error without waiting. Both are zero while the
// future is pending.
func (f *Future[T]) Result() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Wait blocks until the future resolves or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// WaitTimeout blocks for at most d. If the future is still pending it is
// resolved as TimedOut with ErrTimeout. A future owned by a connection is
// timed out on its event loop, so its callbacks never run on the caller's
// goroutine.
func (f *Future[T]) WaitTimeout(d time.Duration) (T, error) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-f.done:
	case <-t.C:
		var zero T
		timeout := func() { f.complete(TimedOut, zero, ErrTimeout) }
		if f.exec == nil || !f.exec.post(timeout) {
			timeout()
		}
		<-f.done
	}
	return f.Result()
}

// Then registers cb to run on resolution. If the future has already resolved
// cb runs immediately on the caller's goroutine.
func (f *Future[T]) Then(cb func(T, error)) {
	f.mu.Lock()
	if f.outcome == Pending {
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
		return
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	cb(v, err)
}

// mapFuture derives a future whose value is computed from src's value.
func mapFuture[S, T any](src *Future[S], fn func(S) T) *Future[T] {
	dst := newFuture[T]()
	src.Then(func(v S, err error) {
		if err != nil {
			dst.fail(err)
			return
		}
		dst.resolve(fn(v))
	})
	return dst
}
