package rabbitmq

import (
	"sync"
	"time"
)

// executor runs closures one at a time. Everything that touches connection,
// channel, task and confirm state is posted to it.
type executor interface {
	// post queues fn. It reports false once the executor has stopped, in
	// which case fn will never run.
	post(fn func()) bool
	stop()
}

// eventLoop is an executor backed by a single goroutine and an unbounded
// queue, so posting never blocks the reader or a timer.
type eventLoop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

func newEventLoop() *eventLoop {
	l := &eventLoop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *eventLoop) post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// stop refuses further posts. Closures already queued still run.
func (l *eventLoop) stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *eventLoop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		stopped := l.stopped
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}
		if stopped {
			return
		}
		<-l.wake
	}
}

// timer is a cancellable scheduled callback.
type timer interface {
	Stop()
}

// scheduler arms timers whose callbacks run on the event loop.
type scheduler interface {
	AfterFunc(d time.Duration, fn func()) timer
}

type loopScheduler struct {
	exec executor
}

// loopTimer carries a stopped flag checked on the loop, so a fire already
// queued when Stop is called is ignored.
type loopTimer struct {
	t       *time.Timer
	stopped bool
}

func (s loopScheduler) AfterFunc(d time.Duration, fn func()) timer {
	lt := &loopTimer{}
	lt.t = time.AfterFunc(d, func() {
		s.exec.post(func() {
			if !lt.stopped {
				lt.stopped = true
				fn()
			}
		})
	})
	return lt
}

func (t *loopTimer) Stop() {
	t.stopped = true
	t.t.Stop()
}
