package rabbitmq

import (
	"github.com/israelio/amqp-engine/internal/frame"
	"github.com/israelio/amqp-engine/internal/protocol"
)

// task is one outbound operation on a channel. Tasks with a reply stay queued
// after their action runs until the matching method arrives.
type task struct {
	reply   protocol.MethodID // 0 when nothing is expected back
	action  func() error
	onReply func(*frame.Method)
	force   bool
	sent    bool
	future  *Future[*frame.Method]
}

// taskQueue serializes a channel's operations and correlates synchronous
// replies with the requests that caused them. It is only touched from the
// event loop.
type taskQueue struct {
	tasks    []*task
	isOpen   func() bool
	flushing bool
	again    bool
}

func newTaskQueue(isOpen func() bool) *taskQueue {
	return &taskQueue{isOpen: isOpen}
}

// push queues an action and flushes.
func (q *taskQueue) push(reply protocol.MethodID, action func() error, onReply func(*frame.Method)) *Future[*frame.Method] {
	return q.add(&task{reply: reply, action: action, onReply: onReply})
}

// pushForced queues a control task that may run before the channel is open.
func (q *taskQueue) pushForced(reply protocol.MethodID, action func() error, onReply func(*frame.Method)) *Future[*frame.Method] {
	return q.add(&task{reply: reply, action: action, onReply: onReply, force: true})
}

func (q *taskQueue) add(t *task) *Future[*frame.Method] {
	t.future = newFuture[*frame.Method]()
	q.tasks = append(q.tasks, t)
	q.flush(q.isOpen())
	return t.future
}

// flush runs unsent tasks in FIFO order. While the channel is not open only
// forced tasks run. A flush requested from inside a running flush (a future
// callback pushing more work) is folded into the outer one.
func (q *taskQueue) flush(open bool) {
	if q.flushing {
		q.again = true
		return
	}
	q.flushing = true
	defer func() { q.flushing = false }()

	for {
		q.again = false
		q.flushOnce(open)
		if !q.again {
			return
		}
		open = q.isOpen()
	}
}

func (q *taskQueue) flushOnce(open bool) {
	for i := 0; i < len(q.tasks); {
		t := q.tasks[i]
		if t.sent || (!open && !t.force) {
			i++
			continue
		}

		t.sent = true
		if err := t.action(); err != nil {
			q.removeAt(i)
			t.future.fail(err)
			continue
		}
		if t.reply == 0 {
			q.removeAt(i)
			t.future.resolve(nil)
			continue
		}
		i++
	}
}

// handleReply resolves the oldest sent task waiting for id. It reports false
// when no task expects the method.
func (q *taskQueue) handleReply(id protocol.MethodID, m *frame.Method) bool {
	for i, t := range q.tasks {
		if !t.sent || t.reply != id {
			continue
		}
		q.removeAt(i)
		if t.onReply != nil {
			t.onReply(m)
		}
		t.future.resolve(m)
		q.flush(q.isOpen())
		return true
	}
	return false
}

// failSent fails tasks already written and waiting for a reply that will not
// come. Unsent tasks stay queued for the next incarnation of the channel.
func (q *taskQueue) failSent(err error) {
	var failed []*task
	kept := q.tasks[:0]
	for _, t := range q.tasks {
		if t.sent {
			failed = append(failed, t)
		} else {
			kept = append(kept, t)
		}
	}
	clearTail(q.tasks, len(kept))
	q.tasks = kept

	for _, t := range failed {
		t.future.fail(err)
	}
}

// failAll fails every queued task.
func (q *taskQueue) failAll(err error) {
	tasks := q.tasks
	q.tasks = nil
	for _, t := range tasks {
		t.future.fail(err)
	}
}

// dropForced discards unsent control tasks left over from a previous
// incarnation of the channel. They are re-issued by the open sequence.
func (q *taskQueue) dropForced() {
	kept := q.tasks[:0]
	for _, t := range q.tasks {
		if !t.force {
			kept = append(kept, t)
		}
	}
	clearTail(q.tasks, len(kept))
	q.tasks = kept
}

func (q *taskQueue) len() int { return len(q.tasks) }

func (q *taskQueue) removeAt(i int) {
	copy(q.tasks[i:], q.tasks[i+1:])
	q.tasks[len(q.tasks)-1] = nil
	q.tasks = q.tasks[:len(q.tasks)-1]
}

func clearTail(tasks []*task, from int) {
	for i := from; i < len(tasks); i++ {
		tasks[i] = nil
	}
}
