package rabbitmq

import (
	"sort"
)

// Confirmation represents a publish confirmation (ack or nack)
type Confirmation struct {
	DeliveryTag uint64
	Multiple    bool
	Ack         bool // true for ack, false for nack
}

// ConfirmListener provides a callback-based confirm interface
type ConfirmListener interface {
	HandleAck(deliveryTag uint64, multiple bool)
	HandleNack(deliveryTag uint64, multiple bool)
}

// confirmTracker maps publish sequence numbers to the futures waiting for
// the broker's ack. Only the event loop touches it.
type confirmTracker struct {
	active    bool
	seq       uint64
	pending   map[uint64]*Future[struct{}]
	listeners []ConfirmListener
}

func newConfirmTracker() *confirmTracker {
	return &confirmTracker{pending: make(map[uint64]*Future[struct{}])}
}

// activate starts numbering at 1, after confirm.select-ok.
func (t *confirmTracker) activate() {
	t.active = true
	t.seq = 1
}

// track stores f under the current sequence number and advances it.
func (t *confirmTracker) track(f *Future[struct{}]) uint64 {
	seq := t.seq
	t.pending[seq] = f
	t.seq++
	return seq
}

// ack resolves the entries covered by tag. With multiple set, every entry up
// to tag is resolved; tag 0 with multiple covers everything outstanding.
func (t *confirmTracker) ack(tag uint64, multiple bool) int {
	n := 0
	for _, seq := range t.covered(tag, multiple) {
		f := t.pending[seq]
		delete(t.pending, seq)
		f.resolve(struct{}{})
		n++
	}
	for _, l := range t.listeners {
		l.HandleAck(tag, multiple)
	}
	return n
}

// nack fails the covered entries with a ConfirmError.
func (t *confirmTracker) nack(tag uint64, multiple bool) int {
	n := 0
	for _, seq := range t.covered(tag, multiple) {
		f := t.pending[seq]
		delete(t.pending, seq)
		f.fail(&ConfirmError{Sequence: seq})
		n++
	}
	for _, l := range t.listeners {
		l.HandleNack(tag, multiple)
	}
	return n
}

// failAll fails every outstanding entry and stops tracking. No future is left
// unresolved.
func (t *confirmTracker) failAll(err error) {
	seqs := t.covered(0, true)
	for _, seq := range seqs {
		f := t.pending[seq]
		delete(t.pending, seq)
		f.fail(&ConfirmError{Sequence: seq, Cause: err})
	}
	t.active = false
}

func (t *confirmTracker) outstanding() int { return len(t.pending) }

// covered returns the pending sequence numbers matched by tag in ascending
// order.
func (t *confirmTracker) covered(tag uint64, multiple bool) []uint64 {
	if !multiple {
		if _, ok := t.pending[tag]; ok {
			return []uint64{tag}
		}
		return nil
	}

	seqs := make([]uint64, 0, len(t.pending))
	for seq := range t.pending {
		if tag == 0 || seq <= tag {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}
