package rabbitmq

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/israelio/amqp-engine/internal/frame"
	"github.com/israelio/amqp-engine/internal/protocol"
)

// QueueOptions controls how a queue is declared.
type QueueOptions struct {
	Passive   bool
	Durable   bool
	Exclusive bool
	// AutoDelete defaults to true when unset.
	AutoDelete *bool
	// NoDeclare skips queue.declare and uses the queue as it exists.
	NoDeclare bool
	Arguments Table
	// CloseChannelOnUnsubscribe closes the channel when the last consumer
	// is cancelled.
	CloseChannelOnUnsubscribe bool
}

func (o QueueOptions) autoDelete() bool {
	if o.AutoDelete == nil {
		return true
	}
	return *o.AutoDelete
}

// SubscribeOptions controls a consumer.
type SubscribeOptions struct {
	// ConsumerTagPrefix is joined with a random suffix to build the tag.
	ConsumerTagPrefix string
	AutoAck           bool
	Exclusive         bool
	NoLocal           bool
	// PrefetchCount sends basic.qos before consuming when non-zero.
	PrefetchCount uint16
	Arguments     Table
}

const defaultConsumerTagPrefix = "ctag"

type consumerState int

const (
	consumerSubscribing consumerState = iota
	consumerActive
	consumerClosed
)

type consumer struct {
	firstTag string
	tag      string
	opts     SubscribeOptions
	handler  func(*Delivery)
	state    consumerState
	ready    *Future[string]
}

// Queue is a declared queue with its own channel. Consumers subscribed
// through it survive reconnects: they are re-registered under fresh tags once
// the channel reopens.
type Queue struct {
	ch   *channel
	conn *Connection
	opts QueueOptions

	// requested is the name asked for at declare time; empty lets the server
	// pick one on every declare.
	requested string

	mu   sync.RWMutex
	name string

	consumers []*consumer
}

func newQueue(conn *Connection, name string, opts QueueOptions) *Queue {
	q := &Queue{conn: conn, opts: opts, requested: name, name: name}
	q.ch = newChannel(conn, q)
	q.ch.logger = conn.logger.With().Str("queue", name).Logger()
	return q
}

// Name returns the queue name, as assigned by the server for server-named
// queues once declared.
func (q *Queue) Name() string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.name
}

// State returns the state of the queue's channel.
func (q *Queue) State() ChannelState {
	return ChannelState(q.ch.stateView.Load())
}

// Ready resolves once the queue has been declared for the first time.
func (q *Queue) Ready() *Future[struct{}] { return q.ch.ready }

// OnError registers fn to be called when the server closes the queue's
// channel. It runs on the event loop.
func (q *Queue) OnError(fn func(error)) {
	q.conn.exec.post(func() { q.ch.onError = append(q.ch.onError, fn) })
}

func (q *Queue) setName(name string) {
	q.mu.Lock()
	old := q.name
	q.name = name
	q.mu.Unlock()

	if old != name {
		q.ch.logger = q.conn.logger.With().Str("queue", name).Logger()
		q.conn.registry.renameQueue(q, old, name)
	}
}

func (q *Queue) declare() {
	if q.opts.NoDeclare {
		q.declared()
		return
	}

	q.ch.tasks.pushForced(protocol.QueueDeclareOk, func() error {
		return q.ch.send(protocol.QueueDeclare, protocol.Arguments{
			"queue":      protocol.ShortString(q.requested),
			"passive":    protocol.Bit(q.opts.Passive),
			"durable":    protocol.Bit(q.opts.Durable),
			"exclusive":  protocol.Bit(q.opts.Exclusive),
			"autoDelete": protocol.Bit(q.opts.autoDelete()),
			"arguments":  q.opts.Arguments,
		})
	}, func(m *frame.Method) {
		q.setName(m.Args.String("queue"))
		q.declared()
	})
}

// declared opens the channel for user work, then restores bindings and
// consumers lost with the previous incarnation.
func (q *Queue) declared() {
	q.ch.markOpen()

	for _, b := range q.conn.registry.bindingsOf(q.ch) {
		q.pushBind(b, false)
	}

	var lost []*consumer
	for _, c := range q.consumers {
		if c.state == consumerClosed {
			lost = append(lost, c)
		}
	}
	for _, c := range lost {
		q.ch.logger.Info().Str("consumer", c.firstTag).Msg("resubscribing consumer")
		q.subscribe(c)
	}
}

func (q *Queue) handleMethod(m *frame.Method) error {
	switch m.ID {
	case protocol.BasicDeliver:
		return q.ch.startContent(m)
	case protocol.BasicCancel:
		tag := m.Args.String("consumerTag")
		if c := q.consumerByTag(tag); c != nil {
			q.ch.logger.Warn().Str("consumer", tag).Msg("consumer cancelled by server")
			q.removeConsumer(c)
			c.ready.fail(fmt.Errorf("consumer %s cancelled by server: %w", tag, ErrChannelClosed))
		}
		if m.Args.Bool("noWait") {
			return nil
		}
		return q.ch.send(protocol.BasicCancelOk, protocol.Arguments{"consumerTag": protocol.ShortString(tag)})
	default:
		q.ch.logger.Warn().Str("method", m.Name()).Msg("unexpected method on queue channel")
		return nil
	}
}

func (q *Queue) handleContent(msg *inflightMessage) {
	args := msg.method.Args
	tag := args.String("consumerTag")
	c := q.consumerByTag(tag)
	if c == nil {
		q.ch.logger.Warn().Str("consumer", tag).Msg("dropping delivery for unknown consumer")
		return
	}

	q.conn.metrics.MessageDelivered()
	c.handler(&Delivery{
		ConsumerTag: tag,
		DeliveryTag: args.Uint64("deliveryTag"),
		Redelivered: args.Bool("redelivered"),
		Exchange:    args.String("exchange"),
		RoutingKey:  args.String("routingKey"),
		Properties:  msg.properties,
		Body:        msg.body,
		ch:          q.ch,
		epoch:       q.ch.epoch,
	})
}

func (q *Queue) interrupted(error) {
	for _, c := range q.consumers {
		if c.state == consumerActive {
			c.state = consumerClosed
		}
	}
}

func (q *Queue) closed(err error) {
	for _, c := range q.consumers {
		c.state = consumerClosed
		c.ready.fail(err)
	}
	q.consumers = nil
	q.conn.registry.dropOwner(q.ch)
	q.conn.registry.removeQueue(q.Name(), q)
}

func (q *Queue) consumerByTag(tag string) *consumer {
	for _, c := range q.consumers {
		if c.tag == tag || c.firstTag == tag {
			return c
		}
	}
	return nil
}

func (q *Queue) removeConsumer(c *consumer) {
	for i, other := range q.consumers {
		if other == c {
			q.consumers = append(q.consumers[:i:i], q.consumers[i+1:]...)
			return
		}
	}
}

// Subscribe starts a consumer and resolves with its consumer tag once the
// server confirms it. handler runs on the event loop for every delivery and
// must not block.
func (q *Queue) Subscribe(opts SubscribeOptions, handler func(*Delivery)) *Future[string] {
	c := &consumer{opts: opts, handler: handler, ready: newLoopFuture[string](q.conn.exec)}
	posted := q.conn.exec.post(func() {
		if q.ch.removed {
			c.ready.fail(ErrChannelClosed)
			return
		}
		q.consumers = append(q.consumers, c)
		q.subscribe(c)
	})
	if !posted {
		c.ready.fail(ErrClosed)
	}
	return c.ready
}

func (q *Queue) subscribe(c *consumer) {
	prefix := c.opts.ConsumerTagPrefix
	if prefix == "" {
		prefix = defaultConsumerTagPrefix
	}
	tag := prefix + "-" + uuid.NewString()
	if c.firstTag == "" {
		c.firstTag = tag
	}
	c.tag = tag
	c.state = consumerSubscribing

	if c.opts.PrefetchCount > 0 {
		q.ch.tasks.push(protocol.BasicQosOk, func() error {
			return q.ch.send(protocol.BasicQos, protocol.Arguments{
				"prefetchCount": protocol.Short(c.opts.PrefetchCount),
			})
		}, nil)
	}

	q.ch.tasks.push(protocol.BasicConsumeOk, func() error {
		return q.ch.send(protocol.BasicConsume, protocol.Arguments{
			"queue":       protocol.ShortString(q.Name()),
			"consumerTag": protocol.ShortString(tag),
			"noLocal":     protocol.Bit(c.opts.NoLocal),
			"noAck":       protocol.Bit(c.opts.AutoAck),
			"exclusive":   protocol.Bit(c.opts.Exclusive),
			"arguments":   c.opts.Arguments,
		})
	}, func(*frame.Method) {
		c.state = consumerActive
		c.ready.resolve(c.firstTag)
	}).Then(func(_ *frame.Method, err error) {
		if err == nil || c.tag != tag {
			return
		}
		c.state = consumerClosed
		// A dropped connection leaves the consumer to be resubscribed.
		if !errors.Is(err, ErrClosed) {
			q.removeConsumer(c)
			c.ready.fail(err)
		}
	})
}

// ConsumerTags returns the tags currently registered with the server, keyed
// by the tag Subscribe resolved with.
func (q *Queue) ConsumerTags() *Future[map[string]string] {
	f := newFuture[map[string]string]()
	posted := q.conn.exec.post(func() {
		tags := make(map[string]string, len(q.consumers))
		for _, c := range q.consumers {
			tags[c.firstTag] = c.tag
		}
		f.resolve(tags)
	})
	if !posted {
		f.fail(ErrClosed)
	}
	return f
}

// Unsubscribe cancels the consumer registered under tag, which may be either
// the tag Subscribe resolved with or the current one.
func (q *Queue) Unsubscribe(tag string) *Future[struct{}] {
	return done(q.ch.call(func() *Future[*frame.Method] {
		c := q.consumerByTag(tag)
		if c == nil {
			return failedFuture[*frame.Method](fmt.Errorf("unknown consumer tag %q", tag))
		}
		return q.ch.tasks.push(protocol.BasicCancelOk, func() error {
			return q.ch.send(protocol.BasicCancel, protocol.Arguments{
				"consumerTag": protocol.ShortString(c.tag),
			})
		}, func(*frame.Method) {
			q.removeConsumer(c)
			if q.opts.CloseChannelOnUnsubscribe && len(q.consumers) == 0 {
				q.ch.close()
			}
		})
	}))
}

// Bind routes messages published to exchange with routingKey to this queue.
func (q *Queue) Bind(exchange, routingKey string) *Future[struct{}] {
	b := Binding{Source: exchange, RoutingKey: routingKey}
	return done(q.ch.call(func() *Future[*frame.Method] { return q.pushBind(b, true) }))
}

// BindHeaders binds to a headers exchange. x-match defaults to "all".
func (q *Queue) BindHeaders(exchange string, headers Table) *Future[struct{}] {
	b := Binding{Source: exchange, Arguments: headerArguments(headers)}
	return done(q.ch.call(func() *Future[*frame.Method] { return q.pushBind(b, true) }))
}

// Unbind removes a binding made with Bind.
func (q *Queue) Unbind(exchange, routingKey string) *Future[struct{}] {
	b := Binding{Source: exchange, RoutingKey: routingKey}
	return done(q.ch.call(func() *Future[*frame.Method] { return q.pushUnbind(b) }))
}

// UnbindHeaders removes a binding made with BindHeaders.
func (q *Queue) UnbindHeaders(exchange string, headers Table) *Future[struct{}] {
	b := Binding{Source: exchange, Arguments: headerArguments(headers)}
	return done(q.ch.call(func() *Future[*frame.Method] { return q.pushUnbind(b) }))
}

func (q *Queue) pushBind(b Binding, record bool) *Future[*frame.Method] {
	return q.ch.tasks.push(protocol.QueueBindOk, func() error {
		return q.ch.send(protocol.QueueBind, protocol.Arguments{
			"queue":      protocol.ShortString(q.Name()),
			"exchange":   protocol.ShortString(b.Source),
			"routingKey": protocol.ShortString(b.RoutingKey),
			"arguments":  b.Arguments,
		})
	}, func(*frame.Method) {
		if record {
			b.Destination = q.Name()
			q.conn.registry.recordBinding(q.ch, b)
		}
	})
}

func (q *Queue) pushUnbind(b Binding) *Future[*frame.Method] {
	return q.ch.tasks.push(protocol.QueueUnbindOk, func() error {
		return q.ch.send(protocol.QueueUnbind, protocol.Arguments{
			"queue":      protocol.ShortString(q.Name()),
			"exchange":   protocol.ShortString(b.Source),
			"routingKey": protocol.ShortString(b.RoutingKey),
			"arguments":  b.Arguments,
		})
	}, func(*frame.Method) {
		q.conn.registry.forgetBinding(q.ch, b)
	})
}

// Purge removes all ready messages and resolves with how many were removed.
func (q *Queue) Purge() *Future[uint32] {
	return messageCount(q.ch.call(func() *Future[*frame.Method] {
		return q.ch.tasks.push(protocol.QueuePurgeOk, func() error {
			return q.ch.send(protocol.QueuePurge, protocol.Arguments{
				"queue": protocol.ShortString(q.Name()),
			})
		}, nil)
	}))
}

// Destroy deletes the queue and closes its channel. It resolves with the
// number of messages deleted.
func (q *Queue) Destroy(ifUnused, ifEmpty bool) *Future[uint32] {
	return messageCount(q.ch.call(func() *Future[*frame.Method] {
		return q.ch.tasks.push(protocol.QueueDeleteOk, func() error {
			return q.ch.send(protocol.QueueDelete, protocol.Arguments{
				"queue":    protocol.ShortString(q.Name()),
				"ifUnused": protocol.Bit(ifUnused),
				"ifEmpty":  protocol.Bit(ifEmpty),
			})
		}, func(*frame.Method) {
			q.ch.close()
		})
	}))
}

// Close closes the queue's channel without deleting the queue.
func (q *Queue) Close() *Future[struct{}] {
	return closeChannel(q.ch)
}

// headerArguments copies headers and fills in x-match.
func headerArguments(headers Table) Table {
	args := headers.Clone()
	if _, ok := args.Get("x-match"); !ok {
		args.Set("x-match", protocol.String("all"))
	}
	return args
}

func done(f *Future[*frame.Method]) *Future[struct{}] {
	return mapFuture(f, func(*frame.Method) struct{} { return struct{}{} })
}

func messageCount(f *Future[*frame.Method]) *Future[uint32] {
	return mapFuture(f, func(m *frame.Method) uint32 { return m.Args.Uint32("messageCount") })
}

func closeChannel(ch *channel) *Future[struct{}] {
	f := newFuture[struct{}]()
	posted := ch.conn.exec.post(func() {
		ch.close().Then(func(_ struct{}, err error) {
			if err != nil {
				f.fail(err)
				return
			}
			f.resolve(struct{}{})
		})
	})
	if !posted {
		f.resolve(struct{}{})
	}
	return f
}
