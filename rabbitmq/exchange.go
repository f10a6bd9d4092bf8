package rabbitmq

import (
	"encoding/json"
	"strings"

	"github.com/israelio/amqp-engine/internal/frame"
	"github.com/israelio/amqp-engine/internal/protocol"
)

// Exchange types
const (
	ExchangeDirect  = "direct"
	ExchangeFanout  = "fanout"
	ExchangeTopic   = "topic"
	ExchangeHeaders = "headers"
)

// ExchangeOptions controls how an exchange is declared.
type ExchangeOptions struct {
	// Type defaults to topic.
	Type    string
	Passive bool
	Durable bool
	// AutoDelete defaults to the opposite of Durable when unset.
	AutoDelete *bool
	Internal   bool
	// NoDeclare skips exchange.declare. Predefined exchanges (the default
	// exchange and amq.*) are never declared.
	NoDeclare bool
	// Confirm puts the channel in publisher confirm mode.
	Confirm   bool
	Arguments Table
}

func (o ExchangeOptions) kind() string {
	if o.Type == "" {
		return ExchangeTopic
	}
	return o.Type
}

func (o ExchangeOptions) autoDelete() bool {
	if o.AutoDelete == nil {
		return !o.Durable
	}
	return *o.AutoDelete
}

// PublishOptions carries the content properties and delivery flags of a
// publish.
type PublishOptions struct {
	Properties
	Mandatory bool
	Immediate bool
}

func predefinedExchange(name string) bool {
	return name == "" || strings.HasPrefix(name, "amq.")
}

// Exchange is a declared exchange with its own channel.
type Exchange struct {
	ch   *channel
	conn *Connection
	name string
	opts ExchangeOptions

	confirms        *confirmTracker
	returnListeners []ReturnListener
}

func newExchange(conn *Connection, name string, opts ExchangeOptions) *Exchange {
	ex := &Exchange{conn: conn, name: name, opts: opts, confirms: newConfirmTracker()}
	ex.ch = newChannel(conn, ex)
	ex.ch.logger = conn.logger.With().Str("exchange", name).Logger()
	return ex
}

// Name returns the exchange name.
func (ex *Exchange) Name() string { return ex.name }

// State returns the state of the exchange's channel.
func (ex *Exchange) State() ChannelState {
	return ChannelState(ex.ch.stateView.Load())
}

// Ready resolves once the exchange is usable for the first time.
func (ex *Exchange) Ready() *Future[struct{}] { return ex.ch.ready }

// OnError registers fn to be called when the server closes the exchange's
// channel.
func (ex *Exchange) OnError(fn func(error)) {
	ex.conn.exec.post(func() { ex.ch.onError = append(ex.ch.onError, fn) })
}

// AddReturnListener registers a listener for unroutable mandatory publishes.
func (ex *Exchange) AddReturnListener(l ReturnListener) {
	ex.conn.exec.post(func() { ex.returnListeners = append(ex.returnListeners, l) })
}

// OnReturn registers fn for unroutable mandatory publishes.
func (ex *Exchange) OnReturn(fn func(Return)) {
	ex.AddReturnListener(ReturnListenerFunc(fn))
}

// AddConfirmListener registers a listener for every ack and nack received
// in confirm mode.
func (ex *Exchange) AddConfirmListener(l ConfirmListener) {
	ex.conn.exec.post(func() { ex.confirms.listeners = append(ex.confirms.listeners, l) })
}

func (ex *Exchange) declare() {
	if ex.opts.NoDeclare || predefinedExchange(ex.name) {
		ex.declared()
		return
	}

	ex.ch.tasks.pushForced(protocol.ExchangeDeclareOk, func() error {
		return ex.ch.send(protocol.ExchangeDeclare, protocol.Arguments{
			"exchange":   protocol.ShortString(ex.name),
			"type":       protocol.ShortString(ex.opts.kind()),
			"passive":    protocol.Bit(ex.opts.Passive),
			"durable":    protocol.Bit(ex.opts.Durable),
			"autoDelete": protocol.Bit(ex.opts.autoDelete()),
			"internal":   protocol.Bit(ex.opts.Internal),
			"arguments":  ex.opts.Arguments,
		})
	}, func(*frame.Method) {
		ex.declared()
	})
}

func (ex *Exchange) declared() {
	if !ex.opts.Confirm {
		ex.opened()
		return
	}

	ex.ch.tasks.pushForced(protocol.ConfirmSelectOk, func() error {
		return ex.ch.send(protocol.ConfirmSelect, nil)
	}, func(*frame.Method) {
		ex.confirms.activate()
		ex.opened()
	})
}

func (ex *Exchange) opened() {
	ex.ch.markOpen()
	for _, b := range ex.conn.registry.bindingsOf(ex.ch) {
		ex.pushBind(b, false)
	}
}

func (ex *Exchange) handleMethod(m *frame.Method) error {
	switch m.ID {
	case protocol.BasicAck:
		ex.conn.metrics.ConfirmReceived(true)
		ex.confirms.ack(m.Args.Uint64("deliveryTag"), m.Args.Bool("multiple"))
		return nil
	case protocol.BasicNack:
		ex.conn.metrics.ConfirmReceived(false)
		ex.confirms.nack(m.Args.Uint64("deliveryTag"), m.Args.Bool("multiple"))
		return nil
	case protocol.BasicReturn:
		return ex.ch.startContent(m)
	default:
		ex.ch.logger.Warn().Str("method", m.Name()).Msg("unexpected method on exchange channel")
		return nil
	}
}

func (ex *Exchange) handleContent(msg *inflightMessage) {
	if msg.method.ID != protocol.BasicReturn {
		ex.ch.logger.Warn().Str("method", msg.method.Name()).Msg("dropping unexpected content")
		return
	}

	ret := returnFrom(msg)
	ex.conn.metrics.MessageReturned()
	ex.ch.logger.Debug().
		Uint16("code", ret.ReplyCode).
		Str("routing_key", ret.RoutingKey).
		Msg("message returned")
	for _, l := range ex.returnListeners {
		l.HandleReturn(ret)
	}
}

func (ex *Exchange) interrupted(err error) {
	ex.confirms.failAll(err)
}

func (ex *Exchange) closed(err error) {
	ex.confirms.failAll(err)
	ex.conn.registry.dropOwner(ex.ch)
	ex.conn.registry.removeExchange(ex.name, ex)
}

// Publish sends a message. Without confirm mode the future resolves once the
// frames are written; in confirm mode it resolves on the broker's ack and
// fails with a ConfirmError on nack or when the channel drops first. body
// must not be modified until the future resolves.
func (ex *Exchange) Publish(routingKey string, body []byte, opts PublishOptions) *Future[struct{}] {
	f := newFuture[struct{}]()
	if !ex.conn.exec.post(func() { ex.publish(routingKey, body, opts, f) }) {
		f.fail(ErrClosed)
	}
	return f
}

// PublishJSON marshals v and publishes it with content type
// application/json unless another one is set.
func (ex *Exchange) PublishJSON(routingKey string, v interface{}, opts PublishOptions) *Future[struct{}] {
	body, err := json.Marshal(v)
	if err != nil {
		return failedFuture[struct{}](err)
	}
	if opts.ContentType == "" {
		opts.ContentType = "application/json"
	}
	return ex.Publish(routingKey, body, opts)
}

func (ex *Exchange) publish(routingKey string, body []byte, opts PublishOptions, f *Future[struct{}]) {
	if ex.conn.blocked {
		f.fail(ErrBlocked)
		return
	}
	if !ex.ch.isOpen() {
		f.fail(ErrNotOpen)
		return
	}

	props := opts.Properties
	if props.ContentType == "" {
		props.ContentType = DefaultContentType
	}
	method := protocol.Arguments{
		"exchange":   protocol.ShortString(ex.name),
		"routingKey": protocol.ShortString(routingKey),
		"mandatory":  protocol.Bit(opts.Mandatory),
		"immediate":  protocol.Bit(opts.Immediate),
	}

	// The sequence number is claimed only once the frames are written, so a
	// publish that fails to encode cannot shift later broker acks.
	tracked := false
	ex.ch.tasks.push(0, func() error {
		if err := ex.ch.sendMessage(protocol.BasicPublish, method, props.arguments(), body); err != nil {
			return err
		}
		if ex.confirms.active {
			ex.confirms.track(f)
			tracked = true
		}
		return nil
	}, nil).Then(func(_ *frame.Method, err error) {
		if err != nil {
			f.fail(err)
			return
		}
		ex.conn.metrics.MessagePublished()
		if !tracked {
			f.resolve(struct{}{})
		}
	})
}

// Bind routes messages from source to this exchange.
func (ex *Exchange) Bind(source, routingKey string) *Future[struct{}] {
	b := Binding{Source: source, Destination: ex.name, RoutingKey: routingKey}
	return done(ex.ch.call(func() *Future[*frame.Method] { return ex.pushBind(b, true) }))
}

// BindHeaders binds to a headers exchange. x-match defaults to "all".
func (ex *Exchange) BindHeaders(source string, headers Table) *Future[struct{}] {
	b := Binding{Source: source, Destination: ex.name, Arguments: headerArguments(headers)}
	return done(ex.ch.call(func() *Future[*frame.Method] { return ex.pushBind(b, true) }))
}

// Unbind removes a binding made with Bind.
func (ex *Exchange) Unbind(source, routingKey string) *Future[struct{}] {
	b := Binding{Source: source, Destination: ex.name, RoutingKey: routingKey}
	return done(ex.ch.call(func() *Future[*frame.Method] {
		return ex.ch.tasks.push(protocol.ExchangeUnbindOk, func() error {
			return ex.ch.send(protocol.ExchangeUnbind, protocol.Arguments{
				"destination": protocol.ShortString(ex.name),
				"source":      protocol.ShortString(b.Source),
				"routingKey":  protocol.ShortString(b.RoutingKey),
				"arguments":   b.Arguments,
			})
		}, func(*frame.Method) {
			ex.conn.registry.forgetBinding(ex.ch, b)
		})
	}))
}

func (ex *Exchange) pushBind(b Binding, record bool) *Future[*frame.Method] {
	return ex.ch.tasks.push(protocol.ExchangeBindOk, func() error {
		return ex.ch.send(protocol.ExchangeBind, protocol.Arguments{
			"destination": protocol.ShortString(ex.name),
			"source":      protocol.ShortString(b.Source),
			"routingKey":  protocol.ShortString(b.RoutingKey),
			"arguments":   b.Arguments,
		})
	}, func(*frame.Method) {
		if record {
			ex.conn.registry.recordBinding(ex.ch, b)
		}
	})
}

// Destroy deletes the exchange and closes its channel.
func (ex *Exchange) Destroy(ifUnused bool) *Future[struct{}] {
	return done(ex.ch.call(func() *Future[*frame.Method] {
		return ex.ch.tasks.push(protocol.ExchangeDeleteOk, func() error {
			return ex.ch.send(protocol.ExchangeDelete, protocol.Arguments{
				"exchange": protocol.ShortString(ex.name),
				"ifUnused": protocol.Bit(ifUnused),
			})
		}, func(*frame.Method) {
			ex.ch.close()
		})
	}))
}

// Close closes the exchange's channel without deleting the exchange.
func (ex *Exchange) Close() *Future[struct{}] {
	return closeChannel(ex.ch)
}
