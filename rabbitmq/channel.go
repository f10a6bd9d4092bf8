package rabbitmq

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/israelio/amqp-engine/internal/frame"
	"github.com/israelio/amqp-engine/internal/protocol"
)

// ChannelState represents the state of a channel
type ChannelState int32

const (
	ChannelOpening ChannelState = iota
	ChannelDeclaring
	ChannelOpen
	ChannelClosing
	ChannelClosed
)

// String returns a string representation of the channel state
func (s ChannelState) String() string {
	switch s {
	case ChannelOpening:
		return "opening"
	case ChannelDeclaring:
		return "declaring"
	case ChannelOpen:
		return "open"
	case ChannelClosing:
		return "closing"
	case ChannelClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// channelHandler is the type-specific half of a channel.
type channelHandler interface {
	// declare runs once channel.open-ok arrives and must end in markOpen.
	declare()
	handleMethod(m *frame.Method) error
	handleContent(msg *inflightMessage)
	// interrupted is called when the transport drops; the channel will be
	// reopened after reconnect.
	interrupted(err error)
	// closed is called once when the channel is gone for good.
	closed(err error)
}

// inflightMessage collects a deliver or return method with its header and
// body frames.
type inflightMessage struct {
	method     *frame.Method
	properties Properties
	size       uint64
	body       []byte
	header     bool
}

// maxPrealloc bounds the body buffer allocated up front from a header's
// declared size.
const maxPrealloc = 1 << 20

// channel is the state shared by queues and exchanges. It is owned by the
// connection's event loop.
type channel struct {
	conn    *Connection
	id      uint16
	epoch   uint64
	state   ChannelState
	tasks   *taskQueue
	handler channelHandler
	logger  zerolog.Logger

	inflight *inflightMessage
	removed  bool

	ready       *Future[struct{}]
	closeFuture *Future[struct{}]
	onError     []func(error)

	stateView atomic.Int32
}

func newChannel(conn *Connection, handler channelHandler) *channel {
	ch := &channel{
		conn:    conn,
		state:   ChannelClosed,
		handler: handler,
		logger:  conn.logger,
		ready:   newLoopFuture[struct{}](conn.exec),
	}
	ch.stateView.Store(int32(ChannelClosed))
	ch.tasks = newTaskQueue(ch.isOpen)
	return ch
}

func (ch *channel) setState(s ChannelState) {
	if ch.state != s {
		ch.logger.Debug().Stringer("from", ch.state).Stringer("to", s).Msg("channel state")
	}
	ch.state = s
	ch.stateView.Store(int32(s))
}

func (ch *channel) isOpen() bool { return ch.state == ChannelOpen }

// open starts the open sequence: channel.open, then the handler's declare.
func (ch *channel) open() {
	ch.epoch++
	ch.inflight = nil
	ch.tasks.dropForced()
	ch.setState(ChannelOpening)
	ch.tasks.pushForced(protocol.ChannelOpenOk, func() error {
		return ch.send(protocol.ChannelOpen, nil)
	}, func(*frame.Method) {
		ch.setState(ChannelDeclaring)
		ch.handler.declare()
	})
}

// markOpen completes the open sequence and releases queued tasks.
func (ch *channel) markOpen() {
	ch.setState(ChannelOpen)
	ch.conn.metrics.ChannelOpened()
	ch.ready.resolve(struct{}{})
	ch.tasks.flush(true)
}

// reconnect reopens a channel after the connection became ready again.
func (ch *channel) reconnect() {
	if ch.removed || ch.state != ChannelClosed {
		return
	}
	ch.open()
}

func (ch *channel) send(id protocol.MethodID, args protocol.Arguments) error {
	return ch.conn.sendMethod(ch.id, id, args)
}

func (ch *channel) sendMessage(id protocol.MethodID, args, props protocol.Arguments, body []byte) error {
	return ch.conn.sendMessage(ch.id, id, args, protocol.ClassBasic, props, body)
}

// handleFrame routes a frame addressed to this channel.
func (ch *channel) handleFrame(f frame.Frame) error {
	switch f.Type {
	case protocol.FrameMethod:
		m, err := frame.ParseMethod(ch.conn.dict, f.Payload)
		if err != nil {
			return err
		}
		return ch.handleMethod(m)
	case protocol.FrameHeader:
		if ch.state == ChannelClosing {
			return nil
		}
		return ch.handleHeader(f)
	case protocol.FrameBody:
		if ch.state == ChannelClosing {
			return nil
		}
		return ch.handleBody(f)
	default:
		return protocol.NewProtocolError(protocol.ReplyUnexpectedFrame, "unexpected %s", f)
	}
}

func (ch *channel) handleMethod(m *frame.Method) error {
	ch.logger.Debug().Str("method", m.Name()).Msg("received")

	switch m.ID {
	case protocol.ChannelClose:
		ch.handleServerClose(m)
		return nil
	case protocol.ChannelCloseOk:
		ch.handleCloseOk()
		return nil
	}

	// Everything but close and close-ok is discarded after we asked to close.
	if ch.state == ChannelClosing {
		return nil
	}

	if ch.tasks.handleReply(m.ID, m) {
		return nil
	}

	if m.ID == protocol.ChannelFlow {
		active := m.Args.Bool("active")
		ch.logger.Info().Bool("active", active).Msg("server changed channel flow")
		return ch.send(protocol.ChannelFlowOk, protocol.Arguments{"active": protocol.Bit(active)})
	}

	return ch.handler.handleMethod(m)
}

func (ch *channel) handleServerClose(m *frame.Method) {
	err := NewError(int(m.Args.Uint16("replyCode")), m.Args.String("replyText"), true)
	ch.logger.Warn().
		Int("code", err.Code).
		Str("reason", err.Reason).
		Uint16("class", m.Args.Uint16("classId")).
		Uint16("method", m.Args.Uint16("methodId")).
		Msg("channel closed by server")

	if sendErr := ch.send(protocol.ChannelCloseOk, nil); sendErr != nil {
		ch.logger.Debug().Err(sendErr).Msg("channel.close-ok not sent")
	}
	ch.finish(err)
	for _, fn := range ch.onError {
		fn(err)
	}
}

func (ch *channel) handleCloseOk() {
	if ch.state != ChannelClosing {
		ch.logger.Warn().Stringer("state", ch.state).Msg("unexpected channel.close-ok")
		return
	}
	ch.finish(nil)
}

// close asks the server to close the channel once queued work has been sent.
func (ch *channel) close() *Future[struct{}] {
	if ch.closeFuture != nil {
		return ch.closeFuture
	}
	ch.closeFuture = newFuture[struct{}]()

	if ch.removed {
		ch.closeFuture.resolve(struct{}{})
		return ch.closeFuture
	}
	// Without a live channel there is nobody to tell.
	if ch.state == ChannelClosed {
		ch.finish(nil)
		return ch.closeFuture
	}

	ch.tasks.push(0, func() error {
		ch.setState(ChannelClosing)
		return ch.send(protocol.ChannelClose, protocol.Arguments{
			"replyCode": protocol.Short(protocol.ReplySuccess),
			"replyText": protocol.ShortString("Goodbye"),
		})
	}, nil).Then(func(_ *frame.Method, err error) {
		if err != nil {
			ch.finish(nil)
		}
	})
	return ch.closeFuture
}

// transportLost marks the channel closed after the connection dropped. Sent
// tasks fail; unsent tasks wait for the channel to reopen.
func (ch *channel) transportLost(err error) {
	ch.inflight = nil
	if ch.state == ChannelClosing {
		ch.finish(nil)
		return
	}

	lost := connectionLost(err)
	ch.setState(ChannelClosed)
	ch.tasks.failSent(lost)
	ch.handler.interrupted(lost)
}

// finish tears the channel down for good and releases its id.
func (ch *channel) finish(err error) {
	if ch.removed {
		return
	}
	ch.removed = true
	ch.inflight = nil
	ch.setState(ChannelClosed)

	cause := err
	if cause == nil {
		cause = ErrChannelClosed
	}
	ch.tasks.failAll(cause)
	ch.handler.closed(cause)
	ch.ready.fail(cause)
	ch.conn.unregister(ch)
	ch.conn.metrics.ChannelClosed()

	if ch.closeFuture != nil {
		ch.closeFuture.resolve(struct{}{})
	}
}

// call posts op to the event loop. The returned future fails with ErrClosed
// when the connection is already gone.
func (ch *channel) call(op func() *Future[*frame.Method]) *Future[*frame.Method] {
	f := newFuture[*frame.Method]()
	posted := ch.conn.exec.post(func() {
		if ch.removed {
			f.fail(ErrChannelClosed)
			return
		}
		op().Then(func(m *frame.Method, err error) {
			if err != nil {
				f.fail(err)
				return
			}
			f.resolve(m)
		})
	})
	if !posted {
		f.fail(ErrClosed)
	}
	return f
}

func (ch *channel) startContent(m *frame.Method) error {
	if ch.inflight != nil {
		return protocol.NewProtocolError(protocol.ReplyUnexpectedFrame,
			"%s on channel %d while content of %s is incomplete", m.Name(), ch.id, ch.inflight.method.Name())
	}
	ch.inflight = &inflightMessage{method: m}
	return nil
}

func (ch *channel) handleHeader(f frame.Frame) error {
	msg := ch.inflight
	if msg == nil || msg.header {
		return protocol.NewProtocolError(protocol.ReplyUnexpectedFrame, "unexpected content header on channel %d", ch.id)
	}

	h, err := frame.ParseContentHeader(ch.conn.dict, f.Payload)
	if err != nil {
		return err
	}
	msg.header = true
	msg.size = h.BodySize
	msg.properties = propertiesFrom(h.Properties)
	if msg.size <= maxPrealloc {
		msg.body = make([]byte, 0, msg.size)
	}

	if msg.size == 0 {
		ch.completeContent()
	}
	return nil
}

func (ch *channel) handleBody(f frame.Frame) error {
	msg := ch.inflight
	if msg == nil || !msg.header {
		return protocol.NewProtocolError(protocol.ReplyUnexpectedFrame, "unexpected content body on channel %d", ch.id)
	}
	if uint64(len(msg.body))+uint64(len(f.Payload)) > msg.size {
		return protocol.NewProtocolError(protocol.ReplyFrameError,
			"content body on channel %d exceeds declared size %d", ch.id, msg.size)
	}

	msg.body = append(msg.body, f.Payload...)
	if uint64(len(msg.body)) == msg.size {
		ch.completeContent()
	}
	return nil
}

func (ch *channel) completeContent() {
	msg := ch.inflight
	ch.inflight = nil
	ch.handler.handleContent(msg)
}
