package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/israelio/amqp-engine/internal/frame"
	"github.com/israelio/amqp-engine/internal/protocol"
)

// ConnectionState represents the current state of a connection
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateAwaitingStart
	StateAwaitingTune
	StateAwaitingOpenOk
	StateReady
	StateClosing
	StateClosed
)

// String returns a string representation of the connection state
func (cs ConnectionState) String() string {
	switch cs {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingStart:
		return "awaiting-start"
	case StateAwaitingTune:
		return "awaiting-tune"
	case StateAwaitingOpenOk:
		return "awaiting-open-ok"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (cs ConnectionState) handshaking() bool {
	return cs >= StateAwaitingStart && cs <= StateAwaitingOpenOk
}

// ConnectionListener receives connection lifecycle events. Callbacks run on
// the event loop and must not block.
//
// OnConnectionClosed fires when the connection is closed for good and also
// when the server closes it while a reconnect will follow. In the latter case
// OnConnectionError follows and IsClosed still reports false.
type ConnectionListener interface {
	OnConnectionReady(conn *Connection)
	OnConnectionClosed(conn *Connection, err error)
	OnConnectionError(conn *Connection, err error)
	OnConnectionBlocked(conn *Connection, reason string)
	OnConnectionUnblocked(conn *Connection)
}

// ListenerFuncs is a ConnectionListener built from optional functions. Use
// it by pointer so it can be removed again.
type ListenerFuncs struct {
	Ready     func(conn *Connection)
	Closed    func(conn *Connection, err error)
	Error     func(conn *Connection, err error)
	Blocked   func(conn *Connection, reason string)
	Unblocked func(conn *Connection)
}

func (l *ListenerFuncs) OnConnectionReady(conn *Connection) {
	if l.Ready != nil {
		l.Ready(conn)
	}
}

func (l *ListenerFuncs) OnConnectionClosed(conn *Connection, err error) {
	if l.Closed != nil {
		l.Closed(conn, err)
	}
}

func (l *ListenerFuncs) OnConnectionError(conn *Connection, err error) {
	if l.Error != nil {
		l.Error(conn, err)
	}
}

func (l *ListenerFuncs) OnConnectionBlocked(conn *Connection, reason string) {
	if l.Blocked != nil {
		l.Blocked(conn, reason)
	}
}

func (l *ListenerFuncs) OnConnectionUnblocked(conn *Connection) {
	if l.Unblocked != nil {
		l.Unblocked(conn)
	}
}

// Connection is an AMQP connection with automatic reconnect. All protocol
// state is owned by a single event loop; the exported methods post to it and
// hand back futures.
type Connection struct {
	cfg      Config
	dict     *protocol.Dictionary
	exec     executor
	sched    scheduler
	dialer   dialer
	logger   zerolog.Logger
	metrics  MetricsCollector
	registry *Registry

	// Owned by the event loop.
	state          ConnectionState
	gen            uint64
	attempt        int
	transport      transport
	decoder        *frame.Decoder
	encoder        *frame.Encoder
	frameMax       uint32
	channelMax     uint16
	heartbeat      time.Duration
	monitor        *heartbeatMonitor
	policy         *reconnectPolicy
	reconnectTimer timer
	handshakeTimer timer
	closeTimer     timer
	closing        bool
	blocked        bool
	channels       map[uint16]*channel
	nextChannel    uint16
	readyWaiters   []*Future[struct{}]
	closeWaiters   []*Future[struct{}]
	defaultEx      *Exchange

	// Mirrors for readers outside the loop.
	stateView      atomic.Int32
	blockedView    atomic.Bool
	frameMaxView   atomic.Uint32
	channelMaxView atomic.Uint32
	heartbeatView  atomic.Int64

	listenerMux sync.RWMutex
	listeners   []ConnectionListener

	propsMux         sync.RWMutex
	serverProperties Table
}

// NewConnection creates a connection that is not yet connected. Call Connect
// to start it, or use Dial.
func NewConnection(cfg Config) *Connection {
	loop := newEventLoop()
	return newConnection(cfg, loop, loopScheduler{exec: loop}, newNetDialer(cfg))
}

func newConnection(cfg Config, exec executor, sched scheduler, d dialer) *Connection {
	c := &Connection{
		cfg:      cfg,
		dict:     protocol.AMQP091,
		exec:     exec,
		sched:    sched,
		dialer:   d,
		logger:   cfg.Logger.With().Str("component", "amqp").Logger(),
		metrics:  cfg.metrics(),
		registry: newRegistry(),
		channels: make(map[uint16]*channel),
		policy:   newReconnectPolicy(cfg),
	}
	c.monitor = newHeartbeatMonitor(sched, c.sendHeartbeat, c.fail)
	return c
}

// Dial creates a connection and waits until it is ready.
func Dial(ctx context.Context, cfg Config) (*Connection, error) {
	c := NewConnection(cfg)
	if _, err := c.Connect().Wait(ctx); err != nil {
		c.Destroy()
		return nil, err
	}
	return c, nil
}

// Connect starts connecting if the connection is idle and resolves once it
// is ready.
func (c *Connection) Connect() *Future[struct{}] {
	f := newFuture[struct{}]()
	if !c.exec.post(func() { c.awaitReady(f) }) {
		f.fail(ErrClosed)
	}
	return f
}

func (c *Connection) awaitReady(f *Future[struct{}]) {
	switch {
	case c.state == StateReady:
		f.resolve(struct{}{})
		return
	case c.closing || c.state == StateClosed:
		f.fail(ErrClosed)
		return
	}

	c.readyWaiters = append(c.readyWaiters, f)
	if c.state == StateDisconnected && c.reconnectTimer == nil {
		c.connect()
	}
}

// Close closes the connection gracefully: connection.close is sent and the
// connection is torn down on close-ok, or after the handshake timeout.
// Reconnect stops for good.
func (c *Connection) Close(ctx context.Context) error {
	f := newFuture[struct{}]()
	if !c.exec.post(func() { c.close(f) }) {
		return nil
	}
	_, err := f.Wait(ctx)
	return err
}

// Destroy tears the connection down at once without the closing handshake.
func (c *Connection) Destroy() {
	c.exec.post(func() {
		c.closing = true
		c.terminate(nil)
	})
}

// Queue declares a queue on its own channel. An empty name asks the server
// for a generated one. Operations on the queue are queued until it is
// declared.
func (c *Connection) Queue(name string, opts QueueOptions) *Queue {
	q := newQueue(c, name, opts)
	if !c.exec.post(func() {
		c.registry.addQueue(name, q)
		c.openChannel(q.ch)
	}) {
		q.ch.ready.fail(ErrClosed)
	}
	return q
}

// Exchange declares an exchange on its own channel.
func (c *Connection) Exchange(name string, opts ExchangeOptions) *Exchange {
	ex := newExchange(c, name, opts)
	if !c.exec.post(func() {
		c.registry.addExchange(name, ex)
		c.openChannel(ex.ch)
	}) {
		ex.ch.ready.fail(ErrClosed)
	}
	return ex
}

// Publish publishes through the default exchange, which is opened on first
// use.
func (c *Connection) Publish(routingKey string, body []byte, opts PublishOptions) *Future[struct{}] {
	f := newFuture[struct{}]()
	posted := c.exec.post(func() {
		if c.defaultEx == nil || c.defaultEx.ch.removed {
			c.defaultEx = newExchange(c, c.cfg.DefaultExchangeName, ExchangeOptions{})
			c.registry.addExchange(c.defaultEx.name, c.defaultEx)
			c.openChannel(c.defaultEx.ch)
		}
		ex := c.defaultEx
		ex.ch.ready.Then(func(_ struct{}, err error) {
			if err != nil {
				f.fail(err)
				return
			}
			ex.publish(routingKey, body, opts, f)
		})
	})
	if !posted {
		f.fail(ErrClosed)
	}
	return f
}

// State returns the current connection state
func (c *Connection) State() ConnectionState {
	return ConnectionState(c.stateView.Load())
}

// IsClosed reports whether the connection is permanently closed
func (c *Connection) IsClosed() bool {
	return c.State() == StateClosed
}

// IsBlocked reports whether the server has blocked publishing
func (c *Connection) IsBlocked() bool {
	return c.blockedView.Load()
}

// ServerProperties returns the properties the server sent in
// connection.start.
func (c *Connection) ServerProperties() Table {
	c.propsMux.RLock()
	defer c.propsMux.RUnlock()
	return c.serverProperties.Clone()
}

// Registry returns the declared queues, exchanges and bindings.
func (c *Connection) Registry() *Registry {
	return c.registry
}

// GetChannelMax returns the channel id limit: the lower non-zero of the
// configured and server-advertised maximum, 0 for none.
func (c *Connection) GetChannelMax() uint16 {
	return uint16(c.channelMaxView.Load())
}

// GetFrameMax returns the negotiated maximum frame size
func (c *Connection) GetFrameMax() uint32 {
	return c.frameMaxView.Load()
}

// GetHeartbeat returns the negotiated heartbeat interval
func (c *Connection) GetHeartbeat() time.Duration {
	return time.Duration(c.heartbeatView.Load())
}

// AddConnectionListener adds a connection lifecycle listener
func (c *Connection) AddConnectionListener(listener ConnectionListener) {
	c.listenerMux.Lock()
	defer c.listenerMux.Unlock()
	c.listeners = append(c.listeners, listener)
}

// RemoveConnectionListener removes a connection listener
func (c *Connection) RemoveConnectionListener(listener ConnectionListener) {
	c.listenerMux.Lock()
	defer c.listenerMux.Unlock()

	for i, l := range c.listeners {
		if l == listener {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

// notifyListeners calls a function for each listener
func (c *Connection) notifyListeners(fn func(ConnectionListener)) {
	c.listenerMux.RLock()
	listeners := append([]ConnectionListener(nil), c.listeners...)
	c.listenerMux.RUnlock()

	for _, listener := range listeners {
		fn(listener)
	}
}

func (c *Connection) setState(s ConnectionState) {
	if c.state != s {
		c.logger.Debug().Stringer("from", c.state).Stringer("to", s).Msg("connection state")
	}
	c.state = s
	c.stateView.Store(int32(s))
}

func (c *Connection) setBlocked(blocked bool) {
	c.blocked = blocked
	c.blockedView.Store(blocked)
}

// connect starts a new transport attempt against the next host.
func (c *Connection) connect() {
	c.gen++
	addr := c.cfg.address(c.attempt)
	c.setState(StateConnecting)
	c.logger.Info().Str("addr", addr).Int("attempt", c.attempt).Msg("connecting")
	c.dialer.dial(addr, transportEvents{c: c, gen: c.gen})
}

func (c *Connection) onConnected(gen uint64, t transport) {
	if gen != c.gen || c.state != StateConnecting {
		_ = t.Close()
		return
	}

	c.transport = t
	c.frameMax = c.cfg.FrameMax
	if c.frameMax == 0 {
		c.frameMax = protocol.FrameMaxDefault
	}
	c.decoder = frame.NewDecoder(c.frameMax)
	c.encoder = frame.NewEncoder(c.dict, c.frameMax)
	c.setState(StateAwaitingStart)
	c.armHandshakeTimer()

	c.logger.Debug().Stringer("dialect", c.cfg.Dialect).Msg("sending protocol header")
	_ = c.write([]byte(c.cfg.Dialect.Header()))
}

func (c *Connection) armHandshakeTimer() {
	timeout := c.cfg.HandshakeTimeout
	if timeout <= 0 {
		return
	}
	gen := c.gen
	c.handshakeTimer = c.sched.AfterFunc(timeout, func() {
		c.handshakeTimer = nil
		if gen == c.gen && c.state.handshaking() {
			c.fail(fmt.Errorf("handshake not completed within %s: %w", timeout, ErrTimeout))
		}
	})
}

func (c *Connection) onData(gen uint64, b []byte) {
	if gen != c.gen || c.decoder == nil {
		return
	}
	c.monitor.inbound()

	frames, err := c.decoder.Decode(b)
	for _, f := range frames {
		c.metrics.FrameReceived(f.Type)
		if derr := c.dispatch(f); derr != nil {
			c.fail(derr)
			return
		}
		// A frame may have torn the transport down.
		if gen != c.gen {
			return
		}
	}
	if err != nil {
		c.fail(err)
	}
}

func (c *Connection) onTransportError(gen uint64, err error) {
	if gen != c.gen {
		return
	}
	c.fail(err)
}

func (c *Connection) dispatch(f frame.Frame) error {
	if f.Type == protocol.FrameHeartbeat {
		if f.Channel != 0 {
			return protocol.NewProtocolError(protocol.ReplyCommandInvalid, "heartbeat on channel %d", f.Channel)
		}
		return nil
	}

	if f.Channel == 0 {
		if f.Type != protocol.FrameMethod {
			return protocol.NewProtocolError(protocol.ReplyUnexpectedFrame, "%s on channel 0", f)
		}
		m, err := frame.ParseMethod(c.dict, f.Payload)
		if err != nil {
			return err
		}
		if m.ID.ClassID() != protocol.ClassConnection {
			return protocol.NewProtocolError(protocol.ReplyCommandInvalid, "%s on channel 0", m.Name())
		}
		return c.handleConnectionMethod(m)
	}

	ch, ok := c.channels[f.Channel]
	if !ok {
		c.logger.Warn().Uint16("channel", f.Channel).Stringer("frame", f).Msg("dropping frame for unknown channel")
		return nil
	}
	return ch.handleFrame(f)
}

func (c *Connection) handleConnectionMethod(m *frame.Method) error {
	c.logger.Debug().Str("method", m.Name()).Msg("received")

	switch m.ID {
	case protocol.ConnectionStart:
		return c.handleStart(m)
	case protocol.ConnectionSecure:
		return protocol.NewProtocolError(protocol.ReplyNotImplemented, "connection.secure challenges are not supported")
	case protocol.ConnectionTune:
		return c.handleTune(m)
	case protocol.ConnectionOpenOk:
		return c.handleOpenOk(m)
	case protocol.ConnectionClose:
		c.handleServerClose(m)
		return nil
	case protocol.ConnectionCloseOk:
		if c.state != StateClosing {
			c.logger.Warn().Stringer("state", c.state).Msg("unexpected connection.close-ok")
			return nil
		}
		c.terminate(nil)
		return nil
	case protocol.ConnectionBlocked:
		reason := m.Args.String("reason")
		c.setBlocked(true)
		c.logger.Warn().Str("reason", reason).Msg("connection blocked by server")
		c.notifyListeners(func(l ConnectionListener) { l.OnConnectionBlocked(c, reason) })
		return nil
	case protocol.ConnectionUnblocked:
		c.setBlocked(false)
		c.logger.Info().Msg("connection unblocked")
		c.notifyListeners(func(l ConnectionListener) { l.OnConnectionUnblocked(c) })
		return nil
	default:
		return protocol.NewProtocolError(protocol.ReplyCommandInvalid, "unexpected %s", m.Name())
	}
}

func (c *Connection) unexpected(m *frame.Method) error {
	return protocol.NewProtocolError(protocol.ReplyUnexpectedFrame, "%s in state %s", m.Name(), c.state)
}

func (c *Connection) handleStart(m *frame.Method) error {
	if c.state != StateAwaitingStart {
		return c.unexpected(m)
	}

	major, minor := m.Args.Uint8("versionMajor"), m.Args.Uint8("versionMinor")
	if !c.cfg.Dialect.Accepts(major, minor) {
		return protocol.NewProtocolError(protocol.ReplyNotImplemented,
			"server speaks AMQP %d-%d, client is configured for %s", major, minor, c.cfg.Dialect)
	}

	c.propsMux.Lock()
	c.serverProperties = m.Args.Table("serverProperties")
	c.propsMux.Unlock()

	mechanism := strings.ToUpper(c.cfg.AuthMechanism)
	if offered := m.Args.String("mechanisms"); offered != "" && !containsWord(offered, mechanism) {
		c.logger.Warn().Str("mechanism", mechanism).Str("offered", offered).Msg("server does not offer auth mechanism")
	}

	var response protocol.Value
	switch mechanism {
	case AuthPlain:
		response = protocol.String("\x00" + c.cfg.Login + "\x00" + c.cfg.Password)
	default:
		mechanism = AuthAMQPLain
		response = amqplainResponse(c.cfg.Login, c.cfg.Password)
	}

	locale := c.cfg.Locale
	if locale == "" {
		locale = DefaultLocale
	}

	c.setState(StateAwaitingTune)
	return c.sendMethod(0, protocol.ConnectionStartOk, protocol.Arguments{
		"clientProperties": c.cfg.clientProperties(),
		"mechanism":        protocol.ShortString(mechanism),
		"response":         response,
		"locale":           protocol.ShortString(locale),
	})
}

// amqplainResponse encodes the AMQPLAIN credentials: a field table without
// its length prefix.
func amqplainResponse(login, password string) protocol.LongString {
	w := protocol.NewWriter(64)
	_ = w.WriteTable(Table{
		{Key: "LOGIN", Value: protocol.String(login)},
		{Key: "PASSWORD", Value: protocol.String(password)},
	})
	return protocol.LongString(w.Bytes()[4:])
}

func containsWord(list, word string) bool {
	for _, w := range strings.Fields(list) {
		if strings.EqualFold(w, word) {
			return true
		}
	}
	return false
}

func (c *Connection) handleTune(m *frame.Method) error {
	if c.state != StateAwaitingTune {
		return c.unexpected(m)
	}

	if serverMax := m.Args.Uint32("frameMax"); serverMax != 0 && serverMax < c.frameMax {
		c.frameMax = serverMax
	}
	if c.frameMax < protocol.FrameMinSize {
		c.frameMax = protocol.FrameMinSize
	}
	// The limit only bounds local id allocation. tune-ok always asks for an
	// unlimited channel count.
	c.channelMax = lowerNonZero(c.cfg.ChannelMax, m.Args.Uint16("channelMax"))

	seconds := uint16((c.cfg.Heartbeat + time.Second - 1) / time.Second)
	if server := m.Args.Uint16("heartbeat"); seconds > 0 && server > 0 && server < seconds {
		seconds = server
	}
	c.heartbeat = time.Duration(seconds) * time.Second

	c.decoder.SetMaxFrameSize(c.frameMax)
	c.encoder.SetMaxFrameSize(c.frameMax)
	c.frameMaxView.Store(c.frameMax)
	c.channelMaxView.Store(uint32(c.channelMax))
	c.heartbeatView.Store(int64(c.heartbeat))

	c.logger.Debug().
		Uint32("frame_max", c.frameMax).
		Uint16("channel_max", c.channelMax).
		Dur("heartbeat", c.heartbeat).
		Msg("tuned")

	if err := c.sendMethod(0, protocol.ConnectionTuneOk, protocol.Arguments{
		"channelMax": protocol.Short(0),
		"frameMax":   protocol.Long(c.frameMax),
		"heartbeat":  protocol.Short(seconds),
	}); err != nil {
		return nil
	}

	c.setState(StateAwaitingOpenOk)
	_ = c.sendMethod(0, protocol.ConnectionOpen, protocol.Arguments{
		"virtualHost": protocol.ShortString(c.cfg.VHost),
	})
	return nil
}

func lowerNonZero(a, b uint16) uint16 {
	switch {
	case a == 0:
		return b
	case b == 0 || a < b:
		return a
	default:
		return b
	}
}

func (c *Connection) handleOpenOk(m *frame.Method) error {
	if c.state != StateAwaitingOpenOk {
		return c.unexpected(m)
	}

	stopTimer(&c.handshakeTimer)
	c.setState(StateReady)
	c.metrics.ConnectionReady()
	c.logger.Info().Str("vhost", c.cfg.VHost).Msg("connection ready")

	c.monitor.start(c.heartbeat)
	c.policy.reset()

	waiters := c.readyWaiters
	c.readyWaiters = nil
	for _, f := range waiters {
		f.resolve(struct{}{})
	}

	for _, ch := range c.sortedChannels() {
		ch.reconnect()
	}
	c.notifyListeners(func(l ConnectionListener) { l.OnConnectionReady(c) })
	return nil
}

func (c *Connection) handleServerClose(m *frame.Method) {
	err := NewError(int(m.Args.Uint16("replyCode")), m.Args.String("replyText"), true)
	c.logger.Warn().
		Int("code", err.Code).
		Str("reason", err.Reason).
		Uint16("class", m.Args.Uint16("classId")).
		Uint16("method", m.Args.Uint16("methodId")).
		Msg("connection closed by server")

	_ = c.sendMethod(0, protocol.ConnectionCloseOk, nil)
	if c.state == StateClosing {
		c.terminate(nil)
		return
	}
	if c.cfg.Reconnect && !c.closing {
		// terminate reports the close itself when no reconnect follows.
		c.notifyListeners(func(l ConnectionListener) { l.OnConnectionClosed(c, err) })
	}
	c.fail(err)
}

func (c *Connection) close(f *Future[struct{}]) {
	c.closeWaiters = append(c.closeWaiters, f)
	if c.closing {
		return
	}
	c.closing = true
	stopTimer(&c.reconnectTimer)

	if c.state != StateReady {
		c.terminate(nil)
		return
	}

	c.setState(StateClosing)
	err := c.sendMethod(0, protocol.ConnectionClose, protocol.Arguments{
		"replyCode": protocol.Short(protocol.ReplySuccess),
		"replyText": protocol.ShortString("Goodbye"),
	})
	if err != nil {
		c.terminate(nil)
		return
	}

	if timeout := c.cfg.HandshakeTimeout; timeout > 0 {
		c.closeTimer = c.sched.AfterFunc(timeout, func() {
			c.closeTimer = nil
			c.logger.Warn().Dur("timeout", timeout).Msg("no connection.close-ok from server")
			c.terminate(nil)
		})
	}
}

// fail handles a lost transport. Unless the connection is closing, reconnect
// is disabled or the peer violated the protocol, channels are parked and a
// reconnect is scheduled.
func (c *Connection) fail(err error) {
	if c.state == StateClosed {
		return
	}

	var liveness *LivenessError
	if errors.As(err, &liveness) {
		c.metrics.HeartbeatTimeout()
	}
	c.metrics.ConnectionError(err)

	if c.closing || !c.cfg.Reconnect || protocol.IsProtocolError(err) {
		c.terminate(err)
		return
	}

	c.logger.Warn().Err(err).Stringer("state", c.state).Msg("connection lost")
	c.dropTransport()
	for _, ch := range c.sortedChannels() {
		ch.transportLost(err)
	}
	c.setState(StateDisconnected)
	c.notifyListeners(func(l ConnectionListener) { l.OnConnectionError(c, err) })
	c.scheduleReconnect()
}

func (c *Connection) scheduleReconnect() {
	if c.reconnectTimer != nil {
		return
	}

	delay := c.policy.next()
	c.metrics.ReconnectScheduled()
	c.logger.Info().Dur("delay", delay).Msg("reconnect scheduled")
	c.reconnectTimer = c.sched.AfterFunc(delay, func() {
		c.reconnectTimer = nil
		if c.state != StateDisconnected || c.closing {
			return
		}
		c.attempt++
		c.connect()
	})
}

// dropTransport closes the current transport and makes its pending events
// stale.
func (c *Connection) dropTransport() {
	c.gen++
	c.monitor.stop()
	stopTimer(&c.handshakeTimer)
	stopTimer(&c.closeTimer)
	if c.transport != nil {
		_ = c.transport.Close()
		c.transport = nil
	}
	c.decoder = nil
	c.encoder = nil
	c.setBlocked(false)
}

// terminate closes the connection for good. err is nil for a requested
// close.
func (c *Connection) terminate(err error) {
	if c.state == StateClosed {
		return
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("connection failed")
	} else {
		c.logger.Info().Msg("connection closed")
	}

	c.closing = true
	c.dropTransport()
	stopTimer(&c.reconnectTimer)

	cause := connectionLost(err)
	for _, ch := range c.sortedChannels() {
		ch.finish(cause)
	}

	waiters := c.readyWaiters
	c.readyWaiters = nil
	for _, f := range waiters {
		f.fail(cause)
	}

	c.setState(StateClosed)
	c.metrics.ConnectionClosed()

	closers := c.closeWaiters
	c.closeWaiters = nil
	for _, f := range closers {
		f.resolve(struct{}{})
	}

	if err != nil {
		c.notifyListeners(func(l ConnectionListener) { l.OnConnectionError(c, err) })
	}
	c.notifyListeners(func(l ConnectionListener) { l.OnConnectionClosed(c, err) })
	c.exec.stop()
}

func (c *Connection) sendMethod(channel uint16, id protocol.MethodID, args protocol.Arguments) error {
	if c.encoder == nil {
		return connectionLost(nil)
	}
	b, err := c.encoder.Method(channel, id, args)
	if err != nil {
		return err
	}
	if e := c.logger.Debug(); e.Enabled() {
		e.Uint16("channel", channel).Stringer("method", id).Msg("send")
	}
	if err := c.write(b); err != nil {
		return err
	}
	c.metrics.FrameSent(protocol.FrameMethod)
	c.monitor.outbound()
	return nil
}

// sendMessage writes a content-carrying method with its header and body in
// one write. Nothing reaches the transport when any frame fails to encode.
func (c *Connection) sendMessage(channel uint16, id protocol.MethodID, args protocol.Arguments, classID uint16, props protocol.Arguments, body []byte) error {
	if c.encoder == nil {
		return connectionLost(nil)
	}
	b, err := c.encoder.Content(channel, id, args, classID, props, body)
	if err != nil {
		return err
	}
	if e := c.logger.Debug(); e.Enabled() {
		e.Uint16("channel", channel).Stringer("method", id).Int("body_size", len(body)).Msg("send")
	}
	if err := c.write(b); err != nil {
		return err
	}

	c.metrics.FrameSent(protocol.FrameMethod)
	c.metrics.FrameSent(protocol.FrameHeader)
	chunk := c.encoder.MaxBodyChunk()
	for n := (len(body) + chunk - 1) / chunk; n > 0; n-- {
		c.metrics.FrameSent(protocol.FrameBody)
	}
	c.monitor.outbound()
	return nil
}

func (c *Connection) sendHeartbeat() {
	if c.encoder == nil {
		return
	}
	if c.write(c.encoder.Heartbeat()) == nil {
		c.metrics.FrameSent(protocol.FrameHeartbeat)
	}
}

// write hands b to the transport. A failed write is reported back through
// the loop so that the caller's own bookkeeping finishes first.
func (c *Connection) write(b []byte) error {
	if c.transport == nil {
		return connectionLost(nil)
	}
	if err := c.transport.Write(b); err != nil {
		gen := c.gen
		c.exec.post(func() { c.onTransportError(gen, err) })
		return connectionLost(err)
	}
	return nil
}

// openChannel assigns an id and opens the channel now or once the
// connection is ready.
func (c *Connection) openChannel(ch *channel) {
	if c.closing || c.state == StateClosed {
		ch.finish(ErrClosed)
		return
	}
	if err := c.register(ch); err != nil {
		ch.finish(err)
		return
	}

	ch.logger = ch.logger.With().Uint16("channel", ch.id).Logger()
	if c.state == StateReady {
		ch.open()
	}
}

func (c *Connection) register(ch *channel) error {
	limit := c.channelMax
	if limit == 0 {
		limit = c.cfg.ChannelMax
	}
	if limit == 0 {
		limit = 65535
	}

	for i := 0; i < int(limit); i++ {
		c.nextChannel++
		if c.nextChannel == 0 || c.nextChannel > limit {
			c.nextChannel = 1
		}
		if _, used := c.channels[c.nextChannel]; !used {
			ch.id = c.nextChannel
			c.channels[ch.id] = ch
			return nil
		}
	}
	return NewError(protocol.ReplyResourceError, fmt.Sprintf("all %d channel ids in use", limit), false)
}

func (c *Connection) unregister(ch *channel) {
	if c.channels[ch.id] == ch {
		delete(c.channels, ch.id)
	}
}

func (c *Connection) sortedChannels() []*channel {
	ids := make([]int, 0, len(c.channels))
	for id := range c.channels {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	out := make([]*channel, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.channels[uint16(id)])
	}
	return out
}

func stopTimer(t *timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
