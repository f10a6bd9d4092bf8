package rabbitmq

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/israelio/amqp-engine/internal/frame"
	"github.com/israelio/amqp-engine/internal/protocol"
)

// syncExecutor runs posted closures inline on whichever goroutine posts
// first; posts made while a closure runs are queued behind it.
type syncExecutor struct {
	mu      sync.Mutex
	queue   []func()
	running bool
	stopped bool
}

func (e *syncExecutor) post(fn func()) bool {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return false
	}
	e.queue = append(e.queue, fn)
	if e.running {
		e.mu.Unlock()
		return true
	}

	e.running = true
	for len(e.queue) > 0 {
		next := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()
		next()
		e.mu.Lock()
	}
	e.running = false
	e.mu.Unlock()
	return true
}

func (e *syncExecutor) stop() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
}

// fakeScheduler is a manual clock. Timers fire only from Advance.
type fakeScheduler struct {
	exec executor

	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	s       *fakeScheduler
	at      time.Duration
	seq     int
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() {
	t.s.mu.Lock()
	t.stopped = true
	t.s.mu.Unlock()
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &fakeTimer{s: s, at: s.now + d, seq: s.seq, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// Advance moves the clock forward, firing due timers in order.
func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	for {
		var next *fakeTimer
		for _, t := range s.timers {
			if t.stopped || t.at > target {
				continue
			}
			if next == nil || t.at < next.at || (t.at == next.at && t.seq < next.seq) {
				next = t
			}
		}
		if next == nil {
			break
		}
		next.stopped = true
		s.now = next.at
		s.mu.Unlock()
		s.exec.post(next.fn)
		s.mu.Lock()
	}
	s.now = target

	live := s.timers[:0]
	for _, t := range s.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	s.timers = live
	s.mu.Unlock()
}

// pending reports how many timers are armed.
func (s *fakeScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

type fakeTransport struct {
	mu       sync.Mutex
	buf      []byte
	closed   bool
	writeErr error
}

func (t *fakeTransport) Write(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return net.ErrClosed
	}
	if t.writeErr != nil {
		return t.writeErr
	}
	t.buf = append(t.buf, p...)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.buf...)
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeDialer struct {
	mu     sync.Mutex
	addrs  []string
	events []transportEvents
}

func (d *fakeDialer) dial(addr string, events transportEvents) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addrs = append(d.addrs, addr)
	d.events = append(d.events, events)
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.addrs)
}

func (d *fakeDialer) last() (string, transportEvents) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.addrs)
	return d.addrs[n-1], d.events[n-1]
}

// recorder captures listener callbacks.
type recorder struct {
	mu        sync.Mutex
	ready     int
	closed    int
	closeErr  error
	errs      []error
	blocked   []string
	unblocked int
}

func (r *recorder) OnConnectionReady(*Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready++
}

func (r *recorder) OnConnectionClosed(_ *Connection, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	r.closeErr = err
}

func (r *recorder) OnConnectionError(_ *Connection, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) OnConnectionBlocked(_ *Connection, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocked = append(r.blocked, reason)
}

func (r *recorder) OnConnectionUnblocked(*Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unblocked++
}

// harness plays the broker against a Connection driven by a syncExecutor
// and a fakeScheduler.
type harness struct {
	t      *testing.T
	conn   *Connection
	exec   *syncExecutor
	sched  *fakeScheduler
	dialer *fakeDialer
	rec    *recorder

	tr     *fakeTransport
	events transportEvents
	enc    *frame.Encoder
	dec    *frame.Decoder
	read   int
	frames []frame.Frame
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	exec := &syncExecutor{}
	sched := &fakeScheduler{exec: exec}
	d := &fakeDialer{}
	conn := newConnection(NewConfig(opts...), exec, sched, d)
	rec := &recorder{}
	conn.AddConnectionListener(rec)

	return &harness{
		t:      t,
		conn:   conn,
		exec:   exec,
		sched:  sched,
		dialer: d,
		rec:    rec,
		enc:    frame.NewEncoder(protocol.AMQP091, 0),
	}
}

// accept completes the latest dial with a fresh transport and checks the
// preamble.
func (h *harness) accept() *fakeTransport {
	h.t.Helper()

	_, events := h.dialer.last()
	h.tr = &fakeTransport{}
	h.events = events
	h.dec = frame.NewDecoder(0)
	h.read = 0
	h.frames = nil

	events.connected(h.tr)

	out := h.tr.bytes()
	require.GreaterOrEqual(h.t, len(out), 8, "preamble not written")
	require.Equal(h.t, protocol.ProtocolHeader091, string(out[:8]))
	h.read = 8
	return h.tr
}

// handshake plays connection.start through open-ok. A nil tune uses
// channelMax 2047, frameMax 131072 and no heartbeat.
func (h *harness) handshake(tune protocol.Arguments) {
	h.t.Helper()

	h.accept()
	h.send(0, protocol.ConnectionStart, protocol.Arguments{
		"versionMajor": protocol.Octet(0),
		"versionMinor": protocol.Octet(9),
		"serverProperties": protocol.Table{
			{Key: "product", Value: protocol.String("RabbitMQ")},
		},
		"mechanisms": protocol.String("AMQPLAIN PLAIN"),
		"locales":    protocol.String("en_US"),
	})
	h.expectMethod(0, protocol.ConnectionStartOk)

	if tune == nil {
		tune = protocol.Arguments{
			"channelMax": protocol.Short(2047),
			"frameMax":   protocol.Long(protocol.FrameMaxDefault),
			"heartbeat":  protocol.Short(0),
		}
	}
	h.send(0, protocol.ConnectionTune, tune)
	h.expectMethod(0, protocol.ConnectionTuneOk)
	h.expectMethod(0, protocol.ConnectionOpen)
	h.send(0, protocol.ConnectionOpenOk, nil)
	require.Equal(h.t, StateReady, h.conn.State())
}

// ready connects and completes the handshake.
func (h *harness) ready() {
	h.t.Helper()

	f := h.conn.Connect()
	h.handshake(nil)
	_, err := f.Result()
	require.NoError(h.t, err)
}

// drop fails the current transport.
func (h *harness) drop(err error) {
	h.events.failed(err)
}

func (h *harness) send(ch uint16, id protocol.MethodID, args protocol.Arguments) {
	h.t.Helper()
	b, err := h.enc.Method(ch, id, args)
	require.NoError(h.t, err)
	h.events.data(append([]byte(nil), b...))
}

func (h *harness) sendContent(ch uint16, props Properties, body []byte) {
	h.t.Helper()
	hdr, err := h.enc.ContentHeader(ch, protocol.ClassBasic, uint64(len(body)), props.arguments())
	require.NoError(h.t, err)
	wire := append([]byte(nil), hdr...)
	wire = append(wire, h.enc.ContentBody(ch, body)...)
	h.events.data(wire)
}

func (h *harness) sendHeartbeat() {
	h.events.data(append([]byte(nil), h.enc.Heartbeat()...))
}

// pull decodes whatever the client wrote since the last call.
func (h *harness) pull() {
	h.t.Helper()
	out := h.tr.bytes()
	if h.read >= len(out) {
		return
	}
	frames, err := h.dec.Decode(out[h.read:])
	require.NoError(h.t, err)
	h.read = len(out)
	h.frames = append(h.frames, frames...)
}

func (h *harness) nextFrame() frame.Frame {
	h.t.Helper()
	h.pull()
	require.NotEmpty(h.t, h.frames, "client wrote no further frames")
	f := h.frames[0]
	h.frames = h.frames[1:]
	return f
}

func (h *harness) expectMethod(ch uint16, id protocol.MethodID) *frame.Method {
	h.t.Helper()
	f := h.nextFrame()
	require.Equal(h.t, uint8(protocol.FrameMethod), f.Type, "got %s", f)
	require.Equal(h.t, ch, f.Channel, "got %s", f)
	m, err := frame.ParseMethod(protocol.AMQP091, f.Payload)
	require.NoError(h.t, err)
	require.Equal(h.t, id, m.ID, "got %s, want %s", m.Name(), id)
	return m
}

func (h *harness) expectContent(ch uint16) (*frame.ContentHeader, []byte) {
	h.t.Helper()
	f := h.nextFrame()
	require.Equal(h.t, uint8(protocol.FrameHeader), f.Type, "got %s", f)
	require.Equal(h.t, ch, f.Channel)
	hdr, err := frame.ParseContentHeader(protocol.AMQP091, f.Payload)
	require.NoError(h.t, err)

	var body []byte
	for uint64(len(body)) < hdr.BodySize {
		f := h.nextFrame()
		require.Equal(h.t, uint8(protocol.FrameBody), f.Type, "got %s", f)
		body = append(body, f.Payload...)
	}
	return hdr, body
}

func (h *harness) expectQuiet() {
	h.t.Helper()
	h.pull()
	require.Empty(h.t, h.frames, "unexpected frames from client")
}

const serverQueueName = "amq.gen-test"

// openQueue opens a queue's channel and answers its declare. An empty name
// is answered with serverQueueName.
func (h *harness) openQueue(ch uint16, name string, opts QueueOptions) *Queue {
	h.t.Helper()
	q := h.conn.Queue(name, opts)
	h.acceptQueue(ch, name)
	return q
}

func (h *harness) acceptQueue(ch uint16, name string) {
	h.t.Helper()
	h.expectMethod(ch, protocol.ChannelOpen)
	h.send(ch, protocol.ChannelOpenOk, nil)
	h.expectMethod(ch, protocol.QueueDeclare)
	if name == "" {
		name = serverQueueName
	}
	h.send(ch, protocol.QueueDeclareOk, protocol.Arguments{"queue": protocol.ShortString(name)})
}

// openExchange opens an exchange's channel and answers its declare and
// confirm.select.
func (h *harness) openExchange(ch uint16, name string, opts ExchangeOptions) *Exchange {
	h.t.Helper()
	ex := h.conn.Exchange(name, opts)
	h.acceptExchange(ch, name, opts)
	return ex
}

func (h *harness) acceptExchange(ch uint16, name string, opts ExchangeOptions) {
	h.t.Helper()
	h.expectMethod(ch, protocol.ChannelOpen)
	h.send(ch, protocol.ChannelOpenOk, nil)
	if !opts.NoDeclare && !predefinedExchange(name) {
		h.expectMethod(ch, protocol.ExchangeDeclare)
		h.send(ch, protocol.ExchangeDeclareOk, nil)
	}
	if opts.Confirm {
		h.expectMethod(ch, protocol.ConfirmSelect)
		h.send(ch, protocol.ConfirmSelectOk, nil)
	}
}

// subscribe starts a consumer and answers its consume, returning the tag
// sent on the wire.
func (h *harness) subscribe(ch uint16, q *Queue, opts SubscribeOptions, handler func(*Delivery)) (*Future[string], string) {
	h.t.Helper()
	f := q.Subscribe(opts, handler)
	tag := h.acceptConsume(ch)
	return f, tag
}

func (h *harness) acceptConsume(ch uint16) string {
	h.t.Helper()
	m := h.expectMethod(ch, protocol.BasicConsume)
	tag := m.Args.String("consumerTag")
	h.send(ch, protocol.BasicConsumeOk, protocol.Arguments{"consumerTag": protocol.ShortString(tag)})
	return tag
}

func boolPtr(b bool) *bool { return &b }
