package rabbitmq

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// transport is the byte pipe under a connection. Write is called from the
// event loop only.
type transport interface {
	Write(p []byte) error
	Close() error
}

// transportEvents reports transport activity back to the connection. Every
// event carries the generation of the attempt that produced it, and the loop
// ignores events from older generations.
type transportEvents struct {
	c   *Connection
	gen uint64
}

func (e transportEvents) connected(t transport) {
	if !e.c.exec.post(func() { e.c.onConnected(e.gen, t) }) {
		_ = t.Close()
	}
}

func (e transportEvents) data(b []byte) {
	e.c.exec.post(func() { e.c.onData(e.gen, b) })
}

func (e transportEvents) failed(err error) {
	e.c.exec.post(func() { e.c.onTransportError(e.gen, err) })
}

// dialer starts a connection attempt and reports its outcome through events.
// It must not block the caller.
type dialer interface {
	dial(addr string, events transportEvents)
}

// netDialer dials TCP, optionally wrapped in TLS, and runs a reader goroutine
// per connection.
type netDialer struct {
	timeout time.Duration
	tls     *tls.Config
	// dialContext defaults to net.Dialer.DialContext
	dialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

func newNetDialer(cfg Config) *netDialer {
	return &netDialer{timeout: cfg.ConnectionTimeout, tls: cfg.TLS}
}

func (d *netDialer) dial(addr string, events transportEvents) {
	go func() {
		conn, err := d.open(addr)
		if err != nil {
			events.failed(err)
			return
		}

		t := &netTransport{conn: conn}
		events.connected(t)
		t.readLoop(events)
	}()
}

func (d *netDialer) open(addr string) (net.Conn, error) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	dialContext := d.dialContext
	if dialContext == nil {
		dialContext = (&net.Dialer{}).DialContext
	}

	conn, err := dialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	if d.tls != nil {
		cfg := d.tls.Clone()
		if cfg.ServerName == "" {
			if host, _, err := net.SplitHostPort(addr); err == nil {
				cfg.ServerName = host
			}
		}
		tlsConn := tls.Client(conn, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
		}
		conn = tlsConn
	}
	return conn, nil
}

type netTransport struct {
	conn net.Conn
}

func (t *netTransport) Write(p []byte) error {
	_, err := t.conn.Write(p)
	return err
}

func (t *netTransport) Close() error {
	return t.conn.Close()
}

// readLoop posts a private copy of every chunk read until the connection
// fails or is closed.
func (t *netTransport) readLoop(events transportEvents) {
	buf := make([]byte, 64*1024)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			events.data(append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			events.failed(err)
			return
		}
	}
}
