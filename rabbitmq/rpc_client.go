package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// RpcClient implements request/reply over an exclusive, server-named reply
// queue. Replies are matched to calls by correlation id.
type RpcClient struct {
	conn  *Connection
	queue *Queue
	ready *Future[string]

	mu      sync.Mutex
	pending map[string]*Future[*Delivery]
	closed  bool
}

// NewRpcClient declares the reply queue and starts consuming from it.
func NewRpcClient(conn *Connection) *RpcClient {
	c := &RpcClient{
		conn:    conn,
		queue:   conn.Queue("", QueueOptions{Exclusive: true}),
		pending: make(map[string]*Future[*Delivery]),
	}
	c.ready = c.queue.Subscribe(SubscribeOptions{
		ConsumerTagPrefix: "rpc-client",
		AutoAck:           true,
	}, c.dispatch)
	return c
}

// ReplyQueue returns the reply queue name once it is known.
func (c *RpcClient) ReplyQueue() string {
	return c.queue.Name()
}

// Call publishes body through ex (the default exchange when nil) and waits
// for the matching reply.
func (c *RpcClient) Call(ctx context.Context, ex *Exchange, routingKey string, body []byte, opts PublishOptions) (*Delivery, error) {
	if _, err := c.ready.Wait(ctx); err != nil {
		return nil, fmt.Errorf("reply queue not ready: %w", err)
	}

	correlationId := uuid.NewString()
	reply := newFuture[*Delivery]()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("RPC client is closed: %w", ErrClosed)
	}
	c.pending[correlationId] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, correlationId)
		c.mu.Unlock()
	}()

	opts.ReplyTo = c.queue.Name()
	opts.CorrelationId = correlationId

	var published *Future[struct{}]
	if ex == nil {
		published = c.conn.Publish(routingKey, body, opts)
	} else {
		published = ex.Publish(routingKey, body, opts)
	}
	if _, err := published.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to publish RPC request: %w", err)
	}

	return reply.Wait(ctx)
}

// dispatch routes a reply to its pending call. Replies nobody waits for are
// dropped.
func (c *RpcClient) dispatch(d *Delivery) {
	correlationId := d.Properties.CorrelationId
	if correlationId == "" {
		return
	}

	c.mu.Lock()
	reply, ok := c.pending[correlationId]
	c.mu.Unlock()
	if !ok {
		c.queue.ch.logger.Debug().Str("correlation_id", correlationId).Msg("dropping unmatched RPC reply")
		return
	}

	// The reply queue auto-acks, so the copy must not be settled again.
	out := *d
	out.ch = nil
	reply.resolve(&out)
}

// Close fails pending calls and closes the reply queue's channel.
func (c *RpcClient) Close() *Future[struct{}] {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.queue.Close()
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]*Future[*Delivery])
	c.mu.Unlock()

	for _, f := range pending {
		f.fail(fmt.Errorf("RPC client closed: %w", ErrClosed))
	}
	return c.queue.Close()
}
