package integration

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/israelio/amqp-engine/rabbitmq"
)

// envPrefix selects RABBITMQ_HOST, RABBITMQ_PORT, RABBITMQ_URL and friends.
const envPrefix = "RABBITMQ"

// GetTestConfig returns the broker settings from the environment, with
// reconnect disabled so a missing broker fails fast.
func GetTestConfig(t *testing.T, opts ...rabbitmq.Option) rabbitmq.Config {
	t.Helper()
	cfg, err := rabbitmq.LoadConfig(envPrefix, append([]rabbitmq.Option{
		rabbitmq.WithReconnect(false),
		rabbitmq.WithConnectionTimeout(2 * time.Second),
	}, opts...)...)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	return cfg
}

// NewTestConnection connects to the broker or skips the test.
func NewTestConnection(t *testing.T, opts ...rabbitmq.Option) *rabbitmq.Connection {
	t.Helper()
	cfg := GetTestConfig(t, opts...)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := rabbitmq.Dial(ctx, cfg)
	if err != nil {
		t.Skipf("RabbitMQ not available at %s - skipping test: %v", strings.Join(cfg.Hosts, ","), err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		conn.Close(ctx)
	})
	return conn
}

// GenerateQueueName generates a unique queue name for testing
func GenerateQueueName(t *testing.T) string {
	return fmt.Sprintf("test.queue.%s.%d", sanitize(t.Name()), time.Now().UnixNano())
}

// GenerateExchangeName generates a unique exchange name for testing
func GenerateExchangeName(t *testing.T) string {
	return fmt.Sprintf("test.exchange.%s.%d", sanitize(t.Name()), time.Now().UnixNano())
}

func sanitize(name string) string {
	return strings.ReplaceAll(name, "/", ".")
}

// Await waits for f or fails the test after timeout.
func Await[T any](t *testing.T, f *rabbitmq.Future[T], timeout time.Duration) T {
	t.Helper()
	v, err := f.WaitTimeout(timeout)
	if err != nil {
		t.Fatalf("operation failed: %v", err)
	}
	return v
}

// Receive waits for the next delivery on ch.
func Receive(t *testing.T, ch <-chan *rabbitmq.Delivery, timeout time.Duration) *rabbitmq.Delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(timeout):
		t.Fatal("Timeout waiting for message")
		return nil
	}
}

// Collect returns a subscribe handler that forwards deliveries to a
// buffered channel.
func Collect(size int) (func(*rabbitmq.Delivery), <-chan *rabbitmq.Delivery) {
	ch := make(chan *rabbitmq.Delivery, size)
	return func(d *rabbitmq.Delivery) {
		select {
		case ch <- d:
		default:
		}
	}, ch
}
