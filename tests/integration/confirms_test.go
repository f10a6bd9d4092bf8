package integration

import (
	"testing"
	"time"

	"github.com/israelio/amqp-engine/rabbitmq"
)

// TestPublisherConfirms tests that confirmed publishes resolve on the
// broker's ack
func TestPublisherConfirms(t *testing.T) {
	conn := NewTestConnection(t)

	exchange := conn.Exchange(GenerateExchangeName(t), rabbitmq.ExchangeOptions{
		Type:    rabbitmq.ExchangeDirect,
		Confirm: true,
	})
	queue := conn.Queue(GenerateQueueName(t), rabbitmq.QueueOptions{})
	defer exchange.Destroy(false)
	defer queue.Destroy(false, false)
	Await(t, exchange.Ready(), 5*time.Second)
	Await(t, queue.Bind(exchange.Name(), "key"), 5*time.Second)

	futures := make([]*rabbitmq.Future[struct{}], 10)
	for i := range futures {
		futures[i] = exchange.Publish("key", []byte("confirmed"), rabbitmq.PublishOptions{})
	}
	for i, f := range futures {
		if _, err := f.WaitTimeout(5 * time.Second); err != nil {
			t.Errorf("publish %d: %v", i, err)
		}
	}
}

// TestMandatoryReturn tests that an unroutable mandatory publish comes back
func TestMandatoryReturn(t *testing.T) {
	conn := NewTestConnection(t)

	exchange := conn.Exchange(GenerateExchangeName(t), rabbitmq.ExchangeOptions{Type: rabbitmq.ExchangeDirect})
	defer exchange.Destroy(false)
	Await(t, exchange.Ready(), 5*time.Second)

	returns := make(chan rabbitmq.Return, 1)
	exchange.OnReturn(func(r rabbitmq.Return) { returns <- r })

	Await(t, exchange.Publish("nowhere", []byte("lost"), rabbitmq.PublishOptions{Mandatory: true}), 5*time.Second)

	select {
	case r := <-returns:
		if r.ReplyCode != 312 {
			t.Errorf("ReplyCode: got %d, want 312", r.ReplyCode)
		}
		if string(r.Body) != "lost" {
			t.Errorf("Body: got %q, want lost", r.Body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for return")
	}
}
