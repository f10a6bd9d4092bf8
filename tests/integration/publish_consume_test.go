package integration

import (
	"testing"
	"time"

	"github.com/israelio/amqp-engine/rabbitmq"
)

// TestBasicPublishConsume tests basic publish and consume through the
// default exchange
func TestBasicPublishConsume(t *testing.T) {
	conn := NewTestConnection(t)

	queue := conn.Queue(GenerateQueueName(t), rabbitmq.QueueOptions{})
	Await(t, queue.Ready(), 5*time.Second)
	defer queue.Destroy(false, false)

	handler, deliveries := Collect(1)
	Await(t, queue.Subscribe(rabbitmq.SubscribeOptions{AutoAck: true}, handler), 5*time.Second)

	messageBody := []byte("Hello, RabbitMQ!")
	Await(t, conn.Publish(queue.Name(), messageBody, rabbitmq.PublishOptions{
		Properties: rabbitmq.Properties{ContentType: "text/plain"},
	}), 5*time.Second)

	delivery := Receive(t, deliveries, 5*time.Second)
	if string(delivery.Body) != string(messageBody) {
		t.Errorf("Message body mismatch: got %q, want %q", delivery.Body, messageBody)
	}
	if delivery.Exchange != "" {
		t.Errorf("Exchange: got %q, want empty", delivery.Exchange)
	}
	if delivery.RoutingKey != queue.Name() {
		t.Errorf("RoutingKey: got %q, want %q", delivery.RoutingKey, queue.Name())
	}
	if delivery.Properties.ContentType != "text/plain" {
		t.Errorf("ContentType: got %q, want text/plain", delivery.Properties.ContentType)
	}
}

// TestManualAckAndPurge tests explicit acknowledgements and queue purge
func TestManualAckAndPurge(t *testing.T) {
	conn := NewTestConnection(t)

	queue := conn.Queue(GenerateQueueName(t), rabbitmq.QueueOptions{})
	Await(t, queue.Ready(), 5*time.Second)
	defer queue.Destroy(false, false)

	for i := 0; i < 3; i++ {
		Await(t, conn.Publish(queue.Name(), []byte("backlog"), rabbitmq.PublishOptions{}), 5*time.Second)
	}

	// Give the broker a moment to enqueue before counting.
	time.Sleep(200 * time.Millisecond)
	if n := Await(t, queue.Purge(), 5*time.Second); n != 3 {
		t.Errorf("Purge: got %d messages, want 3", n)
	}

	handler, deliveries := Collect(1)
	Await(t, queue.Subscribe(rabbitmq.SubscribeOptions{PrefetchCount: 1}, handler), 5*time.Second)
	Await(t, conn.Publish(queue.Name(), []byte("ack me"), rabbitmq.PublishOptions{}), 5*time.Second)

	d := Receive(t, deliveries, 5*time.Second)
	if err := d.Ack(false); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
}

// TestLargeMessage tests a body spanning many frames
func TestLargeMessage(t *testing.T) {
	conn := NewTestConnection(t, rabbitmq.WithFrameMax(4096))

	queue := conn.Queue(GenerateQueueName(t), rabbitmq.QueueOptions{})
	Await(t, queue.Ready(), 5*time.Second)
	defer queue.Destroy(false, false)

	handler, deliveries := Collect(1)
	Await(t, queue.Subscribe(rabbitmq.SubscribeOptions{AutoAck: true}, handler), 5*time.Second)

	body := make([]byte, 100*1024)
	for i := range body {
		body[i] = byte(i)
	}
	Await(t, conn.Publish(queue.Name(), body, rabbitmq.PublishOptions{}), 5*time.Second)

	d := Receive(t, deliveries, 10*time.Second)
	if len(d.Body) != len(body) {
		t.Fatalf("Body length: got %d, want %d", len(d.Body), len(body))
	}
	for i := range body {
		if d.Body[i] != body[i] {
			t.Fatalf("Body differs at byte %d", i)
		}
	}
}
