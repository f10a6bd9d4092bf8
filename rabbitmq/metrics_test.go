package rabbitmq

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/israelio/amqp-engine/internal/protocol"
)

// TestPrometheusMetricsBasic tests basic metrics collection
func TestPrometheusMetricsBasic(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(reg, "test")

	metrics.ConnectionReady()
	metrics.ChannelOpened()
	metrics.MessagePublished()
	metrics.MessagePublished()
	metrics.MessageDelivered()
	metrics.ConfirmReceived(true)
	metrics.ConfirmReceived(false)
	metrics.ConfirmReceived(true)
	metrics.ConnectionError(errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.connectionsReady))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.channelsOpened))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.messagesPublished))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.messagesDelivered))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.connectionErrors))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.confirms.WithLabelValues("ack")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.confirms.WithLabelValues("nack")))

	expected := `
# HELP test_messages_published_total Messages written with basic.publish
# TYPE test_messages_published_total counter
test_messages_published_total 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_messages_published_total"))
}

func TestPrometheusMetricsFrameLabels(t *testing.T) {
	metrics := NewPrometheusMetrics(prometheus.NewRegistry(), "")

	for _, ft := range []uint8{protocol.FrameMethod, protocol.FrameHeader, protocol.FrameBody, protocol.FrameBody, protocol.FrameHeartbeat, 42} {
		metrics.FrameSent(ft)
	}

	tests := []struct {
		label string
		want  float64
	}{
		{"method", 1},
		{"header", 1},
		{"body", 2},
		{"heartbeat", 1},
		{"unknown", 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(metrics.framesSent.WithLabelValues(tt.label)); got != tt.want {
			t.Errorf("frames_sent_total{type=%q}: got %v, want %v", tt.label, got, tt.want)
		}
	}
}

func TestPrometheusMetricsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusMetrics(reg, "dup")

	assert.Panics(t, func() { NewPrometheusMetrics(reg, "dup") }, "promauto panics on a second registration")
	assert.NotPanics(t, func() { NewPrometheusMetrics(reg, "other") })
}

// TestConnectionMetrics drives a connection through a publish, a delivery
// and a reconnect and checks what was counted.
func TestConnectionMetrics(t *testing.T) {
	metrics := NewPrometheusMetrics(prometheus.NewRegistry(), "amqp")
	h := newHarness(t, WithMetrics(metrics))
	h.ready()

	ex := h.openExchange(1, "events", ExchangeOptions{Confirm: true})
	ex.Publish("k", []byte("payload"), PublishOptions{})
	h.expectMethod(1, protocol.BasicPublish)
	h.expectContent(1)
	h.send(1, protocol.BasicAck, protocol.Arguments{"deliveryTag": protocol.LongLong(1)})

	q := h.openQueue(2, "jobs", QueueOptions{})
	_, tag := h.subscribe(2, q, SubscribeOptions{AutoAck: true}, func(*Delivery) {})
	h.deliver(2, tag, 1, Properties{}, "hello")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.connectionsReady))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.channelsOpened))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.messagesPublished))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.messagesDelivered))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.confirms.WithLabelValues("ack")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.framesSent.WithLabelValues("header")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.framesSent.WithLabelValues("body")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.framesReceived.WithLabelValues("header")))

	h.drop(io.ErrUnexpectedEOF)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.connectionErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.reconnects))

	h.sched.Advance(time.Second)
	h.handshake(nil)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.connectionsReady))
}

func TestNoOpMetricsCollector(t *testing.T) {
	var m MetricsCollector = NewNoOpMetricsCollector()
	assert.NotPanics(t, func() {
		m.ConnectionReady()
		m.ConnectionError(io.EOF)
		m.FrameSent(protocol.FrameMethod)
		m.ConfirmReceived(false)
	})

	// A config without a collector falls back to the no-op one.
	assert.IsType(t, &NoOpMetricsCollector{}, Config{}.metrics())
}
