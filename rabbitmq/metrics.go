package rabbitmq

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/israelio/amqp-engine/internal/protocol"
)

// MetricsCollector collects metrics for engine operations. Every method is
// called from the connection's event loop.
type MetricsCollector interface {
	// Connection metrics
	ConnectionReady()
	ConnectionClosed()
	ConnectionError(err error)
	ReconnectScheduled()
	HeartbeatTimeout()

	// Channel metrics
	ChannelOpened()
	ChannelClosed()

	// Frame metrics
	FrameReceived(frameType uint8)
	FrameSent(frameType uint8)

	// Message metrics
	MessagePublished()
	MessageDelivered()
	MessageReturned()

	// Publisher confirm metrics
	ConfirmReceived(ack bool)
}

// PrometheusMetrics exports engine metrics as Prometheus counters.
type PrometheusMetrics struct {
	connectionsReady  prometheus.Counter
	connectionsClosed prometheus.Counter
	connectionErrors  prometheus.Counter
	reconnects        prometheus.Counter
	heartbeatTimeouts prometheus.Counter

	channelsOpened prometheus.Counter
	channelsClosed prometheus.Counter

	framesReceived *prometheus.CounterVec
	framesSent     *prometheus.CounterVec

	messagesPublished prometheus.Counter
	messagesDelivered prometheus.Counter
	messagesReturned  prometheus.Counter

	confirms *prometheus.CounterVec
}

// NewPrometheusMetrics registers the engine counters with reg under
// namespace. A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "amqp"
	}
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}

	return &PrometheusMetrics{
		connectionsReady:  counter("connections_ready_total", "Connections that completed the handshake"),
		connectionsClosed: counter("connections_closed_total", "Connections closed for good"),
		connectionErrors:  counter("connection_errors_total", "Transport, liveness and server connection errors"),
		reconnects:        counter("reconnects_total", "Reconnect attempts scheduled"),
		heartbeatTimeouts: counter("heartbeat_timeouts_total", "Connections declared dead by the heartbeat monitor"),

		channelsOpened: counter("channels_opened_total", "Channels that reached the open state"),
		channelsClosed: counter("channels_closed_total", "Channels closed by client or server"),

		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames decoded from the transport",
		}, []string{"type"}),
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written to the transport",
		}, []string{"type"}),

		messagesPublished: counter("messages_published_total", "Messages written with basic.publish"),
		messagesDelivered: counter("messages_delivered_total", "Messages handed to consumers"),
		messagesReturned:  counter("messages_returned_total", "Messages returned as unroutable"),

		confirms: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirms_total",
			Help:      "Publisher confirms by result",
		}, []string{"result"}),
	}
}

func (m *PrometheusMetrics) ConnectionReady()        { m.connectionsReady.Inc() }
func (m *PrometheusMetrics) ConnectionClosed()       { m.connectionsClosed.Inc() }
func (m *PrometheusMetrics) ConnectionError(_ error) { m.connectionErrors.Inc() }
func (m *PrometheusMetrics) ReconnectScheduled()     { m.reconnects.Inc() }
func (m *PrometheusMetrics) HeartbeatTimeout()       { m.heartbeatTimeouts.Inc() }
func (m *PrometheusMetrics) ChannelOpened()          { m.channelsOpened.Inc() }
func (m *PrometheusMetrics) ChannelClosed()          { m.channelsClosed.Inc() }
func (m *PrometheusMetrics) MessagePublished()       { m.messagesPublished.Inc() }
func (m *PrometheusMetrics) MessageDelivered()       { m.messagesDelivered.Inc() }
func (m *PrometheusMetrics) MessageReturned()        { m.messagesReturned.Inc() }

func (m *PrometheusMetrics) FrameReceived(frameType uint8) {
	m.framesReceived.WithLabelValues(frameTypeLabel(frameType)).Inc()
}

func (m *PrometheusMetrics) FrameSent(frameType uint8) {
	m.framesSent.WithLabelValues(frameTypeLabel(frameType)).Inc()
}

func (m *PrometheusMetrics) ConfirmReceived(ack bool) {
	if ack {
		m.confirms.WithLabelValues("ack").Inc()
	} else {
		m.confirms.WithLabelValues("nack").Inc()
	}
}

func frameTypeLabel(t uint8) string {
	switch t {
	case protocol.FrameMethod:
		return "method"
	case protocol.FrameHeader:
		return "header"
	case protocol.FrameBody:
		return "body"
	case protocol.FrameHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// NoOpMetricsCollector is a metrics collector that does nothing
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) ConnectionReady()         {}
func (n *NoOpMetricsCollector) ConnectionClosed()        {}
func (n *NoOpMetricsCollector) ConnectionError(error)    {}
func (n *NoOpMetricsCollector) ReconnectScheduled()      {}
func (n *NoOpMetricsCollector) HeartbeatTimeout()        {}
func (n *NoOpMetricsCollector) ChannelOpened()           {}
func (n *NoOpMetricsCollector) ChannelClosed()           {}
func (n *NoOpMetricsCollector) FrameReceived(uint8)      {}
func (n *NoOpMetricsCollector) FrameSent(uint8)          {}
func (n *NoOpMetricsCollector) MessagePublished()        {}
func (n *NoOpMetricsCollector) MessageDelivered()        {}
func (n *NoOpMetricsCollector) MessageReturned()         {}
func (n *NoOpMetricsCollector) ConfirmReceived(ack bool) {}

// NewNoOpMetricsCollector creates a no-op metrics collector
func NewNoOpMetricsCollector() *NoOpMetricsCollector {
	return &NoOpMetricsCollector{}
}
