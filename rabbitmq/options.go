package rabbitmq

import (
	"crypto/tls"
	"time"

	"github.com/rs/zerolog"

	"github.com/israelio/amqp-engine/internal/protocol"
)

// Option is a functional option for Config
type Option func(*Config)

// WithHost sets a single host to connect to
func WithHost(host string) Option {
	return func(c *Config) {
		c.Hosts = []string{host}
	}
}

// WithHosts sets the hosts tried round-robin on reconnect
func WithHosts(hosts ...string) Option {
	return func(c *Config) {
		c.Hosts = append([]string(nil), hosts...)
	}
}

// WithHostPreference sets the index of the host tried first
func WithHostPreference(index int) Option {
	return func(c *Config) {
		c.HostPreference = index
	}
}

// WithPort sets the port to connect to
func WithPort(port int) Option {
	return func(c *Config) {
		c.Port = port
	}
}

// WithCredentials sets the login and password
func WithCredentials(login, password string) Option {
	return func(c *Config) {
		c.Login = login
		c.Password = password
	}
}

// WithVHost sets the virtual host
func WithVHost(vhost string) Option {
	return func(c *Config) {
		c.VHost = vhost
	}
}

// WithAuthMechanism selects AMQPLAIN or PLAIN
func WithAuthMechanism(mechanism string) Option {
	return func(c *Config) {
		c.AuthMechanism = mechanism
	}
}

// WithDialect selects the protocol preamble
func WithDialect(d protocol.Dialect) Option {
	return func(c *Config) {
		c.Dialect = d
	}
}

// WithTLS enables TLS with the given configuration. The port moves to 5671
// unless it was changed from the default.
func WithTLS(config *tls.Config) Option {
	return func(c *Config) {
		c.TLS = config
		if config != nil && c.Port == DefaultPort {
			c.Port = DefaultTLSPort
		}
	}
}

// WithConnectionTimeout sets the dial timeout
func WithConnectionTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.ConnectionTimeout = timeout
	}
}

// WithHandshakeTimeout sets the handshake timeout
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.HandshakeTimeout = timeout
	}
}

// WithHeartbeat sets the heartbeat interval
func WithHeartbeat(interval time.Duration) Option {
	return func(c *Config) {
		c.Heartbeat = interval
	}
}

// WithChannelMax sets the maximum number of channels
func WithChannelMax(max uint16) Option {
	return func(c *Config) {
		c.ChannelMax = max
	}
}

// WithFrameMax sets the maximum frame size
func WithFrameMax(max uint32) Option {
	return func(c *Config) {
		c.FrameMax = max
	}
}

// WithReconnect enables or disables automatic reconnection
func WithReconnect(enabled bool) Option {
	return func(c *Config) {
		c.Reconnect = enabled
	}
}

// WithReconnectBackoff sets the reconnect strategy, its base delay and, for
// the exponential strategy, the delay cap.
func WithReconnectBackoff(strategy ReconnectStrategy, base, limit time.Duration) Option {
	return func(c *Config) {
		c.ReconnectStrategy = strategy
		c.ReconnectBackoffTime = base
		if limit > 0 {
			c.ReconnectExponentialLimit = limit
		}
	}
}

// WithLocale sets the locale sent in connection.start-ok
func WithLocale(locale string) Option {
	return func(c *Config) {
		c.Locale = locale
	}
}

// WithDefaultExchange sets the exchange used by Connection.Publish
func WithDefaultExchange(name string) Option {
	return func(c *Config) {
		c.DefaultExchangeName = name
	}
}

// WithClientProperties merges custom client properties
func WithClientProperties(properties Table) Option {
	return func(c *Config) {
		c.ClientProperties = c.ClientProperties.Merge(properties)
	}
}

// WithClientProperty sets a single client property
func WithClientProperty(key string, value protocol.Value) Option {
	return func(c *Config) {
		c.ClientProperties = c.ClientProperties.Clone()
		c.ClientProperties.Set(key, value)
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics MetricsCollector) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}
