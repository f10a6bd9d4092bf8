package rabbitmq

import (
	"crypto/tls"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/israelio/amqp-engine/internal/protocol"
)

// Version is reported to the server in the client properties.
const Version = "0.3.0"

// Default connection settings
const (
	DefaultPort              = 5672
	DefaultTLSPort           = 5671
	DefaultHost              = "localhost"
	DefaultVHost             = "/"
	DefaultLogin             = "guest"
	DefaultPassword          = "guest"
	DefaultLocale            = "en_US"
	DefaultContentType       = "application/octet-stream"
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultConnectionTimeout = 60 * time.Second
	DefaultBackoffTime       = time.Second
	DefaultExponentialLimit  = 120 * time.Second
)

// Authentication mechanisms
const (
	AuthAMQPLain = "AMQPLAIN"
	AuthPlain    = "PLAIN"
)

// ReconnectStrategy selects how the delay between reconnect attempts grows.
type ReconnectStrategy string

const (
	ReconnectLinear      ReconnectStrategy = "linear"
	ReconnectExponential ReconnectStrategy = "exponential"
)

// Config holds everything a Connection needs. It is treated as immutable once
// passed to NewConnection; build it with DefaultConfig, NewConfig, LoadConfig
// or ParseURI.
type Config struct {
	// Hosts are tried round-robin on reconnect. Entries may carry a port.
	Hosts []string
	// HostPreference is the index of the host tried first.
	HostPreference int
	Port           int
	Login          string
	Password       string
	VHost          string
	AuthMechanism  string
	Dialect        protocol.Dialect

	// TLS enables TLS on the transport when non-nil.
	TLS *tls.Config

	// Negotiation; zero means no preference.
	Heartbeat  time.Duration
	FrameMax   uint32
	ChannelMax uint16

	Reconnect                 bool
	ReconnectStrategy         ReconnectStrategy
	ReconnectBackoffTime      time.Duration
	ReconnectExponentialLimit time.Duration

	HandshakeTimeout  time.Duration
	ConnectionTimeout time.Duration

	Locale              string
	DefaultExchangeName string
	ClientProperties    protocol.Table

	Logger  zerolog.Logger
	Metrics MetricsCollector
}

// DefaultConfig returns the settings used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Hosts:                     []string{DefaultHost},
		Port:                      DefaultPort,
		Login:                     DefaultLogin,
		Password:                  DefaultPassword,
		VHost:                     DefaultVHost,
		AuthMechanism:             AuthAMQPLain,
		Dialect:                   protocol.Dialect091,
		FrameMax:                  protocol.FrameMaxDefault,
		Reconnect:                 true,
		ReconnectStrategy:         ReconnectLinear,
		ReconnectBackoffTime:      DefaultBackoffTime,
		ReconnectExponentialLimit: DefaultExponentialLimit,
		HandshakeTimeout:          DefaultHandshakeTimeout,
		ConnectionTimeout:         DefaultConnectionTimeout,
		Locale:                    DefaultLocale,
		DefaultExchangeName:       protocol.DefaultExchange,
		Logger:                    zerolog.Nop(),
		Metrics:                   NewNoOpMetricsCollector(),
	}
}

// NewConfig applies opts over DefaultConfig. It never modifies its inputs.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// With returns a copy of cfg with opts applied.
func (cfg Config) With(opts ...Option) Config {
	cfg.Hosts = append([]string(nil), cfg.Hosts...)
	cfg.ClientProperties = cfg.ClientProperties.Clone()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// address returns host:port for the n-th connection attempt, starting at
// HostPreference.
func (cfg Config) address(attempt int) string {
	hosts := cfg.Hosts
	if len(hosts) == 0 {
		hosts = []string{DefaultHost}
	}
	i := (cfg.HostPreference + attempt) % len(hosts)
	if i < 0 {
		i += len(hosts)
	}

	host := hosts[i]
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}

	port := cfg.Port
	if port == 0 {
		port = DefaultPort
		if cfg.TLS != nil {
			port = DefaultTLSPort
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// clientProperties merges user properties over the built-in ones.
func (cfg Config) clientProperties() protocol.Table {
	props := protocol.Table{
		{Key: "product", Value: protocol.String("amqp-engine")},
		{Key: "version", Value: protocol.String(Version)},
		{Key: "platform", Value: protocol.String("Go " + runtime.Version())},
		{Key: "information", Value: protocol.String("https://github.com/israelio/amqp-engine")},
		{Key: "capabilities", Value: protocol.Table{
			{Key: "publisher_confirms", Value: protocol.Bool(true)},
			{Key: "exchange_exchange_bindings", Value: protocol.Bool(true)},
			{Key: "basic.nack", Value: protocol.Bool(true)},
			{Key: "consumer_cancel_notify", Value: protocol.Bool(true)},
			{Key: "connection.blocked", Value: protocol.Bool(true)},
			{Key: "authentication_failure_close", Value: protocol.Bool(true)},
		}},
	}
	return props.Merge(cfg.ClientProperties)
}

func (cfg Config) metrics() MetricsCollector {
	if cfg.Metrics == nil {
		return NewNoOpMetricsCollector()
	}
	return cfg.Metrics
}

// envSettings mirrors Config for environment loading.
type envSettings struct {
	URL                       string        `envconfig:"URL"`
	Host                      []string      `envconfig:"HOST" default:"localhost"`
	Port                      int           `envconfig:"PORT" default:"5672"`
	Login                     string        `envconfig:"LOGIN" default:"guest"`
	Password                  string        `envconfig:"PASSWORD" default:"guest"`
	VHost                     string        `envconfig:"VHOST" default:"/"`
	AuthMechanism             string        `envconfig:"AUTH_MECHANISM" default:"AMQPLAIN"`
	Heartbeat                 time.Duration `envconfig:"HEARTBEAT" default:"0s"`
	FrameMax                  uint32        `envconfig:"FRAME_MAX" default:"131072"`
	ChannelMax                uint16        `envconfig:"CHANNEL_MAX" default:"0"`
	Reconnect                 bool          `envconfig:"RECONNECT" default:"true"`
	ReconnectStrategy         string        `envconfig:"RECONNECT_STRATEGY" default:"linear"`
	ReconnectBackoffTime      time.Duration `envconfig:"RECONNECT_BACKOFF_TIME" default:"1s"`
	ReconnectExponentialLimit time.Duration `envconfig:"RECONNECT_EXPONENTIAL_LIMIT" default:"120s"`
	HandshakeTimeout          time.Duration `envconfig:"HANDSHAKE_TIMEOUT" default:"10s"`
	ConnectionTimeout         time.Duration `envconfig:"CONNECTION_TIMEOUT" default:"60s"`
	Locale                    string        `envconfig:"LOCALE" default:"en_US"`
	DefaultExchange           string        `envconfig:"DEFAULT_EXCHANGE"`
}

// LoadConfig reads settings from environment variables named PREFIX_HOST,
// PREFIX_PORT, PREFIX_URL and so on. A URL, when set, overrides the host,
// port, credentials and vhost. opts are applied last.
func LoadConfig(prefix string, opts ...Option) (Config, error) {
	var env envSettings
	if err := envconfig.Process(prefix, &env); err != nil {
		return Config{}, fmt.Errorf("unable to parse amqp configuration: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Hosts = env.Host
	cfg.Port = env.Port
	cfg.Login = env.Login
	cfg.Password = env.Password
	cfg.VHost = env.VHost
	cfg.AuthMechanism = env.AuthMechanism
	cfg.Heartbeat = env.Heartbeat
	cfg.FrameMax = env.FrameMax
	cfg.ChannelMax = env.ChannelMax
	cfg.Reconnect = env.Reconnect
	cfg.ReconnectStrategy = ReconnectStrategy(env.ReconnectStrategy)
	cfg.ReconnectBackoffTime = env.ReconnectBackoffTime
	cfg.ReconnectExponentialLimit = env.ReconnectExponentialLimit
	cfg.HandshakeTimeout = env.HandshakeTimeout
	cfg.ConnectionTimeout = env.ConnectionTimeout
	cfg.Locale = env.Locale
	cfg.DefaultExchangeName = env.DefaultExchange

	if env.URL != "" {
		if err := applyURI(&cfg, env.URL); err != nil {
			return Config{}, err
		}
	}

	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg, nil
}
