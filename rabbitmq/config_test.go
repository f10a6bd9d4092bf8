package rabbitmq

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/israelio/amqp-engine/internal/protocol"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig("AMQPTEST")
		require.NoError(t, err)

		assert.Equal(t, []string{"localhost"}, cfg.Hosts)
		assert.Equal(t, 5672, cfg.Port)
		assert.Equal(t, "/", cfg.VHost)
		assert.Equal(t, uint32(protocol.FrameMaxDefault), cfg.FrameMax)
		assert.Equal(t, 10*time.Second, cfg.HandshakeTimeout)
		assert.True(t, cfg.Reconnect)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("AMQPTEST_HOST", "rabbit-a,rabbit-b")
		t.Setenv("AMQPTEST_PORT", "5673")
		t.Setenv("AMQPTEST_LOGIN", "svc")
		t.Setenv("AMQPTEST_PASSWORD", "hunter2")
		t.Setenv("AMQPTEST_HEARTBEAT", "15s")
		t.Setenv("AMQPTEST_RECONNECT", "false")
		t.Setenv("AMQPTEST_RECONNECT_STRATEGY", "exponential")
		t.Setenv("AMQPTEST_CHANNEL_MAX", "32")

		cfg, err := LoadConfig("AMQPTEST", WithVHost("jobs"))
		require.NoError(t, err)

		assert.Equal(t, []string{"rabbit-a", "rabbit-b"}, cfg.Hosts)
		assert.Equal(t, 5673, cfg.Port)
		assert.Equal(t, "svc", cfg.Login)
		assert.Equal(t, "hunter2", cfg.Password)
		assert.Equal(t, 15*time.Second, cfg.Heartbeat)
		assert.False(t, cfg.Reconnect)
		assert.Equal(t, ReconnectExponential, cfg.ReconnectStrategy)
		assert.Equal(t, uint16(32), cfg.ChannelMax)
		assert.Equal(t, "jobs", cfg.VHost, "options apply after the environment")
	})

	t.Run("url overrides host settings", func(t *testing.T) {
		t.Setenv("AMQPTEST_HOST", "ignored")
		t.Setenv("AMQPTEST_URL", "amqps://u:p@broker.internal/orders")

		cfg, err := LoadConfig("AMQPTEST")
		require.NoError(t, err)

		assert.Equal(t, []string{"broker.internal"}, cfg.Hosts)
		assert.Equal(t, DefaultTLSPort, cfg.Port)
		assert.Equal(t, "orders", cfg.VHost)
		assert.NotNil(t, cfg.TLS)
	})

	t.Run("invalid value", func(t *testing.T) {
		t.Setenv("AMQPTEST_PORT", "not-a-port")

		_, err := LoadConfig("AMQPTEST")
		assert.Error(t, err)
	})
}

func TestConfigAddress(t *testing.T) {
	cfg := NewConfig(
		WithHosts("a", "b:5680", "c"),
		WithHostPreference(1),
		WithPort(5700),
	)

	var got []string
	for attempt := 0; attempt < 4; attempt++ {
		got = append(got, cfg.address(attempt))
	}
	want := []string{"b:5680", "c:5700", "a:5700", "b:5680"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("address() mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, "localhost:5672", Config{}.address(3), "empty config falls back to the defaults")
}

func TestConfigWith(t *testing.T) {
	base := NewConfig(WithHosts("a", "b"), WithClientProperty("app", protocol.String("billing")))
	derived := base.With(WithHosts("c"), WithClientProperty("app", protocol.String("search")))

	assert.Equal(t, []string{"a", "b"}, base.Hosts)
	assert.Equal(t, []string{"c"}, derived.Hosts)

	v, _ := base.ClientProperties.Get("app")
	assert.Equal(t, protocol.String("billing"), v)
	v, _ = derived.ClientProperties.Get("app")
	assert.Equal(t, protocol.String("search"), v)
}

func TestClientProperties(t *testing.T) {
	cfg := NewConfig(WithClientProperties(Table{
		{Key: "product", Value: protocol.String("custom")},
		{Key: "connection_name", Value: protocol.String("worker-1")},
	}))

	props := cfg.clientProperties()

	product, ok := props.Get("product")
	require.True(t, ok)
	assert.Equal(t, protocol.String("custom"), product)

	name, ok := props.Get("connection_name")
	require.True(t, ok)
	assert.Equal(t, protocol.String("worker-1"), name)

	caps, ok := props.Get("capabilities")
	require.True(t, ok)
	confirms, ok := caps.(protocol.Table).Get("publisher_confirms")
	require.True(t, ok)
	assert.Equal(t, protocol.Bool(true), confirms)
}
