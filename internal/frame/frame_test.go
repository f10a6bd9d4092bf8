package frame

import (
	"bytes"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/israelio/amqp-engine/internal/protocol"
)

func encodeQueueDeclare(t testing.TB) []byte {
	t.Helper()

	enc := NewEncoder(protocol.AMQP091, 0)
	b, err := enc.Method(3, protocol.QueueDeclare, protocol.Arguments{
		"queue":      protocol.ShortString("jobs"),
		"durable":    protocol.Bit(true),
		"autoDelete": protocol.Bit(true),
		"arguments": protocol.Table{
			{Key: "x-queue-type", Value: protocol.String("classic")},
		},
	})
	require.NoError(t, err)
	return append([]byte(nil), b...)
}

func TestDecoderChunkSplits(t *testing.T) {
	wire := encodeQueueDeclare(t)

	whole, err := NewDecoder(0).Decode(wire)
	require.NoError(t, err)
	require.Len(t, whole, 1)

	for _, size := range []int{1, 2, 3, len(wire)} {
		t.Run("chunk size "+strconv.Itoa(size), func(t *testing.T) {
			dec := NewDecoder(0)
			var frames []Frame
			for start := 0; start < len(wire); start += size {
				end := start + size
				if end > len(wire) {
					end = len(wire)
				}
				got, err := dec.Decode(wire[start:end])
				require.NoError(t, err)
				frames = append(frames, got...)
			}

			require.Len(t, frames, 1)
			if diff := cmp.Diff(whole[0], frames[0]); diff != "" {
				t.Errorf("frame differs from whole-buffer decode (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecoderMultipleFramesInOneChunk(t *testing.T) {
	enc := NewEncoder(protocol.AMQP091, 0)
	var wire []byte
	wire = append(wire, enc.Heartbeat()...)
	wire = append(wire, encodeQueueDeclare(t)...)
	wire = append(wire, enc.Heartbeat()...)

	frames, err := NewDecoder(0).Decode(wire)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, uint8(protocol.FrameHeartbeat), frames[0].Type)
	assert.Equal(t, uint8(protocol.FrameMethod), frames[1].Type)
	assert.Equal(t, uint16(3), frames[1].Channel)
	assert.Equal(t, uint8(protocol.FrameHeartbeat), frames[2].Type)
}

func TestDecoderErrors(t *testing.T) {
	tests := []struct {
		name string
		wire func() []byte
	}{
		{
			name: "bad trailer",
			wire: func() []byte {
				b := NewEncoder(protocol.AMQP091, 0).Heartbeat()
				b[len(b)-1] = 0x00
				return b
			},
		},
		{
			name: "oversized frame",
			wire: func() []byte {
				return []byte{protocol.FrameBody, 0, 1, 0, 0, 0x10, 0x01}
			},
		},
		{
			name: "unknown frame type",
			wire: func() []byte {
				return []byte{9, 0, 0, 0, 0, 0, 0, protocol.FrameEnd}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := NewDecoder(protocol.FrameMinSize)
			_, err := dec.Decode(tt.wire())
			require.Error(t, err)
			assert.True(t, protocol.IsProtocolError(err))

			// poisoned until reset
			_, err2 := dec.Decode(NewEncoder(protocol.AMQP091, 0).Heartbeat())
			assert.Equal(t, err, err2)

			dec.Reset()
			frames, err := dec.Decode(NewEncoder(protocol.AMQP091, 0).Heartbeat())
			require.NoError(t, err)
			assert.Len(t, frames, 1)
		})
	}
}

func TestDecoderSetMaxFrameSize(t *testing.T) {
	dec := NewDecoder(0)
	dec.SetMaxFrameSize(8)

	body := NewEncoder(protocol.AMQP091, 0).ContentBody(1, bytes.Repeat([]byte{'x'}, 9))
	_, err := dec.Decode(body)
	require.Error(t, err)

	dec.SetMaxFrameSize(0) // ignored
	assert.Equal(t, uint32(8), dec.maxFrame)
}

func TestParseMethod(t *testing.T) {
	frames, err := NewDecoder(0).Decode(encodeQueueDeclare(t))
	require.NoError(t, err)

	m, err := ParseMethod(protocol.AMQP091, frames[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.QueueDeclare, m.ID)
	assert.Equal(t, "queueDeclare", m.Name())
	assert.Equal(t, "jobs", m.Args.String("queue"))
	assert.True(t, m.Args.Bool("durable"))
	assert.True(t, m.Args.Bool("autoDelete"))
	assert.False(t, m.Args.Bool("exclusive"))

	v, ok := m.Args.Table("arguments").Get("x-queue-type")
	require.True(t, ok)
	assert.Equal(t, protocol.String("classic"), v)
}

func TestParseMethodErrors(t *testing.T) {
	_, err := ParseMethod(protocol.AMQP091, []byte{0, 10})
	assert.True(t, protocol.IsProtocolError(err))

	_, err = ParseMethod(protocol.AMQP091, []byte{0, 99, 0, 1})
	assert.True(t, protocol.IsProtocolError(err), "unknown class/method pair")

	// queue.declare-ok truncated inside the queue name
	_, err = ParseMethod(protocol.AMQP091, []byte{0, 50, 0, 11, 5, 'a'})
	assert.True(t, protocol.IsProtocolError(err))
}

func TestContentHeaderRoundTrip(t *testing.T) {
	enc := NewEncoder(protocol.AMQP091, 0)
	props := protocol.Arguments{
		"contentType":   protocol.ShortString("text/plain"),
		"deliveryMode":  protocol.Octet(protocol.DeliveryModePersistent),
		"correlationId": protocol.ShortString("abc-123"),
	}

	b, err := enc.ContentHeader(5, protocol.ClassBasic, 1024, props)
	require.NoError(t, err)

	frames, err := NewDecoder(0).Decode(b)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, uint8(protocol.FrameHeader), frames[0].Type)

	// class (2) + weight (2) + size (8), then the flag word
	flags := frames[0].Payload[12:14]
	assert.Equal(t, []byte{0x94, 0x00}, flags)

	h, err := ParseContentHeader(protocol.AMQP091, frames[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(protocol.ClassBasic), h.ClassID)
	assert.Equal(t, uint64(1024), h.BodySize)
	if diff := cmp.Diff(props, h.Properties); diff != "" {
		t.Errorf("properties mismatch (-want +got):\n%s", diff)
	}
}

func TestContentBodySplitting(t *testing.T) {
	enc := NewEncoder(protocol.AMQP091, protocol.FrameMinSize)
	body := bytes.Repeat([]byte("0123456789"), 1000) // 10000 bytes

	frames, err := NewDecoder(protocol.FrameMinSize).Decode(enc.ContentBody(7, body))
	require.NoError(t, err)

	chunk := protocol.FrameMinSize - protocol.FrameOverhead
	require.Len(t, frames, 3)
	assert.Len(t, frames[0].Payload, chunk)
	assert.Len(t, frames[1].Payload, chunk)
	assert.Len(t, frames[2].Payload, len(body)-2*chunk)

	var joined []byte
	for _, f := range frames {
		assert.Equal(t, uint16(7), f.Channel)
		joined = append(joined, f.Payload...)
	}
	assert.Equal(t, body, joined)

	assert.Empty(t, enc.ContentBody(7, nil))
}

func TestContentFrames(t *testing.T) {
	enc := NewEncoder(protocol.AMQP091, protocol.FrameMinSize)
	publish := protocol.Arguments{
		"exchange":   protocol.ShortString("events"),
		"routingKey": protocol.ShortString("k"),
	}
	body := bytes.Repeat([]byte{'b'}, 9000)

	b, err := enc.Content(2, protocol.BasicPublish, publish, protocol.ClassBasic, protocol.Arguments{
		"contentType": protocol.ShortString("text/plain"),
	}, body)
	require.NoError(t, err)

	frames, err := NewDecoder(protocol.FrameMinSize).Decode(b)
	require.NoError(t, err)
	var types []uint8
	for _, f := range frames {
		assert.Equal(t, uint16(2), f.Channel)
		types = append(types, f.Type)
	}
	assert.Equal(t, []uint8{
		protocol.FrameMethod,
		protocol.FrameHeader,
		protocol.FrameBody, protocol.FrameBody, protocol.FrameBody,
	}, types)

	hdr, err := ParseContentHeader(protocol.AMQP091, frames[1].Payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(body)), hdr.BodySize)
}

func TestContentFramesAllOrNothing(t *testing.T) {
	enc := NewEncoder(protocol.AMQP091, protocol.FrameMinSize)
	b, err := enc.Content(2, protocol.BasicPublish, nil, protocol.ClassBasic, protocol.Arguments{
		"contentType": protocol.ShortString(bytes.Repeat([]byte{'x'}, 300)),
	}, []byte("m"))
	require.Error(t, err)
	assert.Nil(t, b)
}

func TestHeartbeatBytes(t *testing.T) {
	assert.Equal(t,
		[]byte{protocol.FrameHeartbeat, 0, 0, 0, 0, 0, 0, protocol.FrameEnd},
		NewEncoder(protocol.AMQP091, 0).Heartbeat())
}

func TestMethodFrameTooLarge(t *testing.T) {
	enc := NewEncoder(protocol.AMQP091, 16)
	_, err := enc.Method(1, protocol.QueueDeclare, protocol.Arguments{
		"queue": protocol.ShortString("a-rather-long-queue-name"),
	})
	require.Error(t, err)
}

func TestFrameString(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  string
	}{
		{"method frame", Frame{Type: protocol.FrameMethod, Channel: 1}, "METHOD"},
		{"header frame", Frame{Type: protocol.FrameHeader, Channel: 1}, "HEADER"},
		{"body frame", Frame{Type: protocol.FrameBody, Channel: 1}, "BODY"},
		{"heartbeat frame", Frame{Type: protocol.FrameHeartbeat}, "HEARTBEAT"},
		{"unknown frame", Frame{Type: 42}, "UNKNOWN(42)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, tt.frame.String(), tt.want)
		})
	}
}

// BenchmarkDecodeByteAtATime measures the resumable path
func BenchmarkDecodeByteAtATime(b *testing.B) {
	wire := encodeQueueDeclare(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dec := NewDecoder(0)
		for j := range wire {
			if _, err := dec.Decode(wire[j : j+1]); err != nil {
				b.Fatal(err)
			}
		}
	}
}

// BenchmarkMethodEncode measures method encoding with backpatching
func BenchmarkMethodEncode(b *testing.B) {
	enc := NewEncoder(protocol.AMQP091, 0)
	args := protocol.Arguments{
		"exchange":   protocol.ShortString("events"),
		"routingKey": protocol.ShortString("user.created"),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := enc.Method(1, protocol.BasicPublish, args); err != nil {
			b.Fatal(err)
		}
	}
}
