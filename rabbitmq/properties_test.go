package rabbitmq

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/israelio/amqp-engine/internal/frame"
	"github.com/israelio/amqp-engine/internal/protocol"
)

// roundTrip encodes props into a content header frame and parses it back.
func roundTrip(t *testing.T, props Properties) (Properties, *frame.ContentHeader) {
	t.Helper()
	enc := frame.NewEncoder(protocol.AMQP091, 0)
	b, err := enc.ContentHeader(1, protocol.ClassBasic, 42, props.arguments())
	if err != nil {
		t.Fatalf("ContentHeader failed: %v", err)
	}

	frames, err := frame.NewDecoder(0).Decode(b)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	hdr, err := frame.ParseContentHeader(protocol.AMQP091, frames[0].Payload)
	if err != nil {
		t.Fatalf("ParseContentHeader failed: %v", err)
	}
	return propertiesFrom(hdr.Properties), hdr
}

// TestPropertiesEncoding tests message properties encoding
func TestPropertiesEncoding(t *testing.T) {
	tests := []struct {
		name  string
		props Properties
	}{
		{
			name:  "empty properties",
			props: Properties{},
		},
		{
			name: "content type only",
			props: Properties{
				ContentType: "application/json",
			},
		},
		{
			name: "persistent delivery",
			props: Properties{
				DeliveryMode: protocol.DeliveryModePersistent,
			},
		},
		{
			name: "full properties",
			props: Properties{
				ContentType:     "text/plain",
				ContentEncoding: "utf-8",
				Headers: Table{
					{Key: "x-custom", Value: protocol.String("value")},
				},
				DeliveryMode:  protocol.DeliveryModePersistent,
				Priority:      5,
				CorrelationId: "correlation-123",
				ReplyTo:       "reply-queue",
				Expiration:    "60000",
				MessageId:     "msg-456",
				Timestamp:     time.Unix(1234567890, 0),
				Type:          "user.created",
				UserId:        "guest",
				AppId:         "my-app",
				ClusterId:     "rabbit@a",
			},
		},
		{
			name: "with headers",
			props: Properties{
				Headers: Table{
					{Key: "x-retry-count", Value: protocol.SignedInt32(3)},
					{Key: "x-source", Value: protocol.String("service-a")},
					{Key: "x-replay", Value: protocol.Bool(true)},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, hdr := roundTrip(t, tt.props)

			if hdr.ClassID != protocol.ClassBasic {
				t.Errorf("ClassID: got %d, want %d", hdr.ClassID, protocol.ClassBasic)
			}
			if hdr.BodySize != 42 {
				t.Errorf("BodySize: got %d, want 42", hdr.BodySize)
			}
			if diff := cmp.Diff(tt.props, decoded); diff != "" {
				t.Errorf("properties mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestEmptyPropertiesEncoding tests that unset properties cost nothing on the
// wire
func TestEmptyPropertiesEncoding(t *testing.T) {
	args := Properties{}.arguments()
	if len(args) != 0 {
		t.Errorf("empty properties produced %d arguments", len(args))
	}

	enc := frame.NewEncoder(protocol.AMQP091, 0)
	b, err := enc.ContentHeader(1, protocol.ClassBasic, 0, args)
	if err != nil {
		t.Fatalf("ContentHeader failed: %v", err)
	}
	// class, weight, body size and a zero flag word.
	want := protocol.FrameOverhead + 2 + 2 + 8 + 2
	if len(b) != want {
		t.Errorf("frame length: got %d, want %d", len(b), want)
	}
}

// TestPropertiesWithComplexHeaders tests nested tables and arrays in headers
func TestPropertiesWithComplexHeaders(t *testing.T) {
	props := Properties{
		Headers: Table{
			{Key: "x-death", Value: protocol.Array{
				protocol.Table{
					{Key: "count", Value: protocol.SignedInt64(2)},
					{Key: "queue", Value: protocol.String("jobs")},
				},
			}},
			{Key: "x-routing", Value: protocol.Table{
				{Key: "region", Value: protocol.String("eu")},
			}},
		},
	}

	decoded, _ := roundTrip(t, props)
	if diff := cmp.Diff(props.Headers, decoded.Headers); diff != "" {
		t.Errorf("headers mismatch (-want +got):\n%s", diff)
	}

	death, ok := decoded.Headers.Get("x-death")
	if !ok {
		t.Fatal("x-death missing")
	}
	entries := death.(protocol.Array)
	count, _ := entries[0].(protocol.Table).Get("count")
	if count != protocol.SignedInt64(2) {
		t.Errorf("count: got %v, want 2", count)
	}
}

// TestPropertiesTimestamp tests that timestamps keep second precision
func TestPropertiesTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"whole seconds", time.Unix(1600000000, 0), time.Unix(1600000000, 0)},
		{"sub-second truncated", time.Unix(1600000000, 999_000_000), time.Unix(1600000000, 0)},
		{"zero is omitted", time.Time{}, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, _ := roundTrip(t, Properties{Timestamp: tt.in})
			if !decoded.Timestamp.Equal(tt.want) {
				t.Errorf("Timestamp: got %v, want %v", decoded.Timestamp, tt.want)
			}
		})
	}
}

func TestPropertiesPersistent(t *testing.T) {
	if (Properties{}).Persistent() {
		t.Error("zero delivery mode should not be persistent")
	}
	if (Properties{DeliveryMode: protocol.DeliveryModeNonPersistent}).Persistent() {
		t.Error("mode 1 should not be persistent")
	}
	if !(Properties{DeliveryMode: protocol.DeliveryModePersistent}).Persistent() {
		t.Error("mode 2 should be persistent")
	}
}
