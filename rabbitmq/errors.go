package rabbitmq

import (
	"fmt"
	"time"

	"github.com/israelio/amqp-engine/internal/protocol"
)

// Error is a reply-code error, either raised by the server through
// connection.close / channel.close or synthesized by the client.
type Error struct {
	Code    int
	Reason  string
	Server  bool // true if error originated from server
	Recover bool // true if connection/channel can be recovered
}

// Error implements the error interface
func (e *Error) Error() string {
	origin := "client"
	if e.Server {
		origin = "server"
	}
	return fmt.Sprintf("AMQP error %d (%s): %s", e.Code, origin, e.Reason)
}

// Predefined client-side errors
var (
	ErrClosed = &Error{
		Code:   protocol.ReplyConnectionForced,
		Reason: "connection closed",
	}

	ErrChannelClosed = &Error{
		Code:   protocol.ReplyChannelError,
		Reason: "channel closed",
	}

	ErrBlocked = &Error{
		Code:    protocol.ReplyResourceError,
		Reason:  "connection blocked by server",
		Recover: true,
	}

	ErrNotOpen = &Error{
		Code:    protocol.ReplyChannelError,
		Reason:  "channel not open",
		Recover: true,
	}

	ErrTimeout = &Error{
		Code:    protocol.ReplyConnectionForced,
		Reason:  "timed out",
		Recover: true,
	}
)

// NewError creates a new Error from reply code and text
func NewError(code int, reason string, server bool) *Error {
	return &Error{
		Code:    code,
		Reason:  reason,
		Server:  server,
		Recover: code != protocol.ReplyConnectionForced && code < 500,
	}
}

// ConfirmError fails a publish in confirm mode. It is returned when the
// broker nacks the message or when the channel is lost before the ack.
type ConfirmError struct {
	Sequence uint64
	Cause    error
}

func (e *ConfirmError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("publish %d nacked by server", e.Sequence)
	}
	return fmt.Sprintf("publish %d not confirmed: %v", e.Sequence, e.Cause)
}

func (e *ConfirmError) Unwrap() error { return e.Cause }

// LivenessError reports that nothing arrived from the server within twice the
// negotiated heartbeat interval.
type LivenessError struct {
	Interval time.Duration
}

func (e *LivenessError) Error() string {
	return fmt.Sprintf("no data from server within %s (heartbeat %s)", 2*e.Interval, e.Interval)
}

// connectionLost marks a failure caused by a dropped transport so callers can
// match it with errors.Is(err, ErrClosed) and still see the cause.
func connectionLost(cause error) error {
	if cause == nil {
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ErrClosed, cause)
}
