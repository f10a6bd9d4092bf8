package protocol

import (
	"fmt"

	"github.com/pkg/errors"
)

// ProtocolError reports malformed input from the peer: bad framing, an
// oversized frame, an unknown method or an unknown value tag. It is fatal to
// the connection because byte alignment can no longer be trusted.
type ProtocolError struct {
	Code   int
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Reason)
}

// NewProtocolError builds a ProtocolError carrying a stack trace.
func NewProtocolError(code int, format string, args ...interface{}) error {
	return errors.WithStack(&ProtocolError{Code: code, Reason: fmt.Sprintf(format, args...)})
}

// IsProtocolError reports whether err wraps a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

func errShortBuffer(what string, need, have int) error {
	return NewProtocolError(ReplyFrameError, "short buffer reading %s: need %d bytes, have %d", what, need, have)
}
