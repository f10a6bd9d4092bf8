package frame

import (
	"encoding/binary"

	"github.com/israelio/amqp-engine/internal/protocol"
)

type decodeState uint8

const (
	stateHeader decodeState = iota
	statePayload
	stateTrailer
)

// Decoder turns a byte stream into frames. It keeps partial state between
// calls, so input may arrive in chunks of any size.
type Decoder struct {
	state    decodeState
	header   [protocol.FrameHeaderSize]byte
	have     int
	typ      uint8
	channel  uint16
	payload  []byte
	maxFrame uint32
	err      error
}

// NewDecoder creates a decoder rejecting payloads larger than maxFrameSize.
// Zero selects the protocol default.
func NewDecoder(maxFrameSize uint32) *Decoder {
	if maxFrameSize == 0 {
		maxFrameSize = protocol.FrameMaxDefault
	}
	return &Decoder{maxFrame: maxFrameSize}
}

// SetMaxFrameSize updates the maximum frame size
func (d *Decoder) SetMaxFrameSize(size uint32) {
	if size > 0 {
		d.maxFrame = size
	}
}

// Reset drops any partial frame and clears a previous error.
func (d *Decoder) Reset() {
	d.state = stateHeader
	d.have = 0
	d.payload = nil
	d.err = nil
}

// Decode consumes chunk and returns every frame it completes. Frames completed
// before a malformed one are returned together with the error. After an error
// the decoder refuses further input until Reset.
func (d *Decoder) Decode(chunk []byte) ([]Frame, error) {
	if d.err != nil {
		return nil, d.err
	}

	var frames []Frame
	for len(chunk) > 0 {
		switch d.state {
		case stateHeader:
			n := copy(d.header[d.have:], chunk)
			d.have += n
			chunk = chunk[n:]
			if d.have < protocol.FrameHeaderSize {
				continue
			}

			d.typ = d.header[0]
			d.channel = binary.BigEndian.Uint16(d.header[1:3])
			size := binary.BigEndian.Uint32(d.header[3:7])

			if !isValidFrameType(d.typ) {
				return frames, d.fail(protocol.NewProtocolError(protocol.ReplyFrameError, "invalid frame type: %d", d.typ))
			}
			if size > d.maxFrame {
				return frames, d.fail(protocol.NewProtocolError(protocol.ReplyFrameError, "frame payload too large: %d > %d", size, d.maxFrame))
			}

			d.payload = make([]byte, size)
			d.have = 0
			if size == 0 {
				d.state = stateTrailer
			} else {
				d.state = statePayload
			}

		case statePayload:
			n := copy(d.payload[d.have:], chunk)
			d.have += n
			chunk = chunk[n:]
			if d.have == len(d.payload) {
				d.state = stateTrailer
			}

		case stateTrailer:
			end := chunk[0]
			chunk = chunk[1:]
			if end != protocol.FrameEnd {
				return frames, d.fail(protocol.NewProtocolError(protocol.ReplyFrameError,
					"invalid frame end marker: 0x%02X (expected 0x%02X)", end, protocol.FrameEnd))
			}

			frames = append(frames, Frame{Type: d.typ, Channel: d.channel, Payload: d.payload})
			d.state = stateHeader
			d.have = 0
			d.payload = nil
		}
	}
	return frames, nil
}

func (d *Decoder) fail(err error) error {
	d.err = err
	return err
}
