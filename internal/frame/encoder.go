package frame

import (
	"github.com/pkg/errors"

	"github.com/israelio/amqp-engine/internal/protocol"
)

// Encoder serializes frames into a reusable buffer. Every returned slice
// aliases that buffer and is only valid until the next call, so callers write
// it out before encoding anything else.
type Encoder struct {
	dict     *protocol.Dictionary
	w        *protocol.Writer
	maxFrame uint32
}

// NewEncoder creates an encoder for the given dictionary. Zero selects the
// default frame size.
func NewEncoder(dict *protocol.Dictionary, maxFrameSize uint32) *Encoder {
	if maxFrameSize == 0 {
		maxFrameSize = protocol.FrameMaxDefault
	}
	return &Encoder{
		dict:     dict,
		w:        protocol.NewWriter(protocol.FrameMinSize),
		maxFrame: maxFrameSize,
	}
}

// SetMaxFrameSize updates the maximum frame size
func (e *Encoder) SetMaxFrameSize(size uint32) {
	if size > 0 {
		e.maxFrame = size
	}
}

// MaxBodyChunk is the largest body payload that fits in one frame.
func (e *Encoder) MaxBodyChunk() int {
	if n := int(e.maxFrame) - protocol.FrameOverhead; n > 0 {
		return n
	}
	return 1
}

// begin writes the type and channel and reserves the payload length.
func (e *Encoder) begin(typ uint8, channel uint16) int {
	e.w.WriteOctet(typ)
	e.w.WriteShort(channel)
	return e.w.Reserve32()
}

// end backpatches the payload length and appends the trailer.
func (e *Encoder) end(at int) uint32 {
	size := uint32(e.w.Len() - at - 4)
	e.w.Patch32(at, size)
	e.w.WriteOctet(protocol.FrameEnd)
	return size
}

// Method encodes a method frame with fields in dictionary order.
func (e *Encoder) Method(channel uint16, id protocol.MethodID, args protocol.Arguments) ([]byte, error) {
	e.w.Reset()
	if err := e.appendMethod(channel, id, args); err != nil {
		return nil, err
	}
	return e.w.Bytes(), nil
}

// ContentHeader encodes a content header. The property flags are derived from
// which properties are present in props.
func (e *Encoder) ContentHeader(channel uint16, classID uint16, bodySize uint64, props protocol.Arguments) ([]byte, error) {
	e.w.Reset()
	if err := e.appendHeader(channel, classID, bodySize, props); err != nil {
		return nil, err
	}
	return e.w.Bytes(), nil
}

// Content encodes a content-carrying method together with its header and
// body frames. Either every frame encodes or nothing is returned, so a
// failure never leaves a method on the wire without its content.
func (e *Encoder) Content(channel uint16, id protocol.MethodID, args protocol.Arguments, classID uint16, props protocol.Arguments, body []byte) ([]byte, error) {
	e.w.Reset()
	if err := e.appendMethod(channel, id, args); err != nil {
		return nil, err
	}
	if err := e.appendHeader(channel, classID, uint64(len(body)), props); err != nil {
		return nil, err
	}
	e.appendBody(channel, body)
	return e.w.Bytes(), nil
}

func (e *Encoder) appendMethod(channel uint16, id protocol.MethodID, args protocol.Arguments) error {
	spec, err := e.dict.Method(id)
	if err != nil {
		return err
	}

	at := e.begin(protocol.FrameMethod, channel)
	e.w.WriteShort(id.ClassID())
	e.w.WriteShort(id.MethodIndex())
	if err := protocol.EncodeFields(e.w, spec.Fields, args); err != nil {
		return errors.Wrapf(err, "encode %s", spec.Name)
	}
	if size := e.end(at); size > e.maxFrame {
		return errors.Errorf("%s frame too large: %d > %d", spec.Name, size, e.maxFrame)
	}
	return nil
}

func (e *Encoder) appendHeader(channel uint16, classID uint16, bodySize uint64, props protocol.Arguments) error {
	class, err := e.dict.Class(classID)
	if err != nil {
		return err
	}

	at := e.begin(protocol.FrameHeader, channel)
	e.w.WriteShort(classID)
	e.w.WriteShort(0) // weight
	e.w.WriteLongLong(bodySize)
	if err := protocol.EncodeProperties(e.w, class.Properties, props); err != nil {
		return errors.Wrapf(err, "encode %s properties", class.Name)
	}
	if size := e.end(at); size > e.maxFrame {
		return errors.Errorf("content header too large: %d > %d", size, e.maxFrame)
	}
	return nil
}

// ContentBody encodes body as one or more body frames, each small enough to
// fit the negotiated frame size. An empty body produces no frames.
func (e *Encoder) ContentBody(channel uint16, body []byte) []byte {
	e.w.Reset()
	e.appendBody(channel, body)
	return e.w.Bytes()
}

func (e *Encoder) appendBody(channel uint16, body []byte) {
	chunk := e.MaxBodyChunk()
	for len(body) > 0 {
		n := len(body)
		if n > chunk {
			n = chunk
		}
		at := e.begin(protocol.FrameBody, channel)
		e.w.WriteBytes(body[:n])
		e.end(at)
		body = body[n:]
	}
}

// Heartbeat encodes a heartbeat frame on channel 0.
func (e *Encoder) Heartbeat() []byte {
	e.w.Reset()
	e.end(e.begin(protocol.FrameHeartbeat, 0))
	return e.w.Bytes()
}
