package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/israelio/amqp-engine/internal/protocol"
)

// Frame is one header + payload + trailer cycle as read off the wire
type Frame struct {
	Type    uint8
	Channel uint16
	Payload []byte
}

// Method is a decoded method frame payload
type Method struct {
	ID   protocol.MethodID
	Spec *protocol.MethodSpec
	Args protocol.Arguments
}

// Name returns the dictionary name of the method
func (m *Method) Name() string {
	if m.Spec != nil {
		return m.Spec.Name
	}
	return m.ID.String()
}

// ContentHeader is a decoded content header frame payload
type ContentHeader struct {
	ClassID    uint16
	Weight     uint16
	BodySize   uint64
	Properties protocol.Arguments
}

// ParseMethod decodes a method payload: class and method index, then the
// fields in dictionary order.
func ParseMethod(dict *protocol.Dictionary, payload []byte) (*Method, error) {
	if len(payload) < 4 {
		return nil, protocol.NewProtocolError(protocol.ReplyFrameError, "method frame payload too short: %d", len(payload))
	}

	id := protocol.NewMethodID(binary.BigEndian.Uint16(payload[0:2]), binary.BigEndian.Uint16(payload[2:4]))
	spec, err := dict.Method(id)
	if err != nil {
		return nil, err
	}

	args, err := protocol.DecodeFields(protocol.NewReader(payload[4:]), spec.Fields)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", spec.Name)
	}

	return &Method{ID: id, Spec: spec, Args: args}, nil
}

// ParseContentHeader decodes a content header payload and the property subset
// selected by its flag words.
func ParseContentHeader(dict *protocol.Dictionary, payload []byte) (*ContentHeader, error) {
	if len(payload) < protocol.ContentHeaderLen+2 {
		return nil, protocol.NewProtocolError(protocol.ReplyFrameError, "header frame payload too short: %d", len(payload))
	}

	h := &ContentHeader{
		ClassID:  binary.BigEndian.Uint16(payload[0:2]),
		Weight:   binary.BigEndian.Uint16(payload[2:4]),
		BodySize: binary.BigEndian.Uint64(payload[4:12]),
	}

	class, err := dict.Class(h.ClassID)
	if err != nil {
		return nil, err
	}

	h.Properties, err = protocol.DecodeProperties(protocol.NewReader(payload[protocol.ContentHeaderLen:]), class.Properties)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s properties", class.Name)
	}
	return h, nil
}

// String returns a string representation of the frame
func (f Frame) String() string {
	var frameType string
	switch f.Type {
	case protocol.FrameMethod:
		frameType = "METHOD"
	case protocol.FrameHeader:
		frameType = "HEADER"
	case protocol.FrameBody:
		frameType = "BODY"
	case protocol.FrameHeartbeat:
		frameType = "HEARTBEAT"
	default:
		frameType = fmt.Sprintf("UNKNOWN(%d)", f.Type)
	}

	return fmt.Sprintf("Frame{type=%s, channel=%d, size=%d}", frameType, f.Channel, len(f.Payload))
}

// isValidFrameType checks if the frame type is valid
func isValidFrameType(frameType uint8) bool {
	switch frameType {
	case protocol.FrameMethod,
		protocol.FrameHeader,
		protocol.FrameBody,
		protocol.FrameHeartbeat:
		return true
	default:
		return false
	}
}
