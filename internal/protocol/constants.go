package protocol

// Dialect selects the protocol preamble and the server version accepted in
// connection.start.
type Dialect uint8

const (
	Dialect091 Dialect = iota
	Dialect08
)

// Protocol headers sent on transport connect
const (
	ProtocolHeader091 = "AMQP\x00\x00\x09\x01"
	ProtocolHeader08  = "AMQP\x01\x01\x08\x00"
)

// Header returns the preamble written before connection.start.
func (d Dialect) Header() string {
	if d == Dialect08 {
		return ProtocolHeader08
	}
	return ProtocolHeader091
}

// Accepts reports whether the version advertised in connection.start matches
// the dialect.
func (d Dialect) Accepts(major, minor uint8) bool {
	if d == Dialect08 {
		return major == 8 && minor == 0
	}
	return major == 0 && minor == 9
}

func (d Dialect) String() string {
	if d == Dialect08 {
		return "0-8"
	}
	return "0-9-1"
}

// Frame types
const (
	FrameMethod    = 1
	FrameHeader    = 2
	FrameBody      = 3
	FrameHeartbeat = 8
	FrameEnd       = 0xCE // Frame terminator byte
)

// Frame size constants
const (
	FrameMinSize     = 4096
	FrameMaxDefault  = 131072
	FrameHeaderSize  = 7 // Frame type (1) + Channel ID (2) + Size (4)
	FrameEndSize     = 1
	FrameOverhead    = FrameHeaderSize + FrameEndSize
	ContentHeaderLen = 12 // class (2) + weight (2) + body size (8)
)

// AMQP Class IDs
const (
	ClassConnection = 10
	ClassChannel    = 20
	ClassExchange   = 40
	ClassQueue      = 50
	ClassBasic      = 60
	ClassConfirm    = 85
	ClassTx         = 90
)

// AMQP reply codes
const (
	ReplySuccess            = 200
	ReplyContentTooLarge    = 311
	ReplyNoRoute            = 312
	ReplyNoConsumers        = 313
	ReplyConnectionForced   = 320
	ReplyInvalidPath        = 402
	ReplyAccessRefused      = 403
	ReplyNotFound           = 404
	ReplyResourceLocked     = 405
	ReplyPreconditionFailed = 406
	ReplyFrameError         = 501
	ReplySyntaxError        = 502
	ReplyCommandInvalid     = 503
	ReplyChannelError       = 504
	ReplyUnexpectedFrame    = 505
	ReplyResourceError      = 506
	ReplyNotAllowed         = 530
	ReplyNotImplemented     = 540
	ReplyInternalError      = 541
)

// Built-in exchange types
const (
	ExchangeTypeDirect  = "direct"
	ExchangeTypeFanout  = "fanout"
	ExchangeTypeTopic   = "topic"
	ExchangeTypeHeaders = "headers"
)

// Default exchange name
const (
	DefaultExchange = ""
)

// Delivery modes
const (
	DeliveryModeNonPersistent = 1
	DeliveryModePersistent    = 2
)
