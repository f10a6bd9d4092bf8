package protocol

import (
	"fmt"
)

// Domain is the wire type of a method field or content property.
type Domain uint8

const (
	DomainBit Domain = iota + 1
	DomainOctet
	DomainShort
	DomainLong
	DomainLongLong
	DomainShortString
	DomainLongString
	DomainTable
	DomainTimestamp
)

func (d Domain) String() string {
	switch d {
	case DomainBit:
		return "bit"
	case DomainOctet:
		return "octet"
	case DomainShort:
		return "short"
	case DomainLong:
		return "long"
	case DomainLongLong:
		return "longlong"
	case DomainShortString:
		return "shortstr"
	case DomainLongString:
		return "longstr"
	case DomainTable:
		return "table"
	case DomainTimestamp:
		return "timestamp"
	}
	return fmt.Sprintf("domain(%d)", uint8(d))
}

// MethodID packs a class index and a method index into one comparable value.
type MethodID uint32

// NewMethodID builds the identifier for a class/method pair.
func NewMethodID(classID, methodID uint16) MethodID {
	return MethodID(uint32(classID)<<16 | uint32(methodID))
}

// ClassID returns the class index.
func (id MethodID) ClassID() uint16 { return uint16(id >> 16) }

// MethodIndex returns the method index within the class.
func (id MethodID) MethodIndex() uint16 { return uint16(id) }

func (id MethodID) String() string {
	if m, err := AMQP091.Method(id); err == nil {
		return m.Name
	}
	return fmt.Sprintf("method(%d.%d)", id.ClassID(), id.MethodIndex())
}

// Methods used by the engine
const (
	ConnectionStart     = MethodID(ClassConnection<<16 | 10)
	ConnectionStartOk   = MethodID(ClassConnection<<16 | 11)
	ConnectionSecure    = MethodID(ClassConnection<<16 | 20)
	ConnectionSecureOk  = MethodID(ClassConnection<<16 | 21)
	ConnectionTune      = MethodID(ClassConnection<<16 | 30)
	ConnectionTuneOk    = MethodID(ClassConnection<<16 | 31)
	ConnectionOpen      = MethodID(ClassConnection<<16 | 40)
	ConnectionOpenOk    = MethodID(ClassConnection<<16 | 41)
	ConnectionClose     = MethodID(ClassConnection<<16 | 50)
	ConnectionCloseOk   = MethodID(ClassConnection<<16 | 51)
	ConnectionBlocked   = MethodID(ClassConnection<<16 | 60)
	ConnectionUnblocked = MethodID(ClassConnection<<16 | 61)

	ChannelOpen    = MethodID(ClassChannel<<16 | 10)
	ChannelOpenOk  = MethodID(ClassChannel<<16 | 11)
	ChannelFlow    = MethodID(ClassChannel<<16 | 20)
	ChannelFlowOk  = MethodID(ClassChannel<<16 | 21)
	ChannelClose   = MethodID(ClassChannel<<16 | 40)
	ChannelCloseOk = MethodID(ClassChannel<<16 | 41)

	ExchangeDeclare   = MethodID(ClassExchange<<16 | 10)
	ExchangeDeclareOk = MethodID(ClassExchange<<16 | 11)
	ExchangeDelete    = MethodID(ClassExchange<<16 | 20)
	ExchangeDeleteOk  = MethodID(ClassExchange<<16 | 21)
	ExchangeBind      = MethodID(ClassExchange<<16 | 30)
	ExchangeBindOk    = MethodID(ClassExchange<<16 | 31)
	ExchangeUnbind    = MethodID(ClassExchange<<16 | 40)
	ExchangeUnbindOk  = MethodID(ClassExchange<<16 | 51)

	QueueDeclare   = MethodID(ClassQueue<<16 | 10)
	QueueDeclareOk = MethodID(ClassQueue<<16 | 11)
	QueueBind      = MethodID(ClassQueue<<16 | 20)
	QueueBindOk    = MethodID(ClassQueue<<16 | 21)
	QueuePurge     = MethodID(ClassQueue<<16 | 30)
	QueuePurgeOk   = MethodID(ClassQueue<<16 | 31)
	QueueDelete    = MethodID(ClassQueue<<16 | 40)
	QueueDeleteOk  = MethodID(ClassQueue<<16 | 41)
	QueueUnbind    = MethodID(ClassQueue<<16 | 50)
	QueueUnbindOk  = MethodID(ClassQueue<<16 | 51)

	BasicQos       = MethodID(ClassBasic<<16 | 10)
	BasicQosOk     = MethodID(ClassBasic<<16 | 11)
	BasicConsume   = MethodID(ClassBasic<<16 | 20)
	BasicConsumeOk = MethodID(ClassBasic<<16 | 21)
	BasicCancel    = MethodID(ClassBasic<<16 | 30)
	BasicCancelOk  = MethodID(ClassBasic<<16 | 31)
	BasicPublish   = MethodID(ClassBasic<<16 | 40)
	BasicReturn    = MethodID(ClassBasic<<16 | 50)
	BasicDeliver   = MethodID(ClassBasic<<16 | 60)
	BasicAck       = MethodID(ClassBasic<<16 | 80)
	BasicReject    = MethodID(ClassBasic<<16 | 90)
	BasicNack      = MethodID(ClassBasic<<16 | 120)

	ConfirmSelect   = MethodID(ClassConfirm<<16 | 10)
	ConfirmSelectOk = MethodID(ClassConfirm<<16 | 11)
)

// FieldSpec is one named, typed slot in a method or property list.
type FieldSpec struct {
	Name   string
	Domain Domain
}

// MethodSpec describes one protocol method.
type MethodSpec struct {
	ID      MethodID
	Name    string
	Fields  []FieldSpec
	Content bool // method is followed by a content header and body
}

// ClassSpec describes a class and its content properties.
type ClassSpec struct {
	Index      uint16
	Name       string
	Properties []FieldSpec
}

// Dictionary is the read-only method and class table, indexed once at
// construction.
type Dictionary struct {
	methods map[MethodID]*MethodSpec
	byName  map[string]*MethodSpec
	classes map[uint16]*ClassSpec
}

// NewDictionary indexes the given classes and methods.
func NewDictionary(classes []ClassSpec, methods []MethodSpec) *Dictionary {
	d := &Dictionary{
		methods: make(map[MethodID]*MethodSpec, len(methods)),
		byName:  make(map[string]*MethodSpec, len(methods)),
		classes: make(map[uint16]*ClassSpec, len(classes)),
	}
	for i := range classes {
		d.classes[classes[i].Index] = &classes[i]
	}
	for i := range methods {
		m := &methods[i]
		d.methods[m.ID] = m
		d.byName[m.Name] = m
	}
	return d
}

// Method looks up a method by identifier. Unknown pairs are protocol errors.
func (d *Dictionary) Method(id MethodID) (*MethodSpec, error) {
	if m, ok := d.methods[id]; ok {
		return m, nil
	}
	return nil, NewProtocolError(ReplyCommandInvalid, "unknown method %d.%d", id.ClassID(), id.MethodIndex())
}

// MethodByName looks up a method by its name, e.g. "queueDeclare".
func (d *Dictionary) MethodByName(name string) (*MethodSpec, bool) {
	m, ok := d.byName[name]
	return m, ok
}

// Class looks up a class by index.
func (d *Dictionary) Class(index uint16) (*ClassSpec, error) {
	if c, ok := d.classes[index]; ok {
		return c, nil
	}
	return nil, NewProtocolError(ReplyCommandInvalid, "unknown class %d", index)
}
