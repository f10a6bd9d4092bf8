package protocol

import (
	"fmt"
	"time"
)

// Kind identifies a Value variant.
type Kind uint8

const (
	KindBit Kind = iota + 1
	KindOctet
	KindShort
	KindLong
	KindLongLong
	KindShortString
	KindLongString
	KindTable
	KindArray
	KindTimestamp
	KindSignedInt8
	KindSignedInt16
	KindSignedInt32
	KindSignedInt64
	KindFloat
	KindDouble
	KindBool
	KindVoid
	KindBytes
)

var kindNames = [...]string{
	KindBit:         "bit",
	KindOctet:       "octet",
	KindShort:       "short",
	KindLong:        "long",
	KindLongLong:    "longlong",
	KindShortString: "shortstr",
	KindLongString:  "longstr",
	KindTable:       "table",
	KindArray:       "array",
	KindTimestamp:   "timestamp",
	KindSignedInt8:  "int8",
	KindSignedInt16: "int16",
	KindSignedInt32: "int32",
	KindSignedInt64: "int64",
	KindFloat:       "float",
	KindDouble:      "double",
	KindBool:        "bool",
	KindVoid:        "void",
	KindBytes:       "bytes",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is the closed set of AMQP wire values. Only the types in this file
// implement it.
type Value interface {
	Kind() Kind
	isValue()
}

type (
	Bit         bool
	Octet       uint8
	Short       uint16
	Long        uint32
	LongLong    uint64
	ShortString string
	LongString  []byte
	Array       []Value
	SignedInt8  int8
	SignedInt16 int16
	SignedInt32 int32
	SignedInt64 int64
	Float       float32
	Double      float64
	Bool        bool
	Void        struct{}
	Bytes       []byte
)

// Timestamp is a POSIX time with one second resolution on the wire.
type Timestamp time.Time

// Equal compares two timestamps by instant.
func (t Timestamp) Equal(o Timestamp) bool { return time.Time(t).Equal(time.Time(o)) }

// Time converts back to time.Time.
func (t Timestamp) Time() time.Time { return time.Time(t) }

func (Bit) Kind() Kind         { return KindBit }
func (Octet) Kind() Kind       { return KindOctet }
func (Short) Kind() Kind       { return KindShort }
func (Long) Kind() Kind        { return KindLong }
func (LongLong) Kind() Kind    { return KindLongLong }
func (ShortString) Kind() Kind { return KindShortString }
func (LongString) Kind() Kind  { return KindLongString }
func (Table) Kind() Kind       { return KindTable }
func (Array) Kind() Kind       { return KindArray }
func (Timestamp) Kind() Kind   { return KindTimestamp }
func (SignedInt8) Kind() Kind  { return KindSignedInt8 }
func (SignedInt16) Kind() Kind { return KindSignedInt16 }
func (SignedInt32) Kind() Kind { return KindSignedInt32 }
func (SignedInt64) Kind() Kind { return KindSignedInt64 }
func (Float) Kind() Kind       { return KindFloat }
func (Double) Kind() Kind      { return KindDouble }
func (Bool) Kind() Kind        { return KindBool }
func (Void) Kind() Kind        { return KindVoid }
func (Bytes) Kind() Kind       { return KindBytes }

func (Bit) isValue()         {}
func (Octet) isValue()       {}
func (Short) isValue()       {}
func (Long) isValue()        {}
func (LongLong) isValue()    {}
func (ShortString) isValue() {}
func (LongString) isValue()  {}
func (Table) isValue()       {}
func (Array) isValue()       {}
func (Timestamp) isValue()   {}
func (SignedInt8) isValue()  {}
func (SignedInt16) isValue() {}
func (SignedInt32) isValue() {}
func (SignedInt64) isValue() {}
func (Float) isValue()       {}
func (Double) isValue()      {}
func (Bool) isValue()        {}
func (Void) isValue()        {}
func (Bytes) isValue()       {}

// String returns the bytes as a Go string.
func (s LongString) String() string { return string(s) }

// Field is one key/value entry of a Table.
type Field struct {
	Key   string
	Value Value
}

// Table is an AMQP field table. Entries keep their insertion order so that
// encoding is deterministic.
type Table []Field

// Get returns the value stored under key.
func (t Table) Get(key string) (Value, bool) {
	for _, f := range t {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Set replaces the value under key or appends a new entry.
func (t *Table) Set(key string, v Value) {
	for i := range *t {
		if (*t)[i].Key == key {
			(*t)[i].Value = v
			return
		}
	}
	*t = append(*t, Field{Key: key, Value: v})
}

// Delete removes key if present.
func (t *Table) Delete(key string) {
	for i := range *t {
		if (*t)[i].Key == key {
			*t = append((*t)[:i], (*t)[i+1:]...)
			return
		}
	}
}

// Clone returns a shallow copy that can be modified independently.
func (t Table) Clone() Table {
	if t == nil {
		return nil
	}
	out := make(Table, len(t))
	copy(out, t)
	return out
}

// Merge returns a copy of t with every entry of o set on top of it.
func (t Table) Merge(o Table) Table {
	out := t.Clone()
	for _, f := range o {
		out.Set(f.Key, f.Value)
	}
	return out
}

// String converts a Go string into the table string encoding ('S').
func String(s string) LongString { return LongString(s) }
