package protocol

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"
)

// Writer is an append-only encode buffer. Table and array lengths are written
// by reserving a 4 byte slot and backpatching it once the contents are known.
type Writer struct {
	buf []byte
}

// NewWriter creates a Writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded bytes. The slice aliases the internal buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written.
func (w *Writer) Len() int { return len(w.buf) }

// Reset empties the buffer, keeping its capacity.
func (w *Writer) Reset() { w.buf = w.buf[:0] }

func (w *Writer) WriteOctet(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) WriteShort(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }

func (w *Writer) WriteLong(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }

func (w *Writer) WriteLongLong(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }

func (w *Writer) WriteBytes(b []byte) { w.buf = append(w.buf, b...) }

// WriteShortString writes a 1 byte length followed by the string.
func (w *Writer) WriteShortString(s string) error {
	if len(s) > math.MaxUint8 {
		return errors.Errorf("short string too long: %d bytes", len(s))
	}
	w.buf = append(w.buf, uint8(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

// WriteLongString writes a 4 byte length followed by the bytes.
func (w *Writer) WriteLongString(b []byte) {
	w.WriteLong(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// Reserve32 appends a placeholder for a 4 byte length and returns its offset.
func (w *Writer) Reserve32() int {
	at := len(w.buf)
	w.buf = append(w.buf, 0, 0, 0, 0)
	return at
}

// Patch32 overwrites a slot returned by Reserve32.
func (w *Writer) Patch32(at int, v uint32) {
	binary.BigEndian.PutUint32(w.buf[at:at+4], v)
}

// WriteTable writes a length prefixed field table.
func (w *Writer) WriteTable(t Table) error {
	at := w.Reserve32()
	for _, f := range t {
		if err := w.WriteShortString(f.Key); err != nil {
			return errors.Wrapf(err, "table key %q", f.Key)
		}
		if err := w.WriteFieldValue(f.Value); err != nil {
			return errors.Wrapf(err, "table field %q", f.Key)
		}
	}
	w.Patch32(at, uint32(len(w.buf)-at-4))
	return nil
}

// WriteArray writes a length prefixed field array.
func (w *Writer) WriteArray(a Array) error {
	at := w.Reserve32()
	for i, v := range a {
		if err := w.WriteFieldValue(v); err != nil {
			return errors.Wrapf(err, "array element %d", i)
		}
	}
	w.Patch32(at, uint32(len(w.buf)-at-4))
	return nil
}

// WriteFieldValue writes a type tag followed by the value, as used inside
// tables and arrays.
//
// Some kinds share a tag, so they do not survive a round trip unchanged:
// ShortString and LongString are both written as 'S' and read back as
// LongString, Bit is written as 't' and read back as Bool, and LongLong is
// written as 'l' and read back as SignedInt64. 'l' is the only 64-bit
// integer tag RabbitMQ accepts in tables, so a LongLong above math.MaxInt64
// comes back negative.
func (w *Writer) WriteFieldValue(v Value) error {
	switch v := v.(type) {
	case nil, Void:
		w.WriteOctet('V')
	case Bool:
		w.WriteOctet('t')
		w.writeBool(bool(v))
	case Bit:
		w.WriteOctet('t')
		w.writeBool(bool(v))
	case SignedInt8:
		w.WriteOctet('b')
		w.WriteOctet(uint8(v))
	case Octet:
		w.WriteOctet('B')
		w.WriteOctet(uint8(v))
	case SignedInt16:
		w.WriteOctet('s')
		w.WriteShort(uint16(v))
	case Short:
		w.WriteOctet('u')
		w.WriteShort(uint16(v))
	case SignedInt32:
		w.WriteOctet('I')
		w.WriteLong(uint32(v))
	case Long:
		w.WriteOctet('i')
		w.WriteLong(uint32(v))
	case SignedInt64:
		w.WriteOctet('l')
		w.WriteLongLong(uint64(v))
	case LongLong:
		w.WriteOctet('l')
		w.WriteLongLong(uint64(v))
	case Float:
		w.WriteOctet('f')
		w.WriteLong(math.Float32bits(float32(v)))
	case Double:
		w.WriteOctet('d')
		w.WriteLongLong(math.Float64bits(float64(v)))
	case Timestamp:
		w.WriteOctet('T')
		w.WriteLongLong(uint64(time.Time(v).Unix()))
	case ShortString:
		w.WriteOctet('S')
		w.WriteLongString([]byte(v))
	case LongString:
		w.WriteOctet('S')
		w.WriteLongString(v)
	case Bytes:
		w.WriteOctet('x')
		w.WriteLongString(v)
	case Table:
		w.WriteOctet('F')
		return w.WriteTable(v)
	case Array:
		w.WriteOctet('A')
		return w.WriteArray(v)
	default:
		return errors.Errorf("unsupported field value %T", v)
	}
	return nil
}

func (w *Writer) writeBool(b bool) {
	if b {
		w.WriteOctet(1)
	} else {
		w.WriteOctet(0)
	}
}

// Reader decodes values from a byte slice using an explicit cursor.
type Reader struct {
	buf []byte
	pos int
}

// NewReader creates a Reader positioned at the start of b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Offset returns the cursor position.
func (r *Reader) Offset() int { return r.pos }

func (r *Reader) take(n int, what string) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, errShortBuffer(what, n, r.Remaining())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) ReadOctet() (uint8, error) {
	b, err := r.take(1, "octet")
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadShort() (uint16, error) {
	b, err := r.take(2, "short")
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) ReadLong() (uint32, error) {
	b, err := r.take(4, "long")
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadLongLong() (uint64, error) {
	b, err := r.take(8, "longlong")
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// ReadBytes returns a copy of the next n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	b, err := r.take(n, "bytes")
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (r *Reader) ReadShortString() (string, error) {
	n, err := r.ReadOctet()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n), "shortstr")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) ReadLongString() ([]byte, error) {
	n, err := r.ReadLong()
	if err != nil {
		return nil, err
	}
	return r.ReadBytes(int(n))
}

// ReadTable reads a length prefixed field table.
func (r *Reader) ReadTable() (Table, error) {
	n, err := r.ReadLong()
	if err != nil {
		return nil, err
	}
	body, err := r.take(int(n), "table")
	if err != nil {
		return nil, err
	}

	sub := NewReader(body)
	t := Table{}
	for sub.Remaining() > 0 {
		key, err := sub.ReadShortString()
		if err != nil {
			return nil, errors.Wrap(err, "table key")
		}
		v, err := sub.ReadFieldValue()
		if err != nil {
			return nil, errors.Wrapf(err, "table field %q", key)
		}
		t = append(t, Field{Key: key, Value: v})
	}
	return t, nil
}

// ReadArray reads a length prefixed field array.
func (r *Reader) ReadArray() (Array, error) {
	n, err := r.ReadLong()
	if err != nil {
		return nil, err
	}
	body, err := r.take(int(n), "array")
	if err != nil {
		return nil, err
	}

	sub := NewReader(body)
	a := Array{}
	for sub.Remaining() > 0 {
		v, err := sub.ReadFieldValue()
		if err != nil {
			return nil, errors.Wrapf(err, "array element %d", len(a))
		}
		a = append(a, v)
	}
	return a, nil
}

// ReadFieldValue reads a type tag and the value it announces. Signed integers
// are reconstructed with two's complement.
func (r *Reader) ReadFieldValue() (Value, error) {
	tag, err := r.ReadOctet()
	if err != nil {
		return nil, err
	}

	switch tag {
	case 't':
		b, err := r.ReadOctet()
		return Bool(b != 0), err
	case 'b':
		b, err := r.ReadOctet()
		return SignedInt8(int8(b)), err
	case 'B':
		b, err := r.ReadOctet()
		return Octet(b), err
	case 's':
		v, err := r.ReadShort()
		return SignedInt16(int16(v)), err
	case 'u':
		v, err := r.ReadShort()
		return Short(v), err
	case 'I':
		v, err := r.ReadLong()
		return SignedInt32(int32(v)), err
	case 'i':
		v, err := r.ReadLong()
		return Long(v), err
	case 'l':
		v, err := r.ReadLongLong()
		return SignedInt64(int64(v)), err
	case 'f':
		v, err := r.ReadLong()
		return Float(math.Float32frombits(v)), err
	case 'd':
		v, err := r.ReadLongLong()
		return Double(math.Float64frombits(v)), err
	case 'T':
		v, err := r.ReadLongLong()
		return Timestamp(time.Unix(int64(v), 0).UTC()), err
	case 'S':
		b, err := r.ReadLongString()
		if err != nil {
			return nil, err
		}
		return LongString(b), nil
	case 'x':
		b, err := r.ReadLongString()
		if err != nil {
			return nil, err
		}
		return Bytes(b), nil
	case 'A':
		a, err := r.ReadArray()
		if err != nil {
			return nil, err
		}
		return a, nil
	case 'F':
		t, err := r.ReadTable()
		if err != nil {
			return nil, err
		}
		return t, nil
	case 'V':
		return Void{}, nil
	default:
		return nil, NewProtocolError(ReplySyntaxError, "unknown field value type tag 0x%02x", tag)
	}
}
