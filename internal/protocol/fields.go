package protocol

import (
	"time"

	"github.com/pkg/errors"
)

// Arguments holds decoded or to-be-encoded method fields by name. Order comes
// from the dictionary, so a map is enough.
type Arguments map[string]Value

// Bool returns a bit or bool field, false when absent.
func (a Arguments) Bool(name string) bool {
	switch v := a[name].(type) {
	case Bit:
		return bool(v)
	case Bool:
		return bool(v)
	}
	return false
}

func (a Arguments) Uint8(name string) uint8 {
	if v, ok := a[name].(Octet); ok {
		return uint8(v)
	}
	return 0
}

func (a Arguments) Uint16(name string) uint16 {
	if v, ok := a[name].(Short); ok {
		return uint16(v)
	}
	return 0
}

func (a Arguments) Uint32(name string) uint32 {
	if v, ok := a[name].(Long); ok {
		return uint32(v)
	}
	return 0
}

func (a Arguments) Uint64(name string) uint64 {
	if v, ok := a[name].(LongLong); ok {
		return uint64(v)
	}
	return 0
}

// String returns a shortstr or longstr field as a Go string.
func (a Arguments) String(name string) string {
	switch v := a[name].(type) {
	case ShortString:
		return string(v)
	case LongString:
		return string(v)
	}
	return ""
}

// Table returns a table field, nil when absent.
func (a Arguments) Table(name string) Table {
	if v, ok := a[name].(Table); ok {
		return v
	}
	return nil
}

// Time returns a timestamp field, the zero time when absent.
func (a Arguments) Time(name string) time.Time {
	if v, ok := a[name].(Timestamp); ok {
		return time.Time(v)
	}
	return time.Time{}
}

// Has reports whether name is present.
func (a Arguments) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// EncodeFields writes args in the order given by fields. Consecutive bit
// fields share an octet, bit 0 first; any other domain or the end of the list
// flushes the pending octet. Missing arguments encode as zero values.
func EncodeFields(w *Writer, fields []FieldSpec, args Arguments) error {
	var bits uint8
	nbits := 0
	flush := func() {
		if nbits > 0 {
			w.WriteOctet(bits)
			bits, nbits = 0, 0
		}
	}

	for _, f := range fields {
		if f.Domain == DomainBit {
			if nbits == 8 {
				flush()
			}
			if args.Bool(f.Name) {
				bits |= 1 << uint(nbits)
			}
			nbits++
			continue
		}
		flush()
		if err := w.WriteDomain(f.Domain, args[f.Name]); err != nil {
			return errors.Wrapf(err, "field %s", f.Name)
		}
	}
	flush()
	return nil
}

// DecodeFields mirrors EncodeFields.
func DecodeFields(r *Reader, fields []FieldSpec) (Arguments, error) {
	args := make(Arguments, len(fields))
	var bits uint8
	nbits := 8

	for _, f := range fields {
		if f.Domain == DomainBit {
			if nbits == 8 {
				b, err := r.ReadOctet()
				if err != nil {
					return nil, errors.Wrapf(err, "field %s", f.Name)
				}
				bits, nbits = b, 0
			}
			args[f.Name] = Bit(bits&(1<<uint(nbits)) != 0)
			nbits++
			continue
		}
		nbits = 8
		v, err := r.ReadDomain(f.Domain)
		if err != nil {
			return nil, errors.Wrapf(err, "field %s", f.Name)
		}
		args[f.Name] = v
	}
	return args, nil
}

// EncodeProperties writes the property flag words followed by the present
// properties. Bit 15 of the first word is the first property; bit 0 flags a
// continuation word. Bit properties are carried by their flag alone.
func EncodeProperties(w *Writer, props []FieldSpec, args Arguments) error {
	present := make([]bool, len(props))
	words := make([]uint16, 1, (len(props)+14)/15+1)
	for i, p := range props {
		v, ok := args[p.Name]
		if !ok || v == nil || (p.Domain == DomainBit && !args.Bool(p.Name)) {
			continue
		}
		present[i] = true
		for len(words) <= i/15 {
			words[len(words)-1] |= 1
			words = append(words, 0)
		}
		words[i/15] |= 1 << uint(15-i%15)
	}
	for _, word := range words {
		w.WriteShort(word)
	}

	for i, p := range props {
		if !present[i] || p.Domain == DomainBit {
			continue
		}
		if err := w.WriteDomain(p.Domain, args[p.Name]); err != nil {
			return errors.Wrapf(err, "property %s", p.Name)
		}
	}
	return nil
}

// DecodeProperties reads the flag words and the properties they select.
func DecodeProperties(r *Reader, props []FieldSpec) (Arguments, error) {
	var words []uint16
	for {
		word, err := r.ReadShort()
		if err != nil {
			return nil, errors.Wrap(err, "property flags")
		}
		words = append(words, word)
		if word&1 == 0 {
			break
		}
	}

	args := make(Arguments)
	for i, p := range props {
		if i/15 >= len(words) || words[i/15]&(1<<uint(15-i%15)) == 0 {
			continue
		}
		if p.Domain == DomainBit {
			args[p.Name] = Bit(true)
			continue
		}
		v, err := r.ReadDomain(p.Domain)
		if err != nil {
			return nil, errors.Wrapf(err, "property %s", p.Name)
		}
		args[p.Name] = v
	}
	return args, nil
}

// WriteDomain writes v using the encoding of domain d. A nil value writes the
// domain's zero value. A Table passed for a longstr domain is written as a
// table, which is how AMQPLAIN responses are carried.
func (w *Writer) WriteDomain(d Domain, v Value) error {
	switch d {
	case DomainOctet:
		switch v := v.(type) {
		case nil:
			w.WriteOctet(0)
		case Octet:
			w.WriteOctet(uint8(v))
		default:
			return domainMismatch(d, v)
		}
	case DomainShort:
		switch v := v.(type) {
		case nil:
			w.WriteShort(0)
		case Short:
			w.WriteShort(uint16(v))
		default:
			return domainMismatch(d, v)
		}
	case DomainLong:
		switch v := v.(type) {
		case nil:
			w.WriteLong(0)
		case Long:
			w.WriteLong(uint32(v))
		default:
			return domainMismatch(d, v)
		}
	case DomainLongLong:
		switch v := v.(type) {
		case nil:
			w.WriteLongLong(0)
		case LongLong:
			w.WriteLongLong(uint64(v))
		default:
			return domainMismatch(d, v)
		}
	case DomainShortString:
		switch v := v.(type) {
		case nil:
			return w.WriteShortString("")
		case ShortString:
			return w.WriteShortString(string(v))
		default:
			return domainMismatch(d, v)
		}
	case DomainLongString:
		switch v := v.(type) {
		case nil:
			w.WriteLongString(nil)
		case LongString:
			w.WriteLongString(v)
		case ShortString:
			w.WriteLongString([]byte(v))
		case Bytes:
			w.WriteLongString(v)
		case Table:
			return w.WriteTable(v)
		default:
			return domainMismatch(d, v)
		}
	case DomainTable:
		switch v := v.(type) {
		case nil:
			return w.WriteTable(nil)
		case Table:
			return w.WriteTable(v)
		default:
			return domainMismatch(d, v)
		}
	case DomainTimestamp:
		switch v := v.(type) {
		case nil:
			w.WriteLongLong(0)
		case Timestamp:
			w.WriteLongLong(uint64(time.Time(v).Unix()))
		default:
			return domainMismatch(d, v)
		}
	case DomainBit:
		return errors.New("bit fields must be written through EncodeFields")
	default:
		return errors.Errorf("unknown domain %d", d)
	}
	return nil
}

// ReadDomain reads one value of domain d.
func (r *Reader) ReadDomain(d Domain) (Value, error) {
	switch d {
	case DomainOctet:
		v, err := r.ReadOctet()
		return Octet(v), err
	case DomainShort:
		v, err := r.ReadShort()
		return Short(v), err
	case DomainLong:
		v, err := r.ReadLong()
		return Long(v), err
	case DomainLongLong:
		v, err := r.ReadLongLong()
		return LongLong(v), err
	case DomainShortString:
		v, err := r.ReadShortString()
		return ShortString(v), err
	case DomainLongString:
		v, err := r.ReadLongString()
		if err != nil {
			return nil, err
		}
		return LongString(v), nil
	case DomainTable:
		t, err := r.ReadTable()
		if err != nil {
			return nil, err
		}
		return t, nil
	case DomainTimestamp:
		v, err := r.ReadLongLong()
		return Timestamp(time.Unix(int64(v), 0).UTC()), err
	}
	return nil, NewProtocolError(ReplySyntaxError, "unknown domain %d", d)
}

func domainMismatch(d Domain, v Value) error {
	return errors.Errorf("cannot encode %T as %s", v, d)
}
