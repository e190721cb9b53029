// Package codec encodes synthetic records whose shape is derived from
// their sequence index.
//
// A record is the 4 byte index followed by FieldCount(index) fields. The
// kind of the field at position p is p % 5. No tags or counts are written:
// a reader recomputes the shape from the index with Shape, the same function
// the writer uses.
package codec

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/kjk/chronsynth/u"
	"github.com/kjk/chronsynth/wire"
)

var (
	// ErrTruncatedRecord means data ended before all fields of a record were read
	ErrTruncatedRecord = errors.New("truncated record")
	// ErrCorruptRecord means data can't be a record written by Encode
	ErrCorruptRecord = errors.New("corrupt record")
)

const (
	maxStrSize = 10 * 1024
	// CharSentinel is the value of every Char field. It's a single UTF-16
	// code unit (not a valid code point on its own).
	CharSentinel uint16 = 0xD1A9
)

type FieldKind int

const (
	Float FieldKind = iota
	String
	Byte
	Long
	Char
	numKinds
)

func (k FieldKind) String() string {
	switch k {
	case Float:
		return "float"
	case String:
		return "string"
	case Byte:
		return "byte"
	case Long:
		return "long"
	case Char:
		return "char"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Field is a decoded field. Only the member matching Kind is set.
type Field struct {
	Kind  FieldKind
	Float float64
	Str   string
	Byte  uint8
	Long  int64
	Char  uint16
}

// Equal compares fields. Float values are compared bit by bit.
func (f Field) Equal(o Field) bool {
	if f.Kind != o.Kind {
		return false
	}
	switch f.Kind {
	case Float:
		return math.Float64bits(f.Float) == math.Float64bits(o.Float)
	case String:
		return f.Str == o.Str
	case Byte:
		return f.Byte == o.Byte
	case Long:
		return f.Long == o.Long
	case Char:
		return f.Char == o.Char
	}
	return false
}

func (f Field) String() string {
	switch f.Kind {
	case Float:
		return strconv.FormatFloat(f.Float, 'g', -1, 64)
	case String:
		if len(f.Str) > 32 {
			return fmt.Sprintf("%q...(len %d)", f.Str[:32], len(f.Str))
		}
		return strconv.Quote(f.Str)
	case Byte:
		return strconv.Itoa(int(f.Byte))
	case Long:
		return strconv.FormatInt(f.Long, 10)
	case Char:
		return fmt.Sprintf("U+%04X", f.Char)
	}
	return "?"
}

type Record struct {
	Index  uint32
	Fields []Field
}

// FieldCount returns number of fields in a record with a given index
func FieldCount(index uint32) int {
	return int(index % 10)
}

// KindAt returns the kind of field at position pos
func KindAt(pos int) FieldKind {
	return FieldKind(pos % int(numKinds))
}

// Shape returns kinds of fields of a record with a given index, in order.
// Encode, Decode and Expected all derive the layout from it.
func Shape(index uint32) []FieldKind {
	n := FieldCount(index)
	res := make([]FieldKind, n)
	for i := range res {
		res[i] = KindAt(i)
	}
	return res
}

// StrOfSize returns the value of a String field of size n: decimal digits of
// n, '=' and then digits 0-9 repeating until the string is n long.
// When n is too small to hold its own digits and '=', the result is longer
// than n. String fields never hit that because their size is at least 2.
func StrOfSize(n int) string {
	b := make([]byte, 0, max(n, 8))
	b = strconv.AppendInt(b, int64(n), 10)
	b = append(b, '=')
	for i := 0; len(b) < n; i++ {
		b = append(b, byte('0'+i%10))
	}
	return string(b)
}

// fieldValue computes field of a given kind for a record with index.
// Float divides by index, which is fine because index 0 has no fields.
func fieldValue(index uint32, kind FieldKind) Field {
	f := Field{Kind: kind}
	switch kind {
	case Float:
		f.Float = 1 / float64(index)
	case String:
		f.Str = StrOfSize(int(index % maxStrSize))
	case Byte:
		f.Byte = uint8(index % 256)
	case Long:
		f.Long = int64(index) << 32
	case Char:
		f.Char = CharSentinel
	default:
		u.PanicIf(true, "invalid field kind %d", kind)
	}
	return f
}

// Expected returns the record Encode writes for index
func Expected(index uint32) *Record {
	shape := Shape(index)
	rec := &Record{
		Index:  index,
		Fields: make([]Field, len(shape)),
	}
	for i, kind := range shape {
		rec.Fields[i] = fieldValue(index, kind)
	}
	return rec
}

// EncodeTo writes record for index to w
func EncodeTo(w wire.Writer, index uint32) {
	w.WriteUint32(index)
	for _, kind := range Shape(index) {
		f := fieldValue(index, kind)
		switch kind {
		case Float:
			w.WriteFloat64(f.Float)
		case String:
			w.WriteString(f.Str)
		case Byte:
			w.WriteUint8(f.Byte)
		case Long:
			w.WriteInt64(f.Long)
		case Char:
			w.WriteChar(f.Char)
		}
	}
}

// Encode returns serialized record for index
func Encode(index uint32) []byte {
	var b wire.Buffer
	EncodeTo(&b, index)
	return b.Bytes()
}

func mapReadErr(err error, index uint32, pos int) error {
	if errors.Is(err, wire.ErrTruncated) {
		return fmt.Errorf("%w: index %d, field %d", ErrTruncatedRecord, index, pos)
	}
	if errors.Is(err, wire.ErrOverflow) {
		return fmt.Errorf("%w: index %d, field %d: %w", ErrCorruptRecord, index, pos, err)
	}
	return err
}

// Decode reads one record from r
func Decode(r wire.Reader) (*Record, error) {
	index, err := r.ReadUint32()
	if err != nil {
		if errors.Is(err, wire.ErrTruncated) {
			return nil, fmt.Errorf("%w: missing index", ErrTruncatedRecord)
		}
		return nil, err
	}
	shape := Shape(index)
	rec := &Record{
		Index:  index,
		Fields: make([]Field, len(shape)),
	}
	for pos, kind := range shape {
		f := &rec.Fields[pos]
		f.Kind = kind
		switch kind {
		case Float:
			f.Float, err = r.ReadFloat64()
		case String:
			f.Str, err = r.ReadString()
			if err == nil && !utf8.ValidString(f.Str) {
				return nil, fmt.Errorf("%w: index %d, field %d: invalid utf-8", ErrCorruptRecord, index, pos)
			}
		case Byte:
			f.Byte, err = r.ReadUint8()
		case Long:
			f.Long, err = r.ReadInt64()
		case Char:
			f.Char, err = r.ReadChar()
		}
		if err != nil {
			return nil, mapReadErr(err, index, pos)
		}
	}
	return rec, nil
}

// DecodeBytes decodes a record that must span all of d
func DecodeBytes(d []byte) (*Record, error) {
	s := wire.NewScanner(d)
	rec, err := Decode(s)
	if err != nil {
		return nil, err
	}
	if n := s.Remaining(); n > 0 {
		return nil, fmt.Errorf("%w: index %d, %d trailing bytes", ErrCorruptRecord, rec.Index, n)
	}
	return rec, nil
}
