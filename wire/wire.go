// Package wire encodes and decodes the primitive values records are made of.
//
// All fixed width values are little-endian. Strings are prefixed with their
// byte length in stop-bit encoding: 7 bits per byte, least significant group
// first, high bit set on every byte except the last (the same as
// encoding/binary's uvarint).
package wire

import (
	"encoding/binary"
	"errors"
	"math"
)

var (
	// ErrTruncated is returned when data ends before a value is fully read
	ErrTruncated = errors.New("wire: truncated data")
	// ErrOverflow is returned for a stop-bit value that doesn't fit in 64 bits
	ErrOverflow = errors.New("wire: stop-bit value overflows uint64")
)

// Writer is the set of primitive writes a record is built from.
// Buffer implements it and so do store writer handles.
type Writer interface {
	WriteInt32(v int32)
	WriteUint32(v uint32)
	WriteInt64(v int64)
	WriteUint8(v uint8)
	WriteFloat64(v float64)
	WriteString(s string)
	WriteChar(c uint16)
}

// Reader is the counterpart of Writer
type Reader interface {
	ReadInt32() (int32, error)
	ReadUint32() (uint32, error)
	ReadInt64() (int64, error)
	ReadUint8() (uint8, error)
	ReadFloat64() (float64, error)
	ReadString() (string, error)
	ReadChar() (uint16, error)
}

var (
	_ Writer = &Buffer{}
	_ Reader = &Scanner{}
)

// Buffer accumulates encoded values. The zero value is ready to use.
type Buffer struct {
	b []byte
}

// Reset empties the buffer, keeping allocated memory
func (b *Buffer) Reset() {
	b.b = b.b[:0]
}

// Bytes returns encoded data, valid until next write or Reset()
func (b *Buffer) Bytes() []byte {
	return b.b
}

func (b *Buffer) WriteInt32(v int32) {
	b.b = binary.LittleEndian.AppendUint32(b.b, uint32(v))
}

func (b *Buffer) WriteUint32(v uint32) {
	b.b = binary.LittleEndian.AppendUint32(b.b, v)
}

func (b *Buffer) WriteInt64(v int64) {
	b.b = binary.LittleEndian.AppendUint64(b.b, uint64(v))
}

func (b *Buffer) WriteUint8(v uint8) {
	b.b = append(b.b, v)
}

func (b *Buffer) WriteFloat64(v float64) {
	b.b = binary.LittleEndian.AppendUint64(b.b, math.Float64bits(v))
}

// WriteChar writes a single UTF-16 code unit
func (b *Buffer) WriteChar(c uint16) {
	b.b = binary.LittleEndian.AppendUint16(b.b, c)
}

func (b *Buffer) WriteStopBit(v uint64) {
	b.b = binary.AppendUvarint(b.b, v)
}

func (b *Buffer) WriteString(s string) {
	b.WriteStopBit(uint64(len(s)))
	b.b = append(b.b, s...)
}

// Scanner reads values from a byte slice
type Scanner struct {
	d   []byte
	off int
}

func NewScanner(d []byte) *Scanner {
	return &Scanner{d: d}
}

// Reset re-uses the scanner for reading d
func (s *Scanner) Reset(d []byte) {
	s.d = d
	s.off = 0
}

// Remaining returns the number of unread bytes
func (s *Scanner) Remaining() int {
	return len(s.d) - s.off
}

func (s *Scanner) next(n int) ([]byte, error) {
	if n < 0 || n > s.Remaining() {
		return nil, ErrTruncated
	}
	res := s.d[s.off : s.off+n]
	s.off += n
	return res, nil
}

func (s *Scanner) ReadUint32() (uint32, error) {
	d, err := s.next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(d), nil
}

func (s *Scanner) ReadInt32() (int32, error) {
	v, err := s.ReadUint32()
	return int32(v), err
}

func (s *Scanner) ReadInt64() (int64, error) {
	d, err := s.next(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(d)), nil
}

func (s *Scanner) ReadUint8() (uint8, error) {
	d, err := s.next(1)
	if err != nil {
		return 0, err
	}
	return d[0], nil
}

func (s *Scanner) ReadFloat64() (float64, error) {
	d, err := s.next(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(d)), nil
}

func (s *Scanner) ReadChar() (uint16, error) {
	d, err := s.next(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(d), nil
}

func (s *Scanner) ReadStopBit() (uint64, error) {
	v, n := binary.Uvarint(s.d[s.off:])
	if n == 0 {
		return 0, ErrTruncated
	}
	if n < 0 {
		return 0, ErrOverflow
	}
	s.off += n
	return v, nil
}

// ReadString reads a stop-bit length prefixed string.
// The returned string is a copy.
func (s *Scanner) ReadString() (string, error) {
	n, err := s.ReadStopBit()
	if err != nil {
		return "", err
	}
	if n > uint64(s.Remaining()) {
		return "", ErrTruncated
	}
	d, _ := s.next(int(n))
	return string(d), nil
}
