package appendstore

import (
	"errors"
	"fmt"
	"os"

	"github.com/kjk/chronsynth/wire"
)

var (
	errNotInRecord = errors.New("appendstore: write outside of BeginRecord / EndRecord")
	errInRecord    = errors.New("appendstore: BeginRecord called twice")

	_ wire.Writer = &Writer{}
	_ wire.Reader = &Reader{}
)

// Writer is a handle for appending records. Values written between
// BeginRecord and EndRecord form one record, appended atomically by EndRecord.
type Writer struct {
	s        *Store
	name     string
	buf      wire.Buffer
	inRecord bool
	// first error from a write outside of a record, reported by EndRecord
	err    error
	closed bool
}

// NewWriter creates a writer handle. name is recorded with every record
// appended by this handle.
func (s *Store) NewWriter(name string) (*Writer, error) {
	if err := validateWriterName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return &Writer{s: s, name: name}, nil
}

func (w *Writer) Name() string {
	return w.name
}

func (w *Writer) BeginRecord() error {
	if w.closed {
		return ErrClosed
	}
	if w.inRecord {
		return errInRecord
	}
	w.inRecord = true
	w.err = nil
	w.buf.Reset()
	return nil
}

// EndRecord appends the record started with BeginRecord
func (w *Writer) EndRecord() error {
	if w.closed {
		return ErrClosed
	}
	if !w.inRecord {
		return errNotInRecord
	}
	w.inRecord = false
	if w.err != nil {
		return w.err
	}
	_, err := w.s.appendRecord(w.name, w.buf.Bytes())
	return err
}

func (w *Writer) checkInRecord() bool {
	if !w.inRecord && w.err == nil {
		w.err = errNotInRecord
	}
	return w.inRecord
}

func (w *Writer) WriteInt32(v int32) {
	if w.checkInRecord() {
		w.buf.WriteInt32(v)
	}
}

func (w *Writer) WriteUint32(v uint32) {
	if w.checkInRecord() {
		w.buf.WriteUint32(v)
	}
}

func (w *Writer) WriteInt64(v int64) {
	if w.checkInRecord() {
		w.buf.WriteInt64(v)
	}
}

func (w *Writer) WriteUint8(v uint8) {
	if w.checkInRecord() {
		w.buf.WriteUint8(v)
	}
}

func (w *Writer) WriteFloat64(v float64) {
	if w.checkInRecord() {
		w.buf.WriteFloat64(v)
	}
}

func (w *Writer) WriteString(s string) {
	if w.checkInRecord() {
		w.buf.WriteString(s)
	}
}

func (w *Writer) WriteChar(c uint16) {
	if w.checkInRecord() {
		w.buf.WriteChar(c)
	}
}

// Close releases the handle. A record that was begun but not ended is dropped.
// Closing twice returns ErrClosed.
func (w *Writer) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	w.inRecord = false
	w.buf = wire.Buffer{}
	return nil
}

// Reader is a handle for reading records from the start of the store.
// It sees records that were appended before it was created.
type Reader struct {
	records []*Record
	// index of the next record to read
	pos      int
	curr     *Record
	dataFile *os.File
	comp     *compressor
	scanner  wire.Scanner
	data     []byte
	err      error
	closed   bool
}

// NewReader creates a reader handle positioned before the first record
func (s *Store) NewReader() (*Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	records, err := readAllRecords(s.indexFilePath)
	if err != nil {
		return nil, err
	}
	r := &Reader{
		records: records,
		comp:    s.comp,
	}
	if len(records) > 0 {
		r.dataFile, err = os.Open(s.dataFilePath)
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Advance moves to the next record. Returns false when there are no more
// records or on error (check Err()).
func (r *Reader) Advance() bool {
	if r.err != nil || r.closed || r.pos >= len(r.records) {
		return false
	}
	rec := r.records[r.pos]
	r.pos++

	// we try to re-use r.data as long as it doesn't grow too much
	if cap(r.data) > 1024*1024 {
		r.data = nil
	}
	if rec.Size > int64(cap(r.data)) {
		r.data = make([]byte, rec.Size)
	} else {
		r.data = r.data[:rec.Size]
	}
	if _, err := r.dataFile.ReadAt(r.data, rec.Offset); err != nil {
		r.err = fmt.Errorf("failed to read record %d (offset %d, size %d): %w", r.pos-1, rec.Offset, rec.Size, err)
		return false
	}
	d, err := r.comp.decompress(rec.Codec, r.data)
	if err != nil {
		r.err = fmt.Errorf("failed to decompress record %d: %w", r.pos-1, err)
		return false
	}
	r.curr = rec
	r.scanner.Reset(d)
	return true
}

// Record returns index information about the current record
func (r *Reader) Record() *Record {
	return r.curr
}

// WriterName returns name of the writer handle that appended the current record
func (r *Reader) WriterName() string {
	if r.curr == nil {
		return ""
	}
	return r.curr.Writer
}

// Remaining returns number of unread bytes in the current record
func (r *Reader) Remaining() int {
	return r.scanner.Remaining()
}

func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.dataFile != nil {
		return r.dataFile.Close()
	}
	return nil
}

func (r *Reader) ReadInt32() (int32, error) {
	return r.scanner.ReadInt32()
}

func (r *Reader) ReadUint32() (uint32, error) {
	return r.scanner.ReadUint32()
}

func (r *Reader) ReadInt64() (int64, error) {
	return r.scanner.ReadInt64()
}

func (r *Reader) ReadUint8() (uint8, error) {
	return r.scanner.ReadUint8()
}

func (r *Reader) ReadFloat64() (float64, error) {
	return r.scanner.ReadFloat64()
}

func (r *Reader) ReadString() (string, error) {
	return r.scanner.ReadString()
}

func (r *Reader) ReadChar() (uint16, error) {
	return r.scanner.ReadChar()
}
