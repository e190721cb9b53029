// Package pebblestore is an append-only record store on top of pebble.
//
// It has the same handle surface as appendstore. Records are stored under
// keys "rec/<20 digit sequence number>" so that iteration order is append
// order. The value is the name of the writer handle (1 byte length + name)
// followed by the record payload.
package pebblestore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/kjk/chronsynth/wire"
)

var (
	ErrClosed = errors.New("pebblestore: closed")

	errNotInRecord = errors.New("pebblestore: write outside of BeginRecord / EndRecord")
	errInRecord    = errors.New("pebblestore: BeginRecord called twice")

	keyLowerBound = []byte("rec/")
	// '0' sorts right after '/'
	keyUpperBound = []byte("rec0")
)

type Store struct {
	Dir string
	// if true, every append is synced to disk
	SyncWrite bool

	db       *pebble.DB
	nextSeq  uint64
	nRecords int
	closed   bool
	mu       sync.Mutex
}

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("rec/%020d", seq))
}

func parseKey(key []byte) (uint64, error) {
	s := strings.TrimPrefix(string(key), string(keyLowerBound))
	return strconv.ParseUint(s, 10, 64)
}

// Open opens or creates a store in dir
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	s := &Store{
		Dir: dir,
		db:  db,
	}
	if err = s.loadState(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) loadState() error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: keyLowerBound,
		UpperBound: keyUpperBound,
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	if err := iter.Error(); err != nil {
		return err
	}
	if n > 0 && iter.Last() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return fmt.Errorf("invalid key '%s': %w", iter.Key(), err)
		}
		s.nextSeq = seq + 1
	}
	s.nRecords = n
	return nil
}

func (s *Store) writeOptions() *pebble.WriteOptions {
	if s.SyncWrite {
		return pebble.Sync
	}
	return pebble.NoSync
}

func (s *Store) RecordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nRecords
}

// Clear deletes all records
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.db.DeleteRange(keyLowerBound, keyUpperBound, pebble.Sync); err != nil {
		return err
	}
	s.nextSeq = 0
	s.nRecords = 0
	return nil
}

// Close flushes and closes the database. It's safe to call multiple times.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Flush(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

func (s *Store) appendRecord(writer string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	v := make([]byte, 0, 1+len(writer)+len(payload))
	v = append(v, byte(len(writer)))
	v = append(v, writer...)
	v = append(v, payload...)
	if err := s.db.Set(keyFor(s.nextSeq), v, s.writeOptions()); err != nil {
		return err
	}
	s.nextSeq++
	s.nRecords++
	return nil
}

// Writer is a handle for appending records, see appendstore.Writer
type Writer struct {
	s        *Store
	name     string
	buf      wire.Buffer
	inRecord bool
	err      error
	closed   bool
}

var _ wire.Writer = &Writer{}

func (s *Store) NewWriter(name string) (*Writer, error) {
	if name == "" || len(name) > 255 {
		return nil, fmt.Errorf("invalid writer name '%s'", name)
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
	return w.s.appendRecord(w.name, w.buf.Bytes())
}

func (w *Writer) ok() bool {
	if !w.inRecord && w.err == nil {
		w.err = errNotInRecord
	}
	return w.inRecord
}

func (w *Writer) WriteInt32(v int32) {
	if w.ok() {
		w.buf.WriteInt32(v)
	}
}

func (w *Writer) WriteUint32(v uint32) {
	if w.ok() {
		w.buf.WriteUint32(v)
	}
}

func (w *Writer) WriteInt64(v int64) {
	if w.ok() {
		w.buf.WriteInt64(v)
	}
}

func (w *Writer) WriteUint8(v uint8) {
	if w.ok() {
		w.buf.WriteUint8(v)
	}
}

func (w *Writer) WriteFloat64(v float64) {
	if w.ok() {
		w.buf.WriteFloat64(v)
	}
}

func (w *Writer) WriteString(s string) {
	if w.ok() {
		w.buf.WriteString(s)
	}
}

func (w *Writer) WriteChar(c uint16) {
	if w.ok() {
		w.buf.WriteChar(c)
	}
}

func (w *Writer) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	w.inRecord = false
	return nil
}

// Reader iterates records in append order. It sees a consistent view of
// the store as of NewReader.
type Reader struct {
	iter    *pebble.Iterator
	started bool
	writer  string
	value   []byte
	scanner wire.Scanner
	err     error
	closed  bool
}

var _ wire.Reader = &Reader{}

func (s *Store) NewReader() (*Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: keyLowerBound,
		UpperBound: keyUpperBound,
	})
	if err != nil {
		return nil, err
	}
	return &Reader{iter: iter}, nil
}

func (r *Reader) Advance() bool {
	if r.err != nil || r.closed {
		return false
	}
	var valid bool
	if !r.started {
		r.started = true
		valid = r.iter.First()
	} else {
		valid = r.iter.Next()
	}
	if !valid {
		r.err = r.iter.Error()
		return false
	}
	// value is only valid until the iterator moves
	r.value = append(r.value[:0], r.iter.Value()...)
	if len(r.value) == 0 || int(r.value[0]) >= len(r.value) {
		r.err = fmt.Errorf("invalid value for key '%s'", r.iter.Key())
		return false
	}
	n := int(r.value[0])
	r.writer = string(r.value[1 : 1+n])
	r.scanner.Reset(r.value[1+n:])
	return true
}

func (r *Reader) WriterName() string {
	return r.writer
}

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
	return r.iter.Close()
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
