package appendstore

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

var rng = rand.New(rand.NewSource(time.Now().UnixNano()))

func a(_ *testing.T, cond bool, format string, args ...any) {
	if !cond {
		msg := format
		if len(args) > 0 {
			msg = fmt.Sprintf(format, args...)
		}
		panic(msg)
	}
}

type testRecord struct {
	N    uint32
	Str  string
	F    float64
	Char uint16
}

func genRandomText(n int) string {
	letters := []byte("abcdefghijklmnopqrstuvwxyz")
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rng.Intn(len(letters))]
	}
	return string(b)
}

func genRandomRecords(n int) []testRecord {
	records := make([]testRecord, n)
	for i := range records {
		records[i] = testRecord{
			N:    uint32(i),
			Str:  genRandomText(rng.Intn(1000)),
			F:    rng.Float64(),
			Char: uint16(rng.Intn(0xffff)),
		}
	}
	return records
}

func createStore(t *testing.T, compression string) *Store {
	store := &Store{
		DataDir:     filepath.Join(t.TempDir(), "store"),
		Compression: compression,
	}
	err := OpenStore(store)
	a(t, err == nil, "Failed to open store: %v", err)
	return store
}

func writeTestRecord(t *testing.T, w *Writer, rec testRecord) {
	err := w.BeginRecord()
	a(t, err == nil, "BeginRecord failed: %v", err)
	w.WriteUint32(rec.N)
	w.WriteString(rec.Str)
	w.WriteFloat64(rec.F)
	w.WriteChar(rec.Char)
	err = w.EndRecord()
	a(t, err == nil, "EndRecord failed: %v", err)
}

func verifyTestRecord(t *testing.T, r *Reader, rec testRecord) {
	n, err := r.ReadUint32()
	a(t, err == nil && n == rec.N, "Record %d: N mismatch, got %d (err: %v)", rec.N, n, err)
	s, err := r.ReadString()
	a(t, err == nil && s == rec.Str, "Record %d: Str mismatch (err: %v)", rec.N, err)
	f, err := r.ReadFloat64()
	a(t, err == nil && f == rec.F, "Record %d: F mismatch, expected %v got %v (err: %v)", rec.N, rec.F, f, err)
	c, err := r.ReadChar()
	a(t, err == nil && c == rec.Char, "Record %d: Char mismatch, expected %d got %d (err: %v)", rec.N, rec.Char, c, err)
	a(t, r.Remaining() == 0, "Record %d: %d unread bytes", rec.N, r.Remaining())
}

func testWriteAndRead(t *testing.T, compression string) {
	store := createStore(t, compression)
	defer store.Close()

	w, err := store.NewWriter("w0")
	a(t, err == nil, "NewWriter failed: %v", err)
	testRecords := genRandomRecords(500)
	for _, rec := range testRecords {
		writeTestRecord(t, w, rec)
	}
	a(t, w.Close() == nil, "Close failed")
	a(t, store.RecordCount() == len(testRecords), "Expected %d records, got %d", len(testRecords), store.RecordCount())

	// read twice, each reader starts from the beginning
	for range 2 {
		r, err := store.NewReader()
		a(t, err == nil, "NewReader failed: %v", err)
		i := 0
		for r.Advance() {
			a(t, r.WriterName() == "w0", "Expected writer w0, got '%s'", r.WriterName())
			a(t, r.Record().Codec == compression, "Expected codec '%s', got '%s'", compression, r.Record().Codec)
			verifyTestRecord(t, r, testRecords[i])
			i++
		}
		a(t, r.Err() == nil, "Reader failed: %v", r.Err())
		a(t, i == len(testRecords), "Expected %d records, read %d", len(testRecords), i)
		a(t, r.Close() == nil, "Reader close failed")
	}

	// re-open the store
	store2 := &Store{DataDir: store.DataDir}
	err = OpenStore(store2)
	a(t, err == nil, "Failed to re-open store: %v", err)
	a(t, store2.RecordCount() == len(testRecords), "Expected %d records after re-open, got %d", len(testRecords), store2.RecordCount())
}

func TestStoreWriteAndRead(t *testing.T) {
	testWriteAndRead(t, "")
}

func TestStoreWriteAndReadZstd(t *testing.T) {
	testWriteAndRead(t, CodecZstd)
}

func TestStoreWriteAndReadBrotli(t *testing.T) {
	testWriteAndRead(t, CodecBrotli)
}

func TestParseIndexLine(t *testing.T) {
	var rec Record
	err := ParseIndexLine("123 456 789 w2", &rec)
	a(t, err == nil, "ParseIndexLine failed: %v", err)
	a(t, rec.Offset == 123, "Expected Offset 123, got %d", rec.Offset)
	a(t, rec.Size == 456, "Expected Size 456, got %d", rec.Size)
	a(t, rec.TimestampMs == 789, "Expected TimestampMs 789, got %d", rec.TimestampMs)
	a(t, rec.Writer == "w2", "Expected Writer 'w2', got '%s'", rec.Writer)
	a(t, rec.Codec == "", "Expected no codec, got '%s'", rec.Codec)

	err = ParseIndexLine("1 2 3 w0 zstd", &rec)
	a(t, err == nil, "ParseIndexLine failed: %v", err)
	a(t, rec.Codec == CodecZstd, "Expected codec zstd, got '%s'", rec.Codec)

	for _, line := range []string{"invalid line", "-1 2 3 w0", "1 x 3 w0", "1 2 3 w0 lz4"} {
		err = ParseIndexLine(line, &rec)
		a(t, err != nil, "Expected error for invalid index line '%s'", line)
	}
}

func TestHandleErrors(t *testing.T) {
	store := createStore(t, "")
	_, err := store.NewWriter("")
	a(t, err != nil, "Expected error for empty writer name")
	_, err = store.NewWriter("w 0")
	a(t, err != nil, "Expected error for writer name with space")

	w, err := store.NewWriter("w0")
	a(t, err == nil, "NewWriter failed: %v", err)
	err = w.EndRecord()
	a(t, errors.Is(err, errNotInRecord), "Expected errNotInRecord, got %v", err)

	// write before BeginRecord is reported by EndRecord
	w.WriteUint8(1)
	a(t, w.BeginRecord() == nil, "BeginRecord failed")
	a(t, errors.Is(w.BeginRecord(), errInRecord), "Expected errInRecord")
	w.WriteUint8(2)
	a(t, w.EndRecord() == nil, "EndRecord failed")

	a(t, w.Close() == nil, "first Close failed")
	a(t, errors.Is(w.Close(), ErrClosed), "Expected ErrClosed on second Close")
	a(t, errors.Is(w.BeginRecord(), ErrClosed), "Expected ErrClosed from BeginRecord after Close")

	a(t, store.Close() == nil, "store Close failed")
	_, err = store.NewWriter("w1")
	a(t, errors.Is(err, ErrClosed), "Expected ErrClosed, got %v", err)
	_, err = store.NewReader()
	a(t, errors.Is(err, ErrClosed), "Expected ErrClosed, got %v", err)
}

func TestClear(t *testing.T) {
	store := createStore(t, "")
	defer store.Close()
	w, _ := store.NewWriter("w0")
	for _, rec := range genRandomRecords(10) {
		writeTestRecord(t, w, rec)
	}
	a(t, store.RecordCount() == 10, "Expected 10 records, got %d", store.RecordCount())
	err := store.Clear()
	a(t, err == nil, "Clear failed: %v", err)
	a(t, store.RecordCount() == 0, "Expected 0 records, got %d", store.RecordCount())
	_, err = os.Stat(store.dataFilePath)
	a(t, os.IsNotExist(err), "Expected data file to be deleted")

	r, err := store.NewReader()
	a(t, err == nil, "NewReader failed: %v", err)
	a(t, !r.Advance(), "Expected no records after Clear")
	r.Close()

	// store is usable after Clear
	writeTestRecord(t, w, testRecord{N: 42, Str: "x"})
	a(t, store.RecordCount() == 1, "Expected 1 record, got %d", store.RecordCount())
}

func TestConcurrentWriters(t *testing.T) {
	store := createStore(t, "")
	defer store.Close()

	const nWriters = 4
	const perWriter = 200
	var wg sync.WaitGroup
	for i := range nWriters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := store.NewWriter(fmt.Sprintf("w%d", i))
			a(t, err == nil, "NewWriter failed: %v", err)
			defer w.Close()
			for j := range perWriter {
				writeTestRecord(t, w, testRecord{N: uint32(i*perWriter + j), Str: strings.Repeat("x", j%50)})
			}
		}()
	}
	wg.Wait()

	// every record is intact even though order across writers is arbitrary
	r, err := store.NewReader()
	a(t, err == nil, "NewReader failed: %v", err)
	defer r.Close()
	seen := map[uint32]bool{}
	for r.Advance() {
		n, err := r.ReadUint32()
		a(t, err == nil, "ReadUint32 failed: %v", err)
		exp := fmt.Sprintf("w%d", n/perWriter)
		a(t, r.WriterName() == exp, "Record %d: expected writer %s, got %s", n, exp, r.WriterName())
		s, err := r.ReadString()
		a(t, err == nil && len(s) == int(n%perWriter)%50, "Record %d: bad string (err: %v)", n, err)
		seen[n] = true
	}
	a(t, r.Err() == nil, "Reader failed: %v", r.Err())
	a(t, len(seen) == nWriters*perWriter, "Expected %d records, got %d", nWriters*perWriter, len(seen))
}
