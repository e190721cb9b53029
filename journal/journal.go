// Package journal is an append-only, human-readable log of named records.
//
// Each record is framed as:
//
//	--- <size> <timestamp in unix ms> <name>\n
//	<data>\n
//
// The trailing newline is only added when data doesn't end with one.
// Data of key/value records is one "key: value\n" line per entry, or
// "key:+<len>\n<value>\n" when the value is long or not printable.
package journal

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

var hdrPrefix = []byte("--- ")

type Entry struct {
	Key   string
	Value string
}

type Record struct {
	Name      string
	Timestamp time.Time
	Entries   []Entry
}

// Get returns a value for a given key
func (r *Record) Get(key string) (string, bool) {
	for _, e := range r.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

func serializableOnLine(s string) bool {
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b < 32 || b > 127 {
			return false
		}
	}
	return true
}

// values that are empty, long or not printable are written with a size prefix
func needsLongFormat(s string) bool {
	return len(s) == 0 || len(s) > 120 || !serializableOnLine(s)
}

func toStr(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return fmt.Sprintf("%v", v)
}

// MarshalEntries serializes key/value pairs given as args
func MarshalEntries(args ...any) ([]byte, error) {
	n := len(args)
	if n == 0 || n%2 != 0 {
		return nil, fmt.Errorf("invalid number of args: %d. Should be multiple of 2", n)
	}
	var buf bytes.Buffer
	for i := 0; i < n; i += 2 {
		key := toStr(args[i])
		if key == "" || strings.ContainsAny(key, ":\n") {
			return nil, fmt.Errorf("invalid key '%s'", key)
		}
		val := toStr(args[i+1])
		buf.WriteString(key)
		if needsLongFormat(val) {
			buf.WriteString(":+")
			buf.WriteString(strconv.Itoa(len(val)))
			buf.WriteByte('\n')
			buf.WriteString(val)
			if !strings.HasSuffix(val, "\n") {
				buf.WriteByte('\n')
			}
			continue
		}
		buf.WriteString(": ")
		buf.WriteString(val)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// UnmarshalEntries parses data created by MarshalEntries
func UnmarshalEntries(d []byte) ([]Entry, error) {
	var res []Entry
	for len(d) > 0 {
		idx := bytes.IndexByte(d, '\n')
		if idx == -1 {
			return nil, fmt.Errorf("missing '\\n' at the end of '%s'", string(d))
		}
		line := d[:idx]
		d = d[idx+1:]
		idx = bytes.IndexByte(line, ':')
		if idx == -1 || idx+1 >= len(line) {
			return nil, fmt.Errorf("line in unrecognized format: '%s'", line)
		}
		key := string(line[:idx])
		kind := line[idx+1]
		val := line[idx+2:]
		if kind == ' ' {
			res = append(res, Entry{Key: key, Value: string(val)})
			continue
		}
		if kind != '+' {
			return nil, fmt.Errorf("line in unrecognized format: '%s'", line)
		}
		n, err := strconv.Atoi(string(val))
		if err != nil {
			return nil, err
		}
		if n < 0 || n > len(d) {
			return nil, fmt.Errorf("invalid length %d of value, remaining data is %d", n, len(d))
		}
		res = append(res, Entry{Key: key, Value: string(d[:n])})
		d = d[n:]
		// optional newline added for readability
		if len(d) > 0 && d[0] == '\n' {
			d = d[1:]
		}
	}
	return res, nil
}

// MarshalLine frames d as a record with name and timestamp t.
// Zero t is not written.
func MarshalLine(name string, t time.Time, d []byte) []byte {
	var wb bytes.Buffer
	wb.Grow(len(hdrPrefix) + len(name) + len(d) + 32)
	wb.Write(hdrPrefix)
	wb.WriteString(strconv.Itoa(len(d)))
	if !t.IsZero() {
		wb.WriteByte(' ')
		wb.WriteString(strconv.FormatInt(t.UnixMilli(), 10))
	}
	if name != "" {
		wb.WriteByte(' ')
		wb.WriteString(name)
	}
	wb.WriteByte('\n')
	if len(d) > 0 {
		wb.Write(d)
		if d[len(d)-1] != '\n' {
			wb.WriteByte('\n')
		}
	}
	return wb.Bytes()
}

// Journal appends records to a file
type Journal struct {
	path string
	mu   sync.Mutex
}

func Open(path string) *Journal {
	return &Journal{path: path}
}

// Append writes a key/value record. The file is opened and closed on every
// append because records are rare.
func (j *Journal) Append(name string, args ...any) error {
	d, err := MarshalEntries(args...)
	if err != nil {
		return err
	}
	line := MarshalLine(name, time.Now(), d)

	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err = f.Write(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// parseHeader parses "--- <size> [<timestamp>] [<name>]"
func parseHeader(hdr []byte) (size int, t time.Time, name string, err error) {
	rest, ok := bytes.CutPrefix(hdr, hdrPrefix)
	if !ok {
		return 0, t, "", fmt.Errorf("unexpected header '%s'", hdr)
	}
	parts := strings.SplitN(string(rest), " ", 3)
	size, err = strconv.Atoi(parts[0])
	if err != nil || size < 0 {
		return 0, t, "", fmt.Errorf("unexpected header '%s'", hdr)
	}
	if len(parts) == 1 {
		return size, t, "", nil
	}
	ms, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		// no timestamp, the rest is a name
		return size, t, strings.Join(parts[1:], " "), nil
	}
	t = time.UnixMilli(ms)
	if len(parts) > 2 {
		name = parts[2]
	}
	return size, t, name, nil
}

// Reader reads framed records
type Reader struct {
	r *bufio.Reader

	// available after ReadNext, over-written by the next ReadNext
	Name      string
	Timestamp time.Time
	Data      []byte

	err  error
	done bool
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadNext reads the next record. Returns false at the end of data or on
// error; check Err() to tell them apart.
func (r *Reader) ReadNext() bool {
	if r.err != nil || r.done {
		return false
	}
	hdr, err := r.r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(hdr) == 0 {
			r.done = true
		} else if err == io.EOF {
			r.err = fmt.Errorf("truncated header '%s'", hdr)
		} else {
			r.err = err
		}
		return false
	}
	size, t, name, err := parseHeader(hdr[:len(hdr)-1])
	if err != nil {
		r.err = err
		return false
	}
	r.Data = make([]byte, size)
	if _, err = io.ReadFull(r.r, r.Data); err != nil {
		r.err = err
		return false
	}
	// account for newline added by MarshalLine
	if size > 0 && r.Data[size-1] != '\n' {
		if _, err = r.r.Discard(1); err != nil {
			r.err = err
			return false
		}
	}
	r.Name = name
	r.Timestamp = t
	return true
}

func (r *Reader) Err() error {
	return r.err
}

// ReadAll reads all key/value records from a journal file.
// A missing file is an empty journal.
func ReadAll(path string) ([]*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var res []*Record
	r := NewReader(f)
	for r.ReadNext() {
		entries, err := UnmarshalEntries(r.Data)
		if err != nil {
			return nil, fmt.Errorf("record '%s': %w", r.Name, err)
		}
		res = append(res, &Record{
			Name:      r.Name,
			Timestamp: r.Timestamp,
			Entries:   entries,
		})
	}
	return res, r.Err()
}
