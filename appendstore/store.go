package appendstore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	// ErrClosed is returned when using a closed store or handle
	ErrClosed = errors.New("appendstore: closed")
)

type Record struct {
	// offset in data file
	Offset int64
	// size of the data as stored (i.e. after compression)
	Size int64
	// time in utc unix milliseconds (milliseconds since January 1, 1970, 00:00:00 UTC)
	TimestampMs int64
	// name of the writer handle that appended the record
	// can't contain spaces or newlines
	Writer string
	// compression of the data, empty if not compressed
	Codec string
}

type Store struct {
	DataDir       string
	IndexFileName string
	DataFileName  string

	// if true, will call file.Sync() after every write
	// this makes things super slow
	SyncWrite bool

	// Compression of appended records: "" (none), "zstd" or "br"
	Compression string

	indexFile *os.File
	dataFile  *os.File

	indexFilePath string
	dataFilePath  string

	nRecords int
	closed   bool
	comp     *compressor
	mu       sync.Mutex
}

// RecordCount returns number of records in the store
func (s *Store) RecordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nRecords
}

func (s *Store) closeFiles() error {
	var err1, err2 error
	if s.indexFile != nil {
		err1 = s.indexFile.Close()
		s.indexFile = nil
	}
	if s.dataFile != nil {
		err2 = s.dataFile.Close()
		s.dataFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// Close closes the index and data files. After Close appending fails with ErrClosed.
// It's safe to call multiple times.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.closeFiles()
}

// Clear deletes all records
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.closeFiles(); err != nil {
		return err
	}
	for _, path := range []string{s.dataFilePath, s.indexFilePath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	s.nRecords = 0
	return createEmptyFile(s.indexFilePath)
}

func appendToFile(path string, filePtr **os.File, data []byte, sync bool) (int64, error) {
	var err error
	var off int64

	file := *filePtr
	defer func() {
		if err != nil && file != nil {
			file.Close()
			*filePtr = nil
		}
	}()

	if file == nil {
		file, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return 0, err
		}
		*filePtr = file
	}
	off, err = file.Seek(0, io.SeekEnd) // move to the end of the file
	if err != nil {
		return 0, err
	}
	if _, err = file.Write(data); err != nil {
		return 0, err
	}
	if sync {
		if err = file.Sync(); err != nil {
			return 0, err
		}
	}
	return off, nil
}

// format of the index line:
// <offset> <size> <timestamp> <writer> [<codec>]
func serializeRecord(rec *Record) string {
	if rec.Codec == "" {
		return fmt.Sprintf("%d %d %d %s\n", rec.Offset, rec.Size, rec.TimestampMs, rec.Writer)
	}
	return fmt.Sprintf("%d %d %d %s %s\n", rec.Offset, rec.Size, rec.TimestampMs, rec.Writer, rec.Codec)
}

func validateWriterName(name string) error {
	if name == "" {
		return fmt.Errorf("writer name is empty")
	}
	if strings.ContainsAny(name, " \n") {
		return fmt.Errorf("writer name '%s' cannot contain spaces or newlines", name)
	}
	return nil
}

// appendRecord stores data as one record. Data and the index line are written
// while holding the lock so a record is never interleaved with another.
func (s *Store) appendRecord(writer string, data []byte) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	rec := &Record{
		Writer:      writer,
		Codec:       s.Compression,
		TimestampMs: time.Now().UTC().UnixMilli(),
	}
	if s.Compression != "" {
		var err error
		data, err = s.comp.compress(s.Compression, data)
		if err != nil {
			return nil, err
		}
	}
	rec.Size = int64(len(data))
	off, err := appendToFile(s.dataFilePath, &s.dataFile, data, s.SyncWrite)
	if err != nil {
		return nil, err
	}
	rec.Offset = off

	indexLine := serializeRecord(rec)
	if _, err := appendToFile(s.indexFilePath, &s.indexFile, []byte(indexLine), s.SyncWrite); err != nil {
		return nil, err
	}
	s.nRecords++
	return rec, nil
}

// ParseIndexLine parses a single line from the index file into a Record.
// rec is passed in to allow re-using Record for perf.
func ParseIndexLine(line string, rec *Record) error {
	parts := strings.SplitN(line, " ", 5)
	if len(parts) < 4 {
		return fmt.Errorf("invalid index line: %s", line)
	}

	var err error
	rec.Offset, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil || rec.Offset < 0 {
		return fmt.Errorf("invalid offset '%s' in index line: %s", parts[0], line)
	}
	rec.Size, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil || rec.Size < 0 {
		return fmt.Errorf("invalid size '%s' in index line: %s", parts[1], line)
	}
	rec.TimestampMs, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil || rec.TimestampMs < 0 {
		return fmt.Errorf("invalid timestamp '%s' in index line: %s", parts[2], line)
	}
	rec.Writer = parts[3]
	// possibly reusing rec so needs to reset
	rec.Codec = ""
	if len(parts) > 4 {
		rec.Codec = parts[4]
		if !isValidCodec(rec.Codec) {
			return fmt.Errorf("unknown codec '%s' in index line: %s", rec.Codec, line)
		}
	}
	return nil
}

// ParseIndexFromFile returns an iterator over records parsed from an index file.
// Call the returned error function after iteration to check for parse errors.
func ParseIndexFromFile(path string) (iter.Seq[*Record], func() error) {
	var iterErr error

	seq := func(yield func(*Record) bool) {
		file, err := os.Open(path)
		if err != nil {
			iterErr = err
			return
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			rec := &Record{}
			if err := ParseIndexLine(line, rec); err != nil {
				iterErr = err
				return
			}
			if !yield(rec) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			iterErr = fmt.Errorf("error reading index file: %w", err)
		}
	}
	return seq, func() error { return iterErr }
}

func readAllRecords(path string) ([]*Record, error) {
	var res []*Record
	records, errFn := ParseIndexFromFile(path)
	for rec := range records {
		res = append(res, rec)
	}
	return res, errFn()
}

func createEmptyFile(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	return file.Close()
}

// OpenStore initializes the Store, creating the directory and index file if needed.
func OpenStore(s *Store) error {
	if s.DataDir == "" {
		return fmt.Errorf("data directory is not set. For current directory, use '.'")
	}
	if s.IndexFileName == "" {
		s.IndexFileName = "index.txt"
	}
	if s.DataFileName == "" {
		s.DataFileName = "data.bin"
	}
	if !isValidCodec(s.Compression) {
		return fmt.Errorf("unknown compression '%s'", s.Compression)
	}

	var err error
	s.indexFilePath, err = filepath.Abs(filepath.Join(s.DataDir, s.IndexFileName))
	if err != nil {
		return fmt.Errorf("failed to get absolute path for index file: %w", err)
	}
	s.dataFilePath, err = filepath.Abs(filepath.Join(s.DataDir, s.DataFileName))
	if err != nil {
		return fmt.Errorf("failed to get absolute path for data file: %w", err)
	}

	if err = os.MkdirAll(s.DataDir, 0755); err != nil {
		return err
	}
	if _, err := os.Stat(s.indexFilePath); os.IsNotExist(err) {
		if err = createEmptyFile(s.indexFilePath); err != nil {
			return err
		}
	}
	records, err := readAllRecords(s.indexFilePath)
	if err != nil {
		return fmt.Errorf("failed to read records from index file: %w", err)
	}
	s.comp = &compressor{}
	s.nRecords = len(records)
	s.closed = false
	return nil
}
