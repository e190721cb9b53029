package dataset

import (
	"fmt"
	"path/filepath"

	"github.com/kjk/chronsynth/appendstore"
	"github.com/kjk/chronsynth/pebblestore"
	"github.com/kjk/chronsynth/pipeline"
	"github.com/kjk/chronsynth/validate"
)

const (
	BackendFile   = "file"
	BackendPebble = "pebble"

	// sub-directory of a dataset with pebble database
	pebbleDirName = "pebble"
)

type storeReader interface {
	validate.RecordReader
	Close() error
}

// store is what Build and Verify need from a backend
type store interface {
	Clear() error
	Close() error
	RecordCount() int
	NewWriter(name string) (pipeline.RecordWriter, error)
	NewReader() (storeReader, error)
}

type fileStore struct {
	s *appendstore.Store
}

func (f fileStore) Clear() error     { return f.s.Clear() }
func (f fileStore) Close() error     { return f.s.Close() }
func (f fileStore) RecordCount() int { return f.s.RecordCount() }

func (f fileStore) NewWriter(name string) (pipeline.RecordWriter, error) {
	w, err := f.s.NewWriter(name)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (f fileStore) NewReader() (storeReader, error) {
	r, err := f.s.NewReader()
	if err != nil {
		return nil, err
	}
	return r, nil
}

type pebbleStore struct {
	s *pebblestore.Store
}

func (p pebbleStore) Clear() error     { return p.s.Clear() }
func (p pebbleStore) Close() error     { return p.s.Close() }
func (p pebbleStore) RecordCount() int { return p.s.RecordCount() }

func (p pebbleStore) NewWriter(name string) (pipeline.RecordWriter, error) {
	w, err := p.s.NewWriter(name)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (p pebbleStore) NewReader() (storeReader, error) {
	r, err := p.s.NewReader()
	if err != nil {
		return nil, err
	}
	return r, nil
}

// normalizeCompression maps "none" to ""
func normalizeCompression(c string) string {
	if c == "none" {
		return ""
	}
	return c
}

func openStore(dir string, backend string, compression string) (store, error) {
	compression = normalizeCompression(compression)
	switch backend {
	case BackendFile, "":
		s := &appendstore.Store{
			DataDir:     dir,
			Compression: compression,
		}
		if err := appendstore.OpenStore(s); err != nil {
			return nil, err
		}
		return fileStore{s}, nil
	case BackendPebble:
		if compression != "" {
			return nil, fmt.Errorf("compression '%s' is not supported by backend '%s'", compression, backend)
		}
		s, err := pebblestore.Open(filepath.Join(dir, pebbleDirName))
		if err != nil {
			return nil, err
		}
		return pebbleStore{s}, nil
	}
	return nil, fmt.Errorf("unknown backend '%s'", backend)
}
