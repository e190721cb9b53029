package pipeline

import (
	"fmt"

	"github.com/kjk/chronsynth/codec"
	"github.com/kjk/chronsynth/wire"
)

// RecordWriter is a writer handle into a store
type RecordWriter interface {
	wire.Writer
	BeginRecord() error
	EndRecord() error
	Close() error
}

// WriterFactory creates a writer handle with a given name
type WriterFactory func(name string) (RecordWriter, error)

// WriterName returns the name of writer handle used by worker with ordinal
func WriterName(ordinal int) string {
	return fmt.Sprintf("w%d", ordinal)
}

// Worker is one stage of the pipeline. It appends records for the indexes
// it owns and forwards every token, in the order received.
type Worker struct {
	Ordinal int
	Count   int
	// number of records appended, valid after Run returns
	Appended int

	writer RecordWriter
	in     <-chan Token
	out    chan<- Token
}

func newWorker(ordinal, count int, w RecordWriter, in <-chan Token, out chan<- Token) *Worker {
	return &Worker{
		Ordinal: ordinal,
		Count:   count,
		writer:  w,
		in:      in,
		out:     out,
	}
}

// Owns returns true if this worker writes the record for index
func (w *Worker) Owns(index uint32) bool {
	return int(index%uint32(w.Count)) == w.Ordinal
}

func (w *Worker) append(index uint32) error {
	if err := w.writer.BeginRecord(); err != nil {
		return err
	}
	codec.EncodeTo(w.writer, index)
	if err := w.writer.EndRecord(); err != nil {
		return err
	}
	w.Appended++
	return nil
}

// Run processes tokens until the shutdown token. It closes the writer handle
// after forwarding shutdown and returns the error from Close.
func (w *Worker) Run() error {
	for {
		t := <-w.in
		if i, ok := t.Index(); ok && t.err == nil && w.Owns(i) {
			if err := w.append(i); err != nil {
				t.err = fmt.Errorf("worker %d: append record %d: %w", w.Ordinal, i, err)
			}
		}
		w.out <- t
		if t.IsShutdown() {
			return w.writer.Close()
		}
	}
}
