// Package pipeline writes a sequence of records into a store through a chain
// of workers, each with its own writer handle, while preserving the order
// of the sequence.
//
// The coordinator and N workers are connected by N+1 channels:
//
//	coordinator -> ch[0] -> w0 -> ch[1] -> w1 -> ... -> w(N-1) -> ch[N] -> coordinator
//
// Worker i appends records for indexes where index % N == i and forwards
// every token. The coordinator sends index k only after it received k-1 from
// the last channel, so a token can't overtake the previous one and records
// are appended in index order even though no lock is shared between workers.
package pipeline

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/kjk/chronsynth/log"
)

var (
	// ErrOutOfOrder means a token came out of the pipeline different than
	// the one that was sent in
	ErrOutOfOrder = errors.New("pipeline: out of order")
	// ErrShutdown is returned by Feed after Shutdown
	ErrShutdown = errors.New("pipeline: shut down")
)

// capacity of channels between stages. At most one token is in flight
// so it never fills up.
const handoffCapacity = 1

type Pipeline struct {
	workers []*Worker
	chans   []chan Token

	wg        sync.WaitGroup
	closeErrs []error

	next      uint32
	nSent     int
	err       error
	isStopped bool
	stopErr   error
}

// New creates a pipeline of n workers with writer handles from newWriter and
// starts the workers. Handle for worker i is named WriterName(i).
func New(newWriter WriterFactory, n int) (*Pipeline, error) {
	if n < 1 {
		return nil, fmt.Errorf("pipeline: need at least 1 worker, got %d", n)
	}
	writers := make([]RecordWriter, 0, n)
	for i := range n {
		w, err := newWriter(WriterName(i))
		if err != nil {
			for _, w := range writers {
				w.Close()
			}
			return nil, fmt.Errorf("pipeline: create writer %d: %w", i, err)
		}
		writers = append(writers, w)
	}

	p := &Pipeline{
		chans:     make([]chan Token, n+1),
		closeErrs: make([]error, n),
	}
	for i := range p.chans {
		p.chans[i] = make(chan Token, handoffCapacity)
	}
	for i, w := range writers {
		worker := newWorker(i, n, w, p.chans[i], p.chans[i+1])
		p.workers = append(p.workers, worker)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			// each goroutine writes only its own slot
			p.closeErrs[i] = worker.Run()
		}()
	}
	return p, nil
}

func (p *Pipeline) head() chan<- Token {
	return p.chans[0]
}

func (p *Pipeline) tail() <-chan Token {
	return p.chans[len(p.chans)-1]
}

// Workers returns the workers. Their Appended counts are only valid
// after Shutdown.
func (p *Pipeline) Workers() []*Worker {
	return p.workers
}

// Sent returns number of indexes that made it through the pipeline
func (p *Pipeline) Sent() int {
	return p.nSent
}

// Feed sends the next n indexes through the pipeline, one at a time, checking
// that each comes out the other end before sending the next one.
// Indexes continue from the previous Feed, starting at 0.
// After an error the pipeline only accepts Shutdown.
func (p *Pipeline) Feed(n int) error {
	if p.isStopped {
		return ErrShutdown
	}
	if p.err != nil {
		return p.err
	}
	if n < 0 || uint64(p.next)+uint64(n) > math.MaxUint32+1 {
		return fmt.Errorf("pipeline: can't send %d more indexes after %d", n, p.next)
	}
	for range n {
		sent := p.next
		p.head() <- IndexToken(sent)
		got := <-p.tail()
		if got.Err() != nil {
			p.err = got.Err()
			return p.err
		}
		if i, ok := got.Index(); !ok || i != sent {
			p.err = fmt.Errorf("%w: sent %d, got %s", ErrOutOfOrder, sent, got)
			return p.err
		}
		p.next++
		p.nSent++
	}
	return nil
}

// Shutdown sends the shutdown token, waits for all workers to exit and
// returns errors from closing writer handles. It's safe to call multiple times.
func (p *Pipeline) Shutdown() error {
	if p.isStopped {
		return p.stopErr
	}
	p.isStopped = true
	p.head() <- ShutdownToken()
	got := <-p.tail()
	p.wg.Wait()
	var errs []error
	if !got.IsShutdown() {
		errs = append(errs, fmt.Errorf("%w: sent shutdown, got %s", ErrOutOfOrder, got))
	}
	for i, err := range p.closeErrs {
		if err != nil {
			errs = append(errs, fmt.Errorf("pipeline: close writer %d: %w", i, err))
		}
	}
	p.stopErr = errors.Join(errs...)
	return p.stopErr
}

type Stats struct {
	Workers  int
	Messages int
	// Appended[i] is the number of records appended by worker i
	Appended []int
	Elapsed  time.Duration
}

// Run writes records 0..messages-1 through a pipeline of n workers.
// The pipeline is always shut down, even if writing fails.
func Run(newWriter WriterFactory, workers int, messages int) (*Stats, error) {
	timeStart := time.Now()
	p, err := New(newWriter, workers)
	if err != nil {
		return nil, err
	}
	errFeed := p.Feed(messages)
	errShutdown := p.Shutdown()
	stats := &Stats{
		Workers:  workers,
		Messages: p.Sent(),
		Elapsed:  time.Since(timeStart),
	}
	for _, w := range p.Workers() {
		stats.Appended = append(stats.Appended, w.Appended)
	}
	if err = errors.Join(errFeed, errShutdown); err != nil {
		return stats, err
	}
	log.Verbosef("pipeline: %d records with %d workers in %s\n", stats.Messages, workers, stats.Elapsed)
	return stats, nil
}
