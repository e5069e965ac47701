// Package pipeline is the unbounded conduit between the capture session and
// the persistence consumer. Send never blocks; Recv blocks until a record is
// queued or every sender has been closed and the queue is empty.
package pipeline

import (
	"errors"
	"sync"

	"github.com/eapache/queue"

	"github.com/LinkTsang/go-sniffer/internal/record"
)

var (
	ErrClosed    = errors.New("pipeline sender closed")
	ErrNilRecord = errors.New("nil record")
)

type Pipeline struct {
	mu      sync.Mutex
	ready   *sync.Cond
	buf     *queue.Queue
	senders int
	opened  bool
}

func New() *Pipeline {
	p := &Pipeline{buf: queue.New()}
	p.ready = sync.NewCond(&p.mu)
	return p
}

// Sender registers a new producer. The pipeline reports end-of-stream once at
// least one sender was created and all of them are closed.
func (p *Pipeline) Sender() *Sender {
	p.mu.Lock()
	p.senders++
	p.opened = true
	p.mu.Unlock()
	return &Sender{p: p}
}

// Recv returns the oldest queued record. ok is false at end-of-stream.
func (p *Pipeline) Recv() (r *record.Record, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.buf.Length() == 0 {
		if p.closedLocked() {
			return nil, false
		}
		p.ready.Wait()
	}
	return p.buf.Remove().(*record.Record), true
}

// Len is the number of records waiting for the consumer.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Length()
}

func (p *Pipeline) closedLocked() bool {
	return p.opened && p.senders == 0
}

type Sender struct {
	p    *Pipeline
	once sync.Once
	done bool
}

// Send enqueues r. It never waits for the consumer.
func (s *Sender) Send(r *record.Record) error {
	if r == nil {
		return ErrNilRecord
	}
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.done {
		return ErrClosed
	}
	s.p.buf.Add(r)
	s.p.ready.Signal()
	return nil
}

// Close drops this producer. Closing twice is a no-op.
func (s *Sender) Close() {
	s.once.Do(func() {
		s.p.mu.Lock()
		s.done = true
		s.p.senders--
		if s.p.closedLocked() {
			s.p.ready.Broadcast()
		}
		s.p.mu.Unlock()
	})
}
