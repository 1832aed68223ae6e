// Package pubsub implements the generic Event Pub/Sub primitive (§4.8): a
// multi-reader broadcast channel (PubChan) and per-reader views onto it
// (SubChan). Subscribers observe only events written after they attached;
// callers that need history first replay it from the Event Store, then
// subscribe for what comes next.
package pubsub

import "sync"

// PubChan is a multi-producer, multi-reader broadcast point for events of
// type T. Writes are fanned out to every currently-attached SubChan in
// write order; a slow or absent subscriber never blocks the writer.
type PubChan[T any] struct {
	mu   sync.Mutex
	subs map[*SubChan[T]]struct{}
}

// NewPubChan creates an empty broadcast point.
func NewPubChan[T any]() *PubChan[T] {
	return &PubChan[T]{subs: make(map[*SubChan[T]]struct{})}
}

// Write fans event out to every attached subscriber's buffer. Subscribers
// that are not keeping up drop the oldest buffered event rather than block
// the writer (bounded ring semantics), so one stalled reader can never wedge
// the dialog that's producing events.
func (p *PubChan[T]) Write(event T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for sub := range p.subs {
		sub.deliver(event)
	}
}

func (p *PubChan[T]) attach(sub *SubChan[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[sub] = struct{}{}
}

func (p *PubChan[T]) detach(sub *SubChan[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subs, sub)
}

// subBufferSize bounds how many unread events a subscriber buffers before
// the oldest is dropped to keep the writer non-blocking.
const subBufferSize = 256

// SubChan is one reader's view onto a PubChan.
type SubChan[T any] struct {
	pub     *PubChan[T]
	ch      chan T
	mu      sync.Mutex
	closed  bool
	cancelC chan struct{}
}

// NewSubChan attaches a new subscriber to pub. Cancel it with Cancel when
// the reader goes away.
func NewSubChan[T any](pub *PubChan[T]) *SubChan[T] {
	sub := &SubChan[T]{
		pub:     pub,
		ch:      make(chan T, subBufferSize),
		cancelC: make(chan struct{}),
	}
	pub.attach(sub)
	return sub
}

func (s *SubChan[T]) deliver(event T) {
	select {
	case s.ch <- event:
	default:
		// Buffer full: drop the oldest to make room rather than block the
		// writer. The reader falls behind but the dialog keeps driving.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- event:
		default:
		}
	}
}

// Read blocks until the next event arrives or the subscription is
// cancelled, in which case ok is false.
func (s *SubChan[T]) Read() (event T, ok bool) {
	select {
	case event, ok = <-s.ch:
		return event, ok
	case <-s.cancelC:
		var zero T
		return zero, false
	}
}

// Cancel detaches the subscription. Safe to call more than once.
func (s *SubChan[T]) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.cancelC)
	s.pub.detach(s)
}
