// Package framebus hands decoded frames from a session to its renderers.
// Every slot holds only the newest frame: a publish overwrites whatever the
// consumer has not taken yet and counts it as dropped.
package framebus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrClosed is returned by Subscription.Next after the bus or the
// subscription has been closed.
var ErrClosed = errors.New("frame bus closed")

// Stats is a snapshot of bus counters.
type Stats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	LastSeq     uint64 `json:"last_seq"`
	Subscribers int    `json:"subscribers"`
}

// Bus is safe for one producer and any number of consumers.
type Bus struct {
	seq       atomic.Uint64
	published atomic.Uint64

	main mailbox

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	b := &Bus{subs: make(map[string]*Subscription)}
	b.main.init()
	return b
}

// Publish stamps frame with the next sequence number and makes it the
// latest. It never blocks.
func (b *Bus) Publish(frame *core.RawFrame) {
	if frame == nil {
		return
	}
	frame.Seq = b.seq.Add(1)
	b.published.Add(1)

	b.main.put(frame)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s.slot.put(frame)
	}
}

// ConsumeLatest returns the newest frame, or false before the first
// publish. The frame stays in place: repeated calls return it again until
// the next publish. A publish that lands before any read counts as a drop.
func (b *Bus) ConsumeLatest() (*core.RawFrame, bool) {
	f := b.main.read()
	return f, f != nil
}

// Latest returns the newest frame without marking it read.
func (b *Bus) Latest() *core.RawFrame {
	return b.main.peek()
}

// Subscribe registers an independent consumer.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{id: uuid.NewString(), bus: b}
	s.slot.init()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.slot.close()
		return s
	}
	if last := b.main.peek(); last != nil {
		s.slot.put(last)
	}
	b.subs[s.id] = s
	return s
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Stats returns the current counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	n := len(b.subs)
	b.mu.Unlock()
	return Stats{
		Published:   b.published.Load(),
		Dropped:     b.main.dropped(),
		LastSeq:     b.seq.Load(),
		Subscribers: n,
	}
}

// Close wakes every subscriber with ErrClosed. Further publishes still
// update Latest.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		s.slot.close()
		delete(b.subs, id)
	}
}

// Subscription is one consumer's mailbox.
type Subscription struct {
	id   string
	bus  *Bus
	slot mailbox
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() string { return s.id }

// Next blocks until a frame newer than the last one taken is published.
func (s *Subscription) Next(ctx context.Context) (*core.RawFrame, error) {
	for {
		if f, ok := s.slot.take(); ok {
			return f, nil
		}
		if s.slot.isClosed() {
			return nil, ErrClosed
		}
		select {
		case <-s.slot.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Dropped counts frames overwritten before this consumer took them.
func (s *Subscription) Dropped() uint64 { return s.slot.dropped() }

// Close detaches the subscription.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
	s.slot.close()
}
