package framebus

import (
	"sync"

	"github.com/babelcloud/hopemirror/internal/core"
)

// mailbox is a single-frame mailbox with overwrite semantics.
type mailbox struct {
	mu     sync.Mutex
	frame  *core.RawFrame // unconsumed frame, nil once taken
	last   *core.RawFrame // newest frame seen, consumed or not
	drops  uint64
	closed bool
	notify chan struct{}
}

func (s *mailbox) init() {
	s.notify = make(chan struct{}, 1)
}

func (s *mailbox) put(f *core.RawFrame) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.frame != nil {
		s.drops++
	}
	s.frame = f
	s.last = f
	s.mu.Unlock()
	s.wake()
}

func (s *mailbox) take() (*core.RawFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.frame
	s.frame = nil
	return f, f != nil
}

// read marks the newest frame seen and returns it.
func (s *mailbox) read() *core.RawFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = nil
	return s.last
}

func (s *mailbox) peek() *core.RawFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *mailbox) dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drops
}

func (s *mailbox) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

func (s *mailbox) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *mailbox) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
