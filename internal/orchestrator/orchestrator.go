// Package orchestrator owns at most one mirror session per device.
package orchestrator

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/babelcloud/hopemirror/internal/bridge"
	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/babelcloud/hopemirror/internal/session"
	"github.com/babelcloud/hopemirror/internal/util"
	"github.com/pkg/errors"
	"k8s.io/utils/keymutex"
)

// ErrShutdown is returned by Start once Shutdown has begun.
var ErrShutdown = errors.New("orchestrator is shut down")

// ErrNoSession is returned for devices without a session.
var ErrNoSession = errors.New("no session for device")

// Factory builds an unstarted session for dev.
type Factory func(dev core.DeviceHandle) *session.Session

// Orchestrator maps devices to sessions. Starts and stops for the same
// device are serialized; different devices proceed in parallel.
type Orchestrator struct {
	factory Factory
	locks   keymutex.KeyMutex
	logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[core.DeviceHandle]*session.Session
	closed   bool
	// starting counts Start calls past the closed check
	starting sync.WaitGroup
}

// New creates an orchestrator.
func New(factory Factory) *Orchestrator {
	return &Orchestrator{
		factory:  factory,
		locks:    keymutex.NewHashed(64),
		logger:   util.GetLogger().With("component", "orchestrator"),
		sessions: make(map[core.DeviceHandle]*session.Session),
	}
}

// Start returns the live session for dev, starting one if there is none.
// Terminal sessions are replaced. The session lives until Stop, Shutdown
// or ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context, dev core.DeviceHandle) (*session.Session, error) {
	key := string(dev)
	o.locks.LockKey(key)
	defer o.locks.UnlockKey(key)

	o.mu.Lock()
	closed, existing := o.closed, o.sessions[dev]
	if !closed {
		o.starting.Add(1)
	}
	o.mu.Unlock()
	if closed {
		return nil, ErrShutdown
	}
	defer o.starting.Done()
	if existing != nil && !existing.State().Terminal() {
		o.logger.Debug("Session already running", "device", dev)
		return existing, nil
	}

	s := o.factory(dev)
	if err := s.Start(ctx); err != nil {
		return nil, errors.Wrapf(err, "failed to start session for %s", dev)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		s.Stop()
		return nil, ErrShutdown
	}
	o.sessions[dev] = s
	o.mu.Unlock()

	o.logger.Info("Session started", "device", dev, "session", s.ID())
	return s, nil
}

// Get returns the session for dev, live or terminal.
func (o *Orchestrator) Get(dev core.DeviceHandle) (*session.Session, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.sessions[dev]
	return s, ok
}

// Sessions lists every known session ordered by device.
func (o *Orchestrator) Sessions() []*session.Session {
	o.mu.RLock()
	out := make([]*session.Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, s)
	}
	o.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Device() < out[j].Device() })
	return out
}

// Stop stops and forgets the session for dev.
func (o *Orchestrator) Stop(dev core.DeviceHandle) error {
	key := string(dev)
	o.locks.LockKey(key)
	defer o.locks.UnlockKey(key)

	o.mu.Lock()
	s, ok := o.sessions[dev]
	delete(o.sessions, dev)
	o.mu.Unlock()
	if !ok {
		return errors.Wrap(ErrNoSession, string(dev))
	}
	if err := s.Stop(); err != nil {
		return errors.Wrapf(err, "failed to stop session for %s", dev)
	}
	o.logger.Info("Session stopped", "device", dev)
	return nil
}

// Watch stops the session of any device reported offline. It returns when
// ctx is done or events is closed.
func (o *Orchestrator) Watch(ctx context.Context, events <-chan bridge.DeviceEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Online {
				continue
			}
			s, ok := o.Get(ev.Device)
			if !ok || s.State().Terminal() {
				continue
			}
			o.logger.Warn("Device went offline, stopping session", "device", ev.Device, "state", ev.NewState)
			if err := o.Stop(ev.Device); err != nil {
				o.logger.Warn("Failed to stop session", "device", ev.Device, "error", err)
			}
		}
	}
}

// Shutdown stops every session in parallel and waits for all of them to
// reach a terminal state, or for ctx to expire. Starts still in progress are
// waited for too.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	sessions := make(map[core.DeviceHandle]*session.Session, len(o.sessions))
	for dev, s := range o.sessions {
		sessions[dev] = s
	}
	o.mu.Unlock()

	var wg sync.WaitGroup
	for dev := range sessions {
		wg.Add(1)
		go func(dev core.DeviceHandle) {
			defer wg.Done()
			if err := o.Stop(dev); err != nil && !errors.Is(err, ErrNoSession) {
				o.logger.Warn("Failed to stop session", "device", dev, "error", err)
			}
		}(dev)
	}

	done := make(chan struct{})
	go func() {
		// a Start already in flight stops its own session once it sees closed
		o.starting.Wait()
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.logger.Info("All sessions stopped", "count", len(sessions))
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "shutdown interrupted")
	}
}
