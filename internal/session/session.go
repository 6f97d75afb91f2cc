// Package session runs one device mirror: it resolves the initial geometry,
// drives a decode stage on its own goroutine, publishes frames and accepts
// input until stopped or failed.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/babelcloud/hopemirror/config"
	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/babelcloud/hopemirror/internal/decode"
	"github.com/babelcloud/hopemirror/internal/framebus"
	"github.com/babelcloud/hopemirror/internal/geometry"
	"github.com/babelcloud/hopemirror/internal/input"
	"github.com/babelcloud/hopemirror/internal/transport"
	"github.com/babelcloud/hopemirror/internal/util"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DefaultRetryBackoff is the base delay between transport retries.
const DefaultRetryBackoff = 250 * time.Millisecond

var (
	// ErrInvalidTransition is returned for a state change the machine does not allow.
	ErrInvalidTransition = errors.New("invalid session state transition")
	// ErrNotStreaming rejects input outside the Streaming state.
	ErrNotStreaming = errors.New("session is not streaming")
)

// Bridge is the device side a session needs beyond capture.
type Bridge interface {
	input.Dispatcher
	DisplaySize(ctx context.Context, dev core.DeviceHandle) (int, int, error)
}

// Config assembles a session.
type Config struct {
	Device   core.DeviceHandle
	Bridge   Bridge
	Capture  transport.CaptureTransport
	Decoder  transport.DecodeTransport
	Settings config.Mirror
	Listener core.Listener
	// RetryBackoff overrides DefaultRetryBackoff.
	RetryBackoff time.Duration
}

// Session is one device's mirror.
type Session struct {
	id     string
	cfg    Config
	logger *slog.Logger

	geometry   *geometry.Holder
	bus        *framebus.Bus
	translator *input.Translator
	stage      decode.Stage
	startedAt  time.Time

	mu       sync.Mutex
	state    core.State
	err      error
	started  bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	done     chan struct{}

	releaseOnce sync.Once
}

// New creates a session in the Starting state. Start must be called next.
func New(cfg Config) *Session {
	if cfg.Listener == nil {
		cfg.Listener = core.NopListener{}
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.Settings.RetryBudget <= 0 {
		cfg.Settings.RetryBudget = 3
	}

	fallback, _ := geometry.New(geometry.DefaultWidth, geometry.DefaultHeight, 1)
	if cfg.Settings.Scale > 0 && cfg.Settings.Scale <= 1 {
		fallback, _ = geometry.New(geometry.DefaultWidth, geometry.DefaultHeight, cfg.Settings.Scale)
	}
	id := uuid.NewString()
	holder := geometry.NewHolder(fallback)
	return &Session{
		id:         id,
		cfg:        cfg,
		logger:     util.DeviceLogger(string(cfg.Device)).With("session", id[:8]),
		geometry:   holder,
		bus:        framebus.New(),
		translator: input.NewTranslator(cfg.Device, cfg.Bridge, holder),
		state:      core.StateStarting,
		loopDone:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start resolves the geometry, opens the capture and launches the decode
// loop. On failure the session is Failed and the error is returned. The
// loop runs until Stop or until ctx is cancelled.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.Wrap(ErrInvalidTransition, "session already started")
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("Starting session", "strategy", s.cfg.Settings.Strategy, "scale", s.cfg.Settings.Scale)

	w, h, gerr := s.cfg.Bridge.DisplaySize(ctx, s.cfg.Device)
	if gerr != nil {
		s.logger.Warn("Display size unavailable, using fallback", "width", w, "height", h, "error", gerr)
	}
	state, err := geometry.New(w, h, s.cfg.Settings.Scale)
	if err != nil {
		return s.failStart(errors.Wrap(err, "invalid initial geometry"))
	}
	s.geometry.Store(state)
	s.cfg.Listener.OnGeometryChanged(s.cfg.Device, state)

	stage, err := decode.New(decode.Deps{
		Device:   s.cfg.Device,
		Capture:  s.cfg.Capture,
		Decoder:  s.cfg.Decoder,
		Geometry: s.geometry,
		Settings: s.cfg.Settings,
		Logger:   util.ComponentLogger(string(s.cfg.Device), "decode"),
	})
	if err != nil {
		return s.failStart(err)
	}
	s.stage = stage

	loopCtx, cancel := context.WithCancel(ctx)
	if err := stage.Start(loopCtx); err != nil {
		cancel()
		return s.failStart(err)
	}

	s.mu.Lock()
	s.cancel = cancel
	s.startedAt = time.Now()
	s.mu.Unlock()

	if err := s.transition(core.StateStreaming, nil); err != nil {
		cancel()
		return s.failStart(err)
	}
	go func() {
		failure := s.run(loopCtx)
		s.afterLoop(failure)
	}()
	s.logger.Info("Session streaming", "geometry", state.String(), "stage", stage.Name())
	return nil
}

func (s *Session) failStart(err error) error {
	s.release()
	close(s.loopDone)
	s.transition(core.StateFailed, err)
	return err
}

// run is the decode loop. It returns the error that exhausted the retry
// budget, or nil when cancelled.
func (s *Session) run(ctx context.Context) error {
	defer close(s.loopDone)

	budget := s.cfg.Settings.RetryBudget
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		frame, err := s.stage.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			switch {
			case errors.Is(err, core.ErrFrameUnavailable):
				continue
			case core.IsKind(err, core.KindFrameDecode):
				s.logger.Debug("Skipping bad frame", "error", err)
				continue
			}

			failures++
			s.logger.Warn("Transport failure", "attempt", failures, "budget", budget, "error", err)
			if failures >= budget {
				return err
			}
			if ctx.Err() == nil {
				t := time.NewTimer(s.cfg.RetryBackoff * time.Duration(failures))
				select {
				case <-t.C:
				case <-ctx.Done():
				}
				t.Stop()
			}
			continue
		}

		failures = 0
		s.deliver(frame)
	}
}

// deliver pushes a geometry change before the frame that revealed it, so
// input never maps against a stale size.
func (s *Session) deliver(frame *core.RawFrame) {
	if !s.geometry.Load().SameDevice(frame.Width, frame.Height) {
		state, changed, err := s.geometry.UpdateDevice(frame.Width, frame.Height)
		if err != nil {
			s.logger.Warn("Ignoring frame with invalid size", "width", frame.Width, "height", frame.Height, "error", err)
			return
		}
		if changed {
			s.logger.Info("Device geometry changed", "geometry", state.String())
			s.cfg.Listener.OnGeometryChanged(s.cfg.Device, state)
		}
	}
	s.bus.Publish(frame)
	s.cfg.Listener.OnFrameReady(s.cfg.Device, frame)
}

func (s *Session) afterLoop(failure error) {
	if failure != nil {
		s.release()
		if err := s.transition(core.StateFailed, failure); err == nil {
			s.logger.Error("Session failed", "error", failure)
		}
		return
	}
	// cancelled by the parent context rather than by Stop
	if s.transition(core.StateStopping, nil) == nil {
		s.release()
		s.transition(core.StateStopped, nil)
	}
}

// Stop terminates the session's subprocesses, joins the decode loop and
// leaves the session Stopped. It is idempotent and safe to call concurrently.
func (s *Session) Stop() error {
	switch s.State() {
	case core.StateStopped, core.StateFailed:
		return nil
	case core.StateStarting:
		return errors.Wrap(ErrInvalidTransition, "session has not started streaming")
	}

	if err := s.transition(core.StateStopping, nil); err != nil {
		// another Stop or a failure got there first
		<-s.done
		return nil
	}
	s.logger.Info("Stopping session")

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	cancel()
	// unblock any pending read before joining
	s.stage.Close()
	<-s.loopDone

	s.release()
	return s.transition(core.StateStopped, nil)
}

func (s *Session) release() {
	s.releaseOnce.Do(func() {
		if s.stage != nil {
			if err := s.stage.Close(); err != nil {
				s.logger.Warn("Failed to close decode stage", "error", err)
			}
		}
		s.translator.Close()
		s.bus.Close()
		s.logger.Debug("Session resources released")
	})
}

var transitions = map[core.State][]core.State{
	core.StateStarting:  {core.StateStreaming, core.StateFailed},
	core.StateStreaming: {core.StateStopping, core.StateFailed},
	core.StateStopping:  {core.StateStopped},
}

func allowed(from, to core.State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s *Session) transition(to core.State, cause error) error {
	s.mu.Lock()
	from := s.state
	if !allowed(from, to) {
		s.mu.Unlock()
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
	}
	s.state = to
	if cause != nil && s.err == nil {
		s.err = cause
	}
	if to.Terminal() {
		close(s.done)
	}
	s.mu.Unlock()

	s.logger.Debug("Session state changed", "from", from.String(), "state", to.String())
	s.cfg.Listener.OnStateChanged(s.cfg.Device, to, cause)
	return nil
}
