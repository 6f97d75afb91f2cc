// Package input turns pointer gestures and named commands from the preview
// into device input.
package input

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/babelcloud/hopemirror/internal/geometry"
	"github.com/babelcloud/hopemirror/internal/util"
	"github.com/pkg/errors"
)

// SwipeDuration is the fixed duration of injected swipes.
const SwipeDuration = 200 * time.Millisecond

const queueSize = 64

// CloseWait bounds how long Close waits for queued input.
const CloseWait = 250 * time.Millisecond

// ErrUnknownCommand is returned for command names with no key code.
var ErrUnknownCommand = errors.New("unknown command")

// Dispatcher sends input to a device.
type Dispatcher interface {
	Tap(dev core.DeviceHandle, x, y int) error
	Swipe(dev core.DeviceHandle, x1, y1, x2, y2, durationMs int) error
	KeyEvent(dev core.DeviceHandle, code int) error
	Text(dev core.DeviceHandle, text string) error
}

// Translator maps window coordinates to device coordinates and delivers
// input in order on a background worker. Callers never wait for the device;
// failures are logged and dropped.
type Translator struct {
	dev        core.DeviceHandle
	dispatcher Dispatcher
	geometry   *geometry.Holder
	logger     *slog.Logger

	queue     chan job
	mu        sync.RWMutex
	done      bool
	wg        sync.WaitGroup
	closeWait time.Duration
	abandoned atomic.Bool
}

type job struct {
	what string
	run  func() error
}

// NewTranslator starts a translator for dev. Close releases it.
func NewTranslator(dev core.DeviceHandle, dispatcher Dispatcher, holder *geometry.Holder) *Translator {
	t := &Translator{
		dev:        dev,
		dispatcher: dispatcher,
		geometry:   holder,
		logger:     util.ComponentLogger(string(dev), "input"),
		queue:      make(chan job, queueSize),
		closeWait:  CloseWait,
	}
	t.wg.Add(1)
	go t.worker()
	return t
}

func (t *Translator) worker() {
	defer t.wg.Done()
	for j := range t.queue {
		if t.abandoned.Load() {
			continue
		}
		if err := j.run(); err != nil {
			t.logger.Warn("Input dispatch failed", "input", j.what, "error", err)
			continue
		}
		t.logger.Debug("Input dispatched", "input", j.what)
	}
}

func (t *Translator) enqueue(what string, run func() error) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.done {
		return false
	}
	select {
	case t.queue <- job{what: what, run: run}:
		return true
	default:
		t.logger.Warn("Input queue full, dropping", "input", what)
		return false
	}
}

// Translate converts a window-space gesture using one geometry snapshot, so
// both endpoints see the same scale even during a rotation.
func (t *Translator) Translate(g core.PointerGesture) core.PointerGesture {
	state := t.geometry.Load()
	out := g
	out.StartX, out.StartY = state.ToDevice(g.StartX, g.StartY)
	out.EndX, out.EndY = state.ToDevice(g.EndX, g.EndY)
	return out
}

// ToDevice maps one window-space point with the current geometry.
func (t *Translator) ToDevice(x, y int) (int, int) {
	return t.geometry.Load().ToDevice(x, y)
}

// HandleGesture queues a tap or swipe. It reports whether the gesture was
// accepted.
func (t *Translator) HandleGesture(g core.PointerGesture) bool {
	d := t.Translate(g)
	if d.Kind == core.GestureTap {
		return t.enqueue("tap "+strconv.Itoa(d.StartX)+","+strconv.Itoa(d.StartY), func() error {
			return t.dispatcher.Tap(t.dev, d.StartX, d.StartY)
		})
	}
	ms := int(SwipeDuration / time.Millisecond)
	return t.enqueue("swipe", func() error {
		return t.dispatcher.Swipe(t.dev, d.StartX, d.StartY, d.EndX, d.EndY, ms)
	})
}

// HandleKey queues a named key press; it bypasses coordinate mapping.
func (t *Translator) HandleKey(name string) error {
	code, ok := KeyCode(name)
	if !ok {
		return errors.Wrap(ErrUnknownCommand, name)
	}
	t.enqueue("key "+name, func() error {
		return t.dispatcher.KeyEvent(t.dev, code)
	})
	return nil
}

// SendText queues text entry.
func (t *Translator) SendText(text string) {
	if text == "" {
		return
	}
	t.enqueue("text", func() error {
		return t.dispatcher.Text(t.dev, text)
	})
}

// Close stops accepting input and waits for queued input to be sent, for at
// most CloseWait. Input still queued after that is discarded.
func (t *Translator) Close() {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	close(t.queue)
	t.mu.Unlock()

	flushed := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(flushed)
	}()
	timer := time.NewTimer(t.closeWait)
	defer timer.Stop()
	select {
	case <-flushed:
	case <-timer.C:
		t.abandoned.Store(true)
		t.logger.Warn("Input still pending at close, discarding", "queued", len(t.queue))
	}
}
