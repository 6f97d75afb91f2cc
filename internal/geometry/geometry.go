// Package geometry tracks the device resolution and the window size derived
// from it. A State is immutable; a Holder publishes whole States atomically so
// the decode loop and the input translator never observe a half-updated pair.
package geometry

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Fallback resolution used when the device does not report one.
const (
	DefaultWidth  = 1080
	DefaultHeight = 1920
)

// State is one consistent snapshot of device and window geometry.
type State struct {
	DeviceWidth  int     `json:"deviceWidth"`
	DeviceHeight int     `json:"deviceHeight"`
	Scale        float64 `json:"scale"`
	WindowWidth  int     `json:"windowWidth"`
	WindowHeight int     `json:"windowHeight"`
}

// New derives the window size from the device size and scale.
func New(deviceWidth, deviceHeight int, scale float64) (State, error) {
	if deviceWidth <= 0 || deviceHeight <= 0 {
		return State{}, errors.Errorf("invalid device size %dx%d", deviceWidth, deviceHeight)
	}
	if !(scale > 0 && scale <= 1) {
		return State{}, errors.Errorf("scale %v out of range (0, 1]", scale)
	}
	return State{
		DeviceWidth:  deviceWidth,
		DeviceHeight: deviceHeight,
		Scale:        scale,
		WindowWidth:  scaleDim(deviceWidth, scale),
		WindowHeight: scaleDim(deviceHeight, scale),
	}, nil
}

func scaleDim(n int, scale float64) int {
	d := int(math.Round(float64(n) * scale))
	if d < 1 {
		return 1
	}
	return d
}

// WithDevice returns a copy rebuilt for a new device size at the same scale.
func (s State) WithDevice(width, height int) (State, error) {
	return New(width, height, s.Scale)
}

// SameDevice reports whether the device size matches width x height.
func (s State) SameDevice(width, height int) bool {
	return s.DeviceWidth == width && s.DeviceHeight == height
}

// ToDevice maps a window-space point to device space.
func (s State) ToDevice(x, y int) (int, int) {
	return int(math.Round(float64(x) / s.Scale)), int(math.Round(float64(y) / s.Scale))
}

// ToWindow maps a device-space point to window space.
func (s State) ToWindow(x, y int) (int, int) {
	return int(math.Round(float64(x) * s.Scale)), int(math.Round(float64(y) * s.Scale))
}

// Landscape reports whether the device is wider than tall.
func (s State) Landscape() bool {
	return s.DeviceWidth > s.DeviceHeight
}

func (s State) String() string {
	return fmt.Sprintf("%dx%d@%.2f (window %dx%d)", s.DeviceWidth, s.DeviceHeight, s.Scale, s.WindowWidth, s.WindowHeight)
}

// Holder publishes the current State of one session.
type Holder struct {
	p atomic.Pointer[State]
}

// NewHolder creates a holder seeded with initial.
func NewHolder(initial State) *Holder {
	h := &Holder{}
	h.Store(initial)
	return h
}

// Load returns the current snapshot.
func (h *Holder) Load() State {
	return *h.p.Load()
}

// Store replaces the snapshot unconditionally.
func (h *Holder) Store(s State) {
	h.p.Store(&s)
}

// UpdateDevice swaps in a State for the new device size if it differs from
// the current one. It returns the State now in effect and whether it changed.
func (h *Holder) UpdateDevice(width, height int) (State, bool, error) {
	for {
		cur := h.p.Load()
		if cur.SameDevice(width, height) {
			return *cur, false, nil
		}
		next, err := cur.WithDevice(width, height)
		if err != nil {
			return *cur, false, err
		}
		if h.p.CompareAndSwap(cur, &next) {
			return next, true, nil
		}
	}
}
