package core

import (
	"time"

	"github.com/babelcloud/hopemirror/internal/geometry"
	"github.com/pkg/errors"
)

// DeviceHandle identifies a connected device by its bridge serial.
type DeviceHandle string

func (d DeviceHandle) String() string { return string(d) }

// BytesPerPixel is the RGB24 pixel size.
const BytesPerPixel = 3

// RawFrame is one decoded RGB24 raster. Pix is owned by whoever holds the
// frame last and must not be modified after publishing.
type RawFrame struct {
	Width      int
	Height     int
	Pix        []byte
	Seq        uint64
	CapturedAt time.Time
}

// FrameSize returns the RGB24 byte count of a width x height raster.
func FrameSize(width, height int) int {
	return width * height * BytesPerPixel
}

// NewRawFrame wraps pix after checking it holds exactly one raster.
func NewRawFrame(width, height int, pix []byte) (*RawFrame, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid frame size %dx%d", width, height)
	}
	if want := FrameSize(width, height); len(pix) != want {
		return nil, errors.Errorf("frame %dx%d needs %d bytes, got %d", width, height, want, len(pix))
	}
	return &RawFrame{Width: width, Height: height, Pix: pix, CapturedAt: time.Now()}, nil
}

// GestureKind distinguishes a single-point tap from a drag.
type GestureKind int

const (
	GestureTap GestureKind = iota
	GestureSwipe
)

func (k GestureKind) String() string {
	if k == GestureSwipe {
		return "swipe"
	}
	return "tap"
}

// TapSlop is the window-space distance under which a drag counts as a tap.
const TapSlop = 4

// PointerGesture is one pointer interaction in window coordinates.
type PointerGesture struct {
	StartX, StartY int
	EndX, EndY     int
	Kind           GestureKind
}

// Tap builds a tap gesture at x, y.
func Tap(x, y int) PointerGesture {
	return PointerGesture{StartX: x, StartY: y, EndX: x, EndY: y, Kind: GestureTap}
}

// ClassifyGesture builds a gesture from press and release points, treating
// movement within TapSlop as a tap.
func ClassifyGesture(x0, y0, x1, y1 int) PointerGesture {
	dx, dy := x1-x0, y1-y0
	if dx*dx+dy*dy <= TapSlop*TapSlop {
		return Tap(x0, y0)
	}
	return PointerGesture{StartX: x0, StartY: y0, EndX: x1, EndY: y1, Kind: GestureSwipe}
}

// State is the lifecycle position of a mirroring session.
type State int

const (
	StateStarting State = iota
	StateStreaming
	StateStopping
	StateStopped
	StateFailed
)

var stateNames = map[State]string{
	StateStarting:  "Starting",
	StateStreaming: "Streaming",
	StateStopping:  "Stopping",
	StateStopped:   "Stopped",
	StateFailed:    "Failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// Listener is the renderer side of a session. Calls come from the decode
// loop and must return quickly; pulling pixels happens through the frame bus.
type Listener interface {
	OnFrameReady(dev DeviceHandle, frame *RawFrame)
	OnGeometryChanged(dev DeviceHandle, g geometry.State)
	OnStateChanged(dev DeviceHandle, state State, err error)
}

// NopListener ignores every notification.
type NopListener struct{}

func (NopListener) OnFrameReady(DeviceHandle, *RawFrame)           {}
func (NopListener) OnGeometryChanged(DeviceHandle, geometry.State) {}
func (NopListener) OnStateChanged(DeviceHandle, State, error)      {}
