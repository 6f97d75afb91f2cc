package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies failures by how far they are allowed to propagate.
type Kind int

const (
	// KindDiscovery: listing devices failed; the user may retry.
	KindDiscovery Kind = iota + 1
	// KindGeometry: the size query failed; a default is used instead.
	KindGeometry
	// KindTransport: a capture or decode subprocess failed to start or exited.
	KindTransport
	// KindFrameDecode: one frame was malformed and is skipped.
	KindFrameDecode
	// KindInputDispatch: an input command could not be sent; logged only.
	KindInputDispatch
)

func (k Kind) String() string {
	switch k {
	case KindDiscovery:
		return "DiscoveryError"
	case KindGeometry:
		return "GeometryError"
	case KindTransport:
		return "TransportError"
	case KindFrameDecode:
		return "FrameDecodeError"
	case KindInputDispatch:
		return "InputDispatchError"
	}
	return "Error"
}

// ErrFrameUnavailable means no complete frame is ready yet. It is not a failure.
var ErrFrameUnavailable = errors.New("frame not yet available")

// Error is a classified pipeline failure.
type Error struct {
	Kind   Kind
	Op     string
	Device DeviceHandle
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Op)
	if e.Device != "" {
		msg += fmt.Sprintf(" [%s]", e.Device)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error.
func NewError(kind Kind, op string, dev DeviceHandle, err error) *Error {
	return &Error{Kind: kind, Op: op, Device: dev, Err: err}
}

// TransportError is shorthand for NewError(KindTransport, ...).
func TransportError(op string, dev DeviceHandle, err error) *Error {
	return NewError(KindTransport, op, dev, err)
}

// FrameDecodeError is shorthand for NewError(KindFrameDecode, ...).
func FrameDecodeError(op string, dev DeviceHandle, err error) *Error {
	return NewError(KindFrameDecode, op, dev, err)
}

// IsKind reports whether err wraps an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
