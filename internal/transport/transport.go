// Package transport wraps the external processes a session depends on: the
// adb capture commands and the ffmpeg decoder. Both are byte streams.
package transport

import (
	"context"
	"io"

	"github.com/babelcloud/hopemirror/internal/core"
)

// Stream is a long-lived compressed video byte stream. It must be
// terminated explicitly; the device side never stops on its own.
type Stream interface {
	io.Reader
	Terminate() error
	Done() <-chan struct{}
}

// StreamOptions tunes the continuous capture.
type StreamOptions struct {
	// BitRate in bits per second; zero keeps the device default.
	BitRate int
	// Width and Height request an encoder size; zero keeps the display size.
	Width  int
	Height int
}

// CaptureTransport pulls screen data from a device.
type CaptureTransport interface {
	// OpenStill blocks until one still image has been captured.
	OpenStill(ctx context.Context, dev core.DeviceHandle) ([]byte, error)
	// OpenStream starts a continuous H.264 elementary stream.
	OpenStream(ctx context.Context, dev core.DeviceHandle, opts StreamOptions) (Stream, error)
}

// DecodeOptions configures one decoder run.
type DecodeOptions struct {
	// Input is a file path, or empty to read the elementary stream from stdin.
	Input string
	// Width and Height fix the raw output size.
	Width  int
	Height int
	// FPS caps the output frame rate; zero passes every decoded frame.
	FPS int
	// Realtime reads file input at its native rate.
	Realtime bool
}

// Transcoder is a running decoder emitting raw RGB24 frames on Read.
type Transcoder interface {
	io.Reader
	// Stdin accepts the compressed stream when DecodeOptions.Input is empty.
	Stdin() io.WriteCloser
	Terminate() error
	Done() <-chan struct{}
}

// DecodeTransport starts decoders.
type DecodeTransport interface {
	Start(ctx context.Context, opts DecodeOptions) (Transcoder, error)
}
