package decode

import (
	"bytes"
	"context"
	"image"
	"image/draw"
	"image/png"
	"time"

	"github.com/babelcloud/hopemirror/internal/core"
)

// snapshotStage captures one still per interval. Rate is bounded by the
// device's screencap latency, typically well under the configured ceiling.
type snapshotStage struct {
	deps  Deps
	last  time.Time
	first *core.RawFrame
}

func newSnapshotStage(deps Deps) *snapshotStage {
	return &snapshotStage{deps: deps}
}

func (s *snapshotStage) Name() string { return "snapshot" }

// Start takes the first still and fails if it cannot be captured. That frame
// is the first one Next returns.
func (s *snapshotStage) Start(ctx context.Context) error {
	frame, err := s.capture(ctx)
	if err != nil {
		return err
	}
	s.first = frame
	return nil
}

func (s *snapshotStage) Next(ctx context.Context) (*core.RawFrame, error) {
	if s.first != nil {
		frame := s.first
		s.first = nil
		return frame, nil
	}
	if !s.last.IsZero() {
		if err := sleepCtx(ctx, time.Until(s.last.Add(s.deps.Settings.SnapshotInterval))); err != nil {
			return nil, err
		}
	}
	return s.capture(ctx)
}

func (s *snapshotStage) capture(ctx context.Context) (*core.RawFrame, error) {
	s.last = time.Now()

	data, err := s.deps.Capture.OpenStill(ctx, s.deps.Device)
	if err != nil {
		if core.IsKind(err, core.KindTransport) {
			return nil, err
		}
		return nil, core.TransportError("screencap", s.deps.Device, err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, core.FrameDecodeError("decode png", s.deps.Device, err)
	}
	b := img.Bounds()
	frame, err := core.NewRawFrame(b.Dx(), b.Dy(), toRGB24(img))
	if err != nil {
		return nil, core.FrameDecodeError("decode png", s.deps.Device, err)
	}
	frame.CapturedAt = s.last
	return frame, nil
}

func (s *snapshotStage) Close() error { return nil }

// toRGB24 drops alpha. screencap emits 8-bit RGBA, which png decodes to
// NRGBA or RGBA; other models take the slow path.
func toRGB24(img image.Image) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, 0, core.FrameSize(w, h))

	var src []byte
	var stride int
	switch m := img.(type) {
	case *image.NRGBA:
		src, stride = m.Pix, m.Stride
	case *image.RGBA:
		src, stride = m.Pix, m.Stride
	default:
		rgba := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
		src, stride = rgba.Pix, rgba.Stride
	}

	for y := 0; y < h; y++ {
		row := src[y*stride : y*stride+w*4]
		for x := 0; x < len(row); x += 4 {
			out = append(out, row[x], row[x+1], row[x+2])
		}
	}
	return out
}
