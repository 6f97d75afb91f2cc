package decode

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/babelcloud/hopemirror/config"
	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/babelcloud/hopemirror/internal/transport"
	"github.com/stretchr/testify/require"
)

// 32x16 and 16x32 baseline SPS units.
var (
	spsLandscape = []byte{0x67, 0x42, 0x00, 0x1f, 0xda, 0x2e, 0x40}
	spsPortrait  = []byte{0x67, 0x42, 0x00, 0x1f, 0xda, 0x56, 0x40}
	ppsUnit      = []byte{0x68, 0xce, 0x3c, 0x80}
)

func annexB(units ...[]byte) []byte {
	var b []byte
	for _, u := range units {
		b = append(b, 0, 0, 0, 1)
		b = append(b, u...)
	}
	return b
}

func testSettings(strategy string) config.Mirror {
	return config.Mirror{
		Strategy:         strategy,
		Scale:            0.5,
		SnapshotInterval: 10 * time.Millisecond,
		StreamFPS:        50,
		RetryBudget:      3,
		SegmentDuration:  50 * time.Millisecond,
	}
}

// fakeStream replays data, then either ends or blocks until terminated.
type fakeStream struct {
	r     io.Reader
	hold  bool
	done  chan struct{}
	once  sync.Once
	close func()
}

func newFakeStream(data []byte, hold bool) *fakeStream {
	return &fakeStream{r: bytes.NewReader(data), hold: hold, done: make(chan struct{})}
}

// newPipeStream is a stream the test feeds chunk by chunk.
func newPipeStream() (*fakeStream, *io.PipeWriter) {
	pr, pw := io.Pipe()
	s := &fakeStream{r: pr, done: make(chan struct{})}
	s.close = func() { pr.CloseWithError(io.ErrClosedPipe) }
	return s, pw
}

func (s *fakeStream) Read(b []byte) (int, error) {
	n, err := s.r.Read(b)
	if err == io.EOF && s.hold {
		<-s.done
		return 0, io.ErrClosedPipe
	}
	return n, err
}

func (s *fakeStream) Terminate() error {
	s.once.Do(func() {
		if s.close != nil {
			s.close()
		}
		close(s.done)
	})
	return nil
}

func (s *fakeStream) Done() <-chan struct{} { return s.done }

type fakeCapture struct {
	mu        sync.Mutex
	still     []byte
	stillErr  error
	streams   func() transport.Stream
	streamErr error
	opened    int
}

func (c *fakeCapture) OpenStill(ctx context.Context, dev core.DeviceHandle) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened++
	return c.still, c.stillErr
}

func (c *fakeCapture) OpenStream(ctx context.Context, dev core.DeviceHandle, opts transport.StreamOptions) (transport.Stream, error) {
	c.mu.Lock()
	c.opened++
	err := c.streamErr
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.streams(), nil
}

func (c *fakeCapture) openCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened
}

// fakeTranscoder emits whatever the test writes to out.
type fakeTranscoder struct {
	opts  transport.DecodeOptions
	pr    *io.PipeReader
	out   *io.PipeWriter
	inMu  sync.Mutex
	input bytes.Buffer
	done  chan struct{}
	once  sync.Once
}

func (t *fakeTranscoder) Read(b []byte) (int, error) { return t.pr.Read(b) }

func (t *fakeTranscoder) Stdin() io.WriteCloser { return nopCloser{t} }

func (t *fakeTranscoder) Write(b []byte) (int, error) {
	t.inMu.Lock()
	defer t.inMu.Unlock()
	return t.input.Write(b)
}

func (t *fakeTranscoder) written() int {
	t.inMu.Lock()
	defer t.inMu.Unlock()
	return t.input.Len()
}

func (t *fakeTranscoder) inputBytes() []byte {
	t.inMu.Lock()
	defer t.inMu.Unlock()
	return append([]byte(nil), t.input.Bytes()...)
}

func (t *fakeTranscoder) Terminate() error {
	t.once.Do(func() {
		t.out.Close()
		close(t.done)
	})
	return nil
}

func (t *fakeTranscoder) Done() <-chan struct{} { return t.done }

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

type fakeDecoder struct {
	mu      sync.Mutex
	started []*fakeTranscoder
	ready   chan *fakeTranscoder
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{ready: make(chan *fakeTranscoder, 8)}
}

func (d *fakeDecoder) Start(ctx context.Context, opts transport.DecodeOptions) (transport.Transcoder, error) {
	pr, pw := io.Pipe()
	tc := &fakeTranscoder{opts: opts, pr: pr, out: pw, done: make(chan struct{})}
	d.mu.Lock()
	d.started = append(d.started, tc)
	d.mu.Unlock()
	d.ready <- tc
	return tc, nil
}

func (d *fakeDecoder) wait(t *testing.T) *fakeTranscoder {
	t.Helper()
	select {
	case tc := <-d.ready:
		return tc
	case <-time.After(5 * time.Second):
		t.Fatal("decoder never started")
		return nil
	}
}

func solidPNG(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// nextFrame polls the stage until a frame or a non-unavailable error.
func nextFrame(t *testing.T, s Stage) (*core.RawFrame, error) {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f, err := s.Next(ctx)
		if err == core.ErrFrameUnavailable {
			continue
		}
		return f, err
	}
	t.Fatal("no frame before deadline")
	return nil, nil
}
