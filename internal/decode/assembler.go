package decode

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/babelcloud/hopemirror/internal/core"
)

const readChunk = 256 * 1024

// assembler cuts a raw RGB24 byte stream into fixed-size frames. A pump
// goroutine drains the reader so the producer never blocks on us; only the
// newest complete frame is handed out.
type assembler struct {
	frameSize int

	mu     sync.Mutex
	buf    []byte
	err    error
	notify chan struct{}
}

func newAssembler(r io.Reader, frameSize int) *assembler {
	a := &assembler{
		frameSize: frameSize,
		notify:    make(chan struct{}, 1),
	}
	go a.pump(r)
	return a
}

func (a *assembler) pump(r io.Reader) {
	chunk := make([]byte, readChunk)
	for {
		n, err := r.Read(chunk)
		a.mu.Lock()
		if n > 0 {
			a.buf = append(a.buf, chunk[:n]...)
			// never hold more than a couple of frames
			if whole := len(a.buf) / a.frameSize; whole > 2 {
				drop := (whole - 2) * a.frameSize
				a.buf = append(a.buf[:0], a.buf[drop:]...)
			}
		}
		if err != nil {
			a.err = err
		}
		a.mu.Unlock()

		select {
		case a.notify <- struct{}{}:
		default:
		}
		if err != nil {
			return
		}
	}
}

// next returns the newest complete frame. If none arrives within wait it
// returns core.ErrFrameUnavailable; once the reader has failed and no whole
// frame is left it returns the read error.
func (a *assembler) next(ctx context.Context, wait time.Duration) ([]byte, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		if pix, ok, err := a.take(); ok {
			return pix, err
		}
		select {
		case <-a.notify:
		case <-timer.C:
			return nil, core.ErrFrameUnavailable
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (a *assembler) take() ([]byte, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if whole := len(a.buf) / a.frameSize; whole > 0 {
		off := (whole - 1) * a.frameSize
		pix := make([]byte, a.frameSize)
		copy(pix, a.buf[off:off+a.frameSize])
		a.buf = append(a.buf[:0], a.buf[whole*a.frameSize:]...)
		return pix, true, nil
	}
	if a.err != nil {
		return nil, true, a.err
	}
	return nil, false, nil
}

// buffered reports how many bytes of an incomplete frame are held.
func (a *assembler) buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}
