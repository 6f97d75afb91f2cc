package decode

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/babelcloud/hopemirror/internal/transport"
	"github.com/pkg/errors"
)

// fallbackAfter is how much stream we scan for an SPS before decoding at the
// last known device size instead.
const fallbackAfter = 2 * 1024 * 1024

// errStale stops a pump whose stream has been torn down.
var errStale = errors.New("stream replaced")

// rawPipeStage tees the live capture stream into an SPS probe and a decoder.
// The decoder is restarted whenever the announced picture size changes,
// which is how rotation shows up in the stream.
type rawPipeStage struct {
	deps   Deps
	logger *slog.Logger
	ctx    context.Context

	mu     sync.Mutex
	stream transport.Stream
	errs   chan error
	tc     transport.Transcoder
	asm    *assembler
	width  int
	height int
}

func newRawPipeStage(deps Deps) *rawPipeStage {
	return &rawPipeStage{deps: deps, logger: deps.Logger}
}

func (s *rawPipeStage) Name() string { return "rawpipe" }

func (s *rawPipeStage) Start(ctx context.Context) error {
	s.ctx = ctx
	return s.open()
}

func (s *rawPipeStage) open() error {
	stream, err := s.deps.Capture.OpenStream(s.ctx, s.deps.Device, transport.StreamOptions{
		BitRate: s.deps.Settings.BitRate,
	})
	if err != nil {
		if core.IsKind(err, core.KindTransport) {
			return err
		}
		return core.TransportError("screenrecord", s.deps.Device, err)
	}

	errs := make(chan error, 1)
	s.mu.Lock()
	s.stream = stream
	s.errs = errs
	s.mu.Unlock()

	go s.pump(stream, &SPSProbe{}, errs)
	s.logger.Debug("Capture stream opened")
	return nil
}

func (s *rawPipeStage) pump(stream transport.Stream, probe *SPSProbe, errs chan<- error) {
	buf := make([]byte, 64*1024)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if ferr := s.feed(stream, probe, buf[:n]); ferr != nil {
				if !errors.Is(ferr, errStale) {
					report(errs, ferr)
				}
				return
			}
		}
		if err != nil {
			report(errs, core.TransportError("screenrecord", s.deps.Device, errors.Wrap(err, "capture stream ended")))
			return
		}
	}
}

func (s *rawPipeStage) feed(stream transport.Stream, probe *SPSProbe, chunk []byte) error {
	s.mu.Lock()
	if s.stream != stream {
		s.mu.Unlock()
		return errStale
	}
	tc := s.tc
	s.mu.Unlock()

	w, h, changed := probe.Feed(chunk)
	if !changed && tc == nil && probe.Scanned() > fallbackAfter {
		w, h = s.deps.fallbackSize()
		s.logger.Warn("No SPS in stream, decoding at device size", "width", w, "height", h)
		changed = true
	}
	if changed {
		var err error
		if tc, err = s.restartDecoder(stream, w, h); err != nil {
			return err
		}
		// The SPS may have ended in an earlier chunk. Prime the new decoder
		// with the parameter sets and resume at the next unit boundary.
		if params := probe.ParameterSets(); len(params) > 0 {
			if err := s.writeDecoder(tc, params); err != nil {
				return err
			}
			chunk = fromStartCode(chunk)
		}
	}
	if tc == nil {
		return nil
	}
	return s.writeDecoder(tc, chunk)
}

func (s *rawPipeStage) writeDecoder(tc transport.Transcoder, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if _, err := tc.Stdin().Write(b); err != nil {
		return core.TransportError("ffmpeg", s.deps.Device, errors.Wrap(err, "decoder input closed"))
	}
	return nil
}

func (s *rawPipeStage) restartDecoder(stream transport.Stream, width, height int) (transport.Transcoder, error) {
	s.mu.Lock()
	if s.stream != stream {
		s.mu.Unlock()
		return nil, errStale
	}
	old := s.tc
	s.tc, s.asm = nil, nil
	s.mu.Unlock()
	if old != nil {
		old.Terminate()
	}

	tc, err := s.deps.Decoder.Start(s.ctx, transport.DecodeOptions{
		Width:  width,
		Height: height,
		FPS:    s.deps.Settings.StreamFPS,
	})
	if err != nil {
		return nil, core.TransportError("ffmpeg", s.deps.Device, err)
	}

	s.mu.Lock()
	if s.stream != stream {
		s.mu.Unlock()
		tc.Terminate()
		return nil, errStale
	}
	s.tc = tc
	s.asm = newAssembler(tc, core.FrameSize(width, height))
	s.width, s.height = width, height
	s.mu.Unlock()
	s.logger.Info("Stream size changed, decoder restarted", "width", width, "height", height)
	return tc, nil
}

func (s *rawPipeStage) Next(ctx context.Context) (*core.RawFrame, error) {
	s.mu.Lock()
	opened := s.stream != nil
	s.mu.Unlock()
	if !opened {
		if err := s.open(); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	errs, asm, w, h := s.errs, s.asm, s.width, s.height
	s.mu.Unlock()

	select {
	case err := <-errs:
		s.teardown()
		return nil, err
	default:
	}

	if asm == nil {
		if err := waitErr(ctx, errs, s.deps.frameInterval()); err != nil {
			s.teardown()
			return nil, err
		}
		return nil, core.ErrFrameUnavailable
	}

	pix, err := asm.next(ctx, s.deps.frameInterval())
	switch {
	case err == nil:
	case errors.Is(err, core.ErrFrameUnavailable), ctx.Err() != nil:
		return nil, err
	default:
		s.mu.Lock()
		replaced := s.asm != asm
		s.mu.Unlock()
		if replaced {
			return nil, core.ErrFrameUnavailable
		}
		s.teardown()
		return nil, core.TransportError("ffmpeg", s.deps.Device, errors.Wrap(err, "decoder output ended"))
	}

	frame, err := core.NewRawFrame(w, h, pix)
	if err != nil {
		return nil, core.FrameDecodeError("rawvideo", s.deps.Device, err)
	}
	return frame, nil
}

func (s *rawPipeStage) teardown() {
	s.mu.Lock()
	stream, tc := s.stream, s.tc
	s.stream, s.tc, s.asm = nil, nil, nil
	s.width, s.height = 0, 0
	s.mu.Unlock()

	if stream != nil {
		stream.Terminate()
	}
	if tc != nil {
		tc.Terminate()
	}
}

func (s *rawPipeStage) Close() error {
	s.teardown()
	return nil
}

// report delivers err unless an earlier failure is still pending.
func report(errs chan<- error, err error) {
	select {
	case errs <- err:
	default:
	}
}

// waitErr waits up to d for a failure on errs.
func waitErr(ctx context.Context, errs <-chan error, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case err := <-errs:
		return err
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
