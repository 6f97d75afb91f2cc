package decode

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/babelcloud/hopemirror/internal/transport"
	"github.com/dchest/uniuri"
	"github.com/pkg/errors"
)

const (
	// segmentHead is how much of a segment is scanned for its SPS.
	segmentHead = 256 * 1024
	// keepSegments bounds finished segments waiting to be decoded.
	keepSegments = 2
)

// demuxStage records the stream into short rotating segment files and
// decodes the newest finished one. Latency is about one segment.
type demuxStage struct {
	deps   Deps
	logger *slog.Logger
	prefix string

	cancel  context.CancelFunc
	recDone chan struct{}
	errs    chan error

	mu    sync.Mutex
	ready []string
	seq   int

	// dmu serializes Next with Close
	dmu      sync.Mutex
	current  string
	tc       transport.Transcoder
	asm      *assembler
	width    int
	height   int
	lastEmit time.Time
}

func newDemuxStage(deps Deps) *demuxStage {
	return &demuxStage{
		deps:   deps,
		logger: deps.Logger,
		prefix: "screen_temp-" + uniuri.NewLen(8),
		errs:   make(chan error, 4),
	}
}

func (s *demuxStage) Name() string { return "demux" }

// Start opens the first capture stream synchronously and returns the error
// if it cannot be opened. Later segments are recorded in the background.
func (s *demuxStage) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.deps.Settings.BufferDir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create buffer dir")
	}
	ctx, cancel := context.WithCancel(ctx)
	first, err := s.openStream(ctx)
	if err != nil {
		cancel()
		return err
	}
	s.cancel = cancel
	s.recDone = make(chan struct{})
	go s.record(ctx, first)
	return nil
}

func (s *demuxStage) record(ctx context.Context, stream transport.Stream) {
	defer close(s.recDone)
	for ctx.Err() == nil {
		err := s.recordNext(ctx, stream)
		stream = nil
		if err != nil {
			report(s.errs, err)
			if sleepCtx(ctx, s.deps.frameInterval()) != nil {
				return
			}
		}
	}
}

// recordNext records one segment from stream, opening a new stream when
// stream is nil.
func (s *demuxStage) recordNext(ctx context.Context, stream transport.Stream) error {
	if stream == nil {
		var err error
		if stream, err = s.openStream(ctx); err != nil {
			return err
		}
	}
	return s.recordSegment(ctx, stream)
}

func (s *demuxStage) openStream(ctx context.Context) (transport.Stream, error) {
	stream, err := s.deps.Capture.OpenStream(ctx, s.deps.Device, transport.StreamOptions{
		BitRate: s.deps.Settings.BitRate,
	})
	if err != nil {
		if core.IsKind(err, core.KindTransport) {
			return nil, err
		}
		return nil, core.TransportError("screenrecord", s.deps.Device, err)
	}
	return stream, nil
}

func (s *demuxStage) recordSegment(ctx context.Context, stream transport.Stream) error {
	defer stream.Terminate()
	stop := context.AfterFunc(ctx, func() { stream.Terminate() })
	defer stop()

	s.mu.Lock()
	s.seq++
	path := filepath.Join(s.deps.Settings.BufferDir, fmt.Sprintf("%s-%d.h264", s.prefix, s.seq))
	s.mu.Unlock()
	part := path + ".part"

	f, err := os.Create(part)
	if err != nil {
		return core.TransportError("buffer", s.deps.Device, errors.Wrap(err, "failed to create segment"))
	}
	rotate := time.AfterFunc(s.deps.Settings.SegmentDuration, func() { stream.Terminate() })
	n, _ := io.Copy(f, stream)
	rotate.Stop()
	f.Close()

	if ctx.Err() != nil || n == 0 {
		os.Remove(part)
		if ctx.Err() != nil {
			return nil
		}
		return core.TransportError("screenrecord", s.deps.Device, errors.New("capture exited without data"))
	}
	if err := os.Rename(part, path); err != nil {
		os.Remove(part)
		return core.TransportError("buffer", s.deps.Device, errors.Wrap(err, "failed to finish segment"))
	}

	s.mu.Lock()
	s.ready = append(s.ready, path)
	for len(s.ready) > keepSegments {
		os.Remove(s.ready[0])
		s.ready = s.ready[1:]
	}
	s.mu.Unlock()
	s.logger.Debug("Segment recorded", "path", path, "bytes", n)
	return nil
}

// claim takes the newest finished segment and discards older ones.
func (s *demuxStage) claim() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ready) == 0 {
		return "", false
	}
	newest := s.ready[len(s.ready)-1]
	for _, old := range s.ready[:len(s.ready)-1] {
		os.Remove(old)
	}
	s.ready = nil
	return newest, true
}

func (s *demuxStage) Next(ctx context.Context) (*core.RawFrame, error) {
	s.dmu.Lock()
	defer s.dmu.Unlock()

	select {
	case err := <-s.errs:
		return nil, err
	default:
	}

	if s.asm != nil {
		if err := sleepCtx(ctx, time.Until(s.lastEmit.Add(s.deps.frameInterval()))); err != nil {
			return nil, err
		}
		pix, err := s.asm.next(ctx, s.deps.frameInterval())
		switch {
		case err == nil:
			s.lastEmit = time.Now()
			frame, ferr := core.NewRawFrame(s.width, s.height, pix)
			if ferr != nil {
				return nil, core.FrameDecodeError("rawvideo", s.deps.Device, ferr)
			}
			return frame, nil
		case errors.Is(err, core.ErrFrameUnavailable), ctx.Err() != nil:
			return nil, err
		}
		// decoder reached the end of the segment
		s.finishCurrent()
	}

	path, ok := s.claim()
	if !ok {
		if err := waitErr(ctx, s.errs, s.deps.frameInterval()); err != nil {
			return nil, err
		}
		return nil, core.ErrFrameUnavailable
	}
	if err := s.openSegment(ctx, path); err != nil {
		os.Remove(path)
		return nil, err
	}
	return nil, core.ErrFrameUnavailable
}

func (s *demuxStage) openSegment(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return core.TransportError("buffer", s.deps.Device, errors.Wrap(err, "segment missing"))
	}
	head := make([]byte, segmentHead)
	n, _ := io.ReadFull(f, head)
	f.Close()
	if n == 0 {
		return core.TransportError("buffer", s.deps.Device, errors.New("segment empty"))
	}

	var probe SPSProbe
	w, h, _ := probe.Feed(head[:n])
	if w == 0 || h == 0 {
		w, h = s.deps.fallbackSize()
	}

	tc, err := s.deps.Decoder.Start(ctx, transport.DecodeOptions{
		Input:    path,
		Width:    w,
		Height:   h,
		FPS:      s.deps.Settings.StreamFPS,
		Realtime: true,
	})
	if err != nil {
		return core.TransportError("ffmpeg", s.deps.Device, err)
	}
	s.current, s.tc, s.width, s.height = path, tc, w, h
	s.asm = newAssembler(tc, core.FrameSize(w, h))
	return nil
}

func (s *demuxStage) finishCurrent() {
	if s.tc != nil {
		s.tc.Terminate()
	}
	if s.current != "" {
		os.Remove(s.current)
	}
	s.current, s.tc, s.asm = "", nil, nil
}

// Close stops recording and removes every buffer file this stage created.
func (s *demuxStage) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.recDone
	}
	s.dmu.Lock()
	s.finishCurrent()
	s.dmu.Unlock()

	leftovers, _ := filepath.Glob(filepath.Join(s.deps.Settings.BufferDir, s.prefix+"-*"))
	for _, f := range leftovers {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("Failed to remove buffer file", "path", f, "error", err)
		}
	}
	s.mu.Lock()
	s.ready = nil
	s.mu.Unlock()
	return nil
}
