// Package decode turns capture transports into a pull-based source of raw
// RGB24 frames. Three strategies trade latency against dependencies:
// periodic stills, a rotating recording buffer, and a live decode pipe.
package decode

import (
	"context"
	"log/slog"
	"time"

	"github.com/babelcloud/hopemirror/config"
	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/babelcloud/hopemirror/internal/geometry"
	"github.com/babelcloud/hopemirror/internal/transport"
	"github.com/babelcloud/hopemirror/internal/util"
	"github.com/pkg/errors"
)

// Stage produces frames for one device. Next never blocks longer than about
// one frame interval: when nothing is ready it returns core.ErrFrameUnavailable.
// Transport failures are returned as core.KindTransport errors, after which
// the next call reopens the transport.
type Stage interface {
	Name() string
	Start(ctx context.Context) error
	Next(ctx context.Context) (*core.RawFrame, error)
	// Close terminates every subprocess the stage owns before returning.
	Close() error
}

// Deps are the collaborators a stage is built from.
type Deps struct {
	Device   core.DeviceHandle
	Capture  transport.CaptureTransport
	Decoder  transport.DecodeTransport
	Geometry *geometry.Holder
	Settings config.Mirror
	Logger   *slog.Logger
}

// New builds the stage named by deps.Settings.Strategy.
func New(deps Deps) (Stage, error) {
	if deps.Capture == nil {
		return nil, errors.New("capture transport is required")
	}
	if deps.Logger == nil {
		deps.Logger = util.ComponentLogger(string(deps.Device), "decode")
	}

	switch deps.Settings.Strategy {
	case config.StrategySnapshot:
		return newSnapshotStage(deps), nil
	case config.StrategyDemux:
		if deps.Decoder == nil {
			return nil, errors.New("demux strategy needs a decoder")
		}
		return newDemuxStage(deps), nil
	case config.StrategyRawPipe:
		if deps.Decoder == nil {
			return nil, errors.New("rawpipe strategy needs a decoder")
		}
		return newRawPipeStage(deps), nil
	}
	return nil, errors.Errorf("unknown decode strategy %q", deps.Settings.Strategy)
}

func (d Deps) frameInterval() time.Duration {
	if d.Settings.StreamFPS <= 0 {
		return time.Second / 15
	}
	return time.Second / time.Duration(d.Settings.StreamFPS)
}

// fallbackSize is the last known device size, used before a stream has
// announced its own.
func (d Deps) fallbackSize() (int, int) {
	if d.Geometry != nil {
		s := d.Geometry.Load()
		if s.DeviceWidth > 0 && s.DeviceHeight > 0 {
			return s.DeviceWidth, s.DeviceHeight
		}
	}
	return geometry.DefaultWidth, geometry.DefaultHeight
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
