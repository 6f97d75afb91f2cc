package decode

import (
	"context"
	"image/color"
	"testing"
	"time"

	"github.com/babelcloud/hopemirror/config"
	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownStrategy(t *testing.T) {
	_, err := New(Deps{Capture: &fakeCapture{}, Settings: testSettings("vnc")})
	require.Error(t, err)

	_, err = New(Deps{Capture: &fakeCapture{}, Settings: testSettings(config.StrategyRawPipe)})
	require.Error(t, err, "rawpipe without a decoder")
}

func TestSnapshotFrame(t *testing.T) {
	capture := &fakeCapture{still: solidPNG(t, 4, 2, color.NRGBA{R: 10, G: 20, B: 30, A: 255})}
	s, err := New(Deps{Device: "emulator-5554", Capture: capture, Settings: testSettings(config.StrategySnapshot)})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()
	assert.Equal(t, "snapshot", s.Name())
	assert.Equal(t, 1, capture.openCount())

	// the still taken by Start is the first frame
	frame, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, capture.openCount())
	assert.Equal(t, 4, frame.Width)
	assert.Equal(t, 2, frame.Height)
	require.Len(t, frame.Pix, 4*2*3)
	for i := 0; i < len(frame.Pix); i += 3 {
		assert.Equal(t, []byte{10, 20, 30}, frame.Pix[i:i+3])
	}
}

func TestSnapshotPacing(t *testing.T) {
	capture := &fakeCapture{still: solidPNG(t, 1, 1, color.NRGBA{A: 255})}
	settings := testSettings(config.StrategySnapshot)
	settings.SnapshotInterval = 50 * time.Millisecond
	s, err := New(Deps{Capture: capture, Settings: settings})
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := s.Next(context.Background())
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestSnapshotErrors(t *testing.T) {
	capture := &fakeCapture{still: []byte("not a png")}
	s, err := New(Deps{Capture: capture, Settings: testSettings(config.StrategySnapshot)})
	require.NoError(t, err)

	_, err = s.Next(context.Background())
	assert.True(t, core.IsKind(err, core.KindFrameDecode))

	capture.stillErr = errors.New("device offline")
	_, err = s.Next(context.Background())
	assert.True(t, core.IsKind(err, core.KindTransport))
}

func TestSnapshotStopsOnCancel(t *testing.T) {
	capture := &fakeCapture{still: solidPNG(t, 1, 1, color.NRGBA{A: 255})}
	settings := testSettings(config.StrategySnapshot)
	settings.SnapshotInterval = time.Hour
	s, err := New(Deps{Capture: capture, Settings: settings})
	require.NoError(t, err)

	_, err = s.Next(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
