package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/babelcloud/hopemirror/internal/decode"
	"github.com/babelcloud/hopemirror/internal/framebus"
	"github.com/babelcloud/hopemirror/internal/geometry"
	"github.com/pkg/errors"
)

// Info summarises a session for listings.
type Info struct {
	ID        string         `json:"id"`
	Device    string         `json:"device"`
	State     string         `json:"state"`
	Strategy  string         `json:"strategy"`
	Geometry  geometry.State `json:"geometry"`
	Frames    framebus.Stats `json:"frames"`
	StartedAt time.Time      `json:"startedAt"`
	Error     string         `json:"error,omitempty"`
}

func (s *Session) ID() string { return s.id }

func (s *Session) Device() core.DeviceHandle { return s.cfg.Device }

// State returns the current state.
func (s *Session) State() core.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure reason once Failed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the session reaches Stopped or Failed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Geometry returns the current geometry snapshot.
func (s *Session) Geometry() geometry.State { return s.geometry.Load() }

// Bus is where decoded frames are published.
func (s *Session) Bus() *framebus.Bus { return s.bus }

// Info returns a listing snapshot.
func (s *Session) Info() Info {
	s.mu.Lock()
	state, err, started := s.state, s.err, s.startedAt
	s.mu.Unlock()

	info := Info{
		ID:        s.id,
		Device:    string(s.cfg.Device),
		State:     state.String(),
		Strategy:  s.cfg.Settings.Strategy,
		Geometry:  s.geometry.Load(),
		Frames:    s.bus.Stats(),
		StartedAt: started,
	}
	if err != nil {
		info.Error = err.Error()
	}
	return info
}

// HandleInput forwards a window-space gesture. It never blocks on the device.
func (s *Session) HandleInput(g core.PointerGesture) error {
	if s.State() != core.StateStreaming {
		return ErrNotStreaming
	}
	if !s.translator.HandleGesture(g) {
		return errors.New("input queue unavailable")
	}
	return nil
}

// HandleCommand sends a named key such as "home" or "volume_up".
func (s *Session) HandleCommand(key string) error {
	if s.State() != core.StateStreaming {
		return ErrNotStreaming
	}
	return s.translator.HandleKey(key)
}

// SendText types text on the device.
func (s *Session) SendText(text string) error {
	if s.State() != core.StateStreaming {
		return ErrNotStreaming
	}
	s.translator.SendText(text)
	return nil
}

// Screenshot renders the newest frame as PNG.
func (s *Session) Screenshot() ([]byte, error) {
	frame := s.bus.Latest()
	if frame == nil {
		return nil, core.ErrFrameUnavailable
	}
	return decode.EncodePNG(frame)
}

// ScreenshotName is the file name a screenshot of dev taken at t is saved as.
func ScreenshotName(dev core.DeviceHandle, t time.Time) string {
	serial := strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(string(dev))
	return fmt.Sprintf("screenshot_%s_%s.png", serial, t.Format("20060102_150405"))
}

// SaveScreenshot writes the newest frame into dir and returns the file path.
func (s *Session) SaveScreenshot(dir string) (string, error) {
	data, err := s.Screenshot()
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create screenshot dir %s", dir)
	}
	path := filepath.Join(dir, ScreenshotName(s.cfg.Device, time.Now()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, "failed to save screenshot")
	}
	s.logger.Info("screenshot saved", "path", path)
	return path, nil
}
