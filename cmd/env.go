package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/babelcloud/hopemirror/config"
	"github.com/babelcloud/hopemirror/internal/bridge"
	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/babelcloud/hopemirror/internal/orchestrator"
	"github.com/babelcloud/hopemirror/internal/session"
	"github.com/babelcloud/hopemirror/internal/transport"
	"github.com/pkg/errors"
)

const discoveryTimeout = 10 * time.Second

// env is the adb and ffmpeg plumbing shared by commands.
type env struct {
	settings config.Mirror
	shell    *bridge.AdbShell
	bridge   *bridge.Bridge
	capture  *transport.AdbCapture
	decoder  *transport.FFmpeg
}

func newEnv() (*env, error) {
	settings := config.GetMirror()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	shell, err := bridge.NewAdbShell(settings.AdbPath, settings.AdbPort)
	if err != nil {
		return nil, err
	}
	return &env{
		settings: settings,
		shell:    shell,
		bridge:   bridge.New(settings.AdbPath, shell),
		capture:  transport.NewAdbCapture(settings.AdbPath),
		decoder:  transport.NewFFmpeg(settings.FFmpegPath),
	}, nil
}

// factory builds sessions that report to listener.
func (e *env) factory(listener core.Listener) orchestrator.Factory {
	return func(dev core.DeviceHandle) *session.Session {
		return session.New(session.Config{
			Device:   dev,
			Bridge:   e.bridge,
			Capture:  e.capture,
			Decoder:  e.decoder,
			Settings: e.settings,
			Listener: listener,
		})
	}
}

// resolveDevices returns the requested serials, or every online device when
// none are named. Named serials must be online.
func (e *env) resolveDevices(ctx context.Context, serials []string) ([]core.DeviceHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	online, err := e.bridge.Devices(ctx)
	if err != nil {
		return nil, err
	}
	if len(serials) == 0 {
		if len(online) == 0 {
			return nil, errors.New("no online devices; check `adb devices`")
		}
		return online, nil
	}

	known := make(map[core.DeviceHandle]bool, len(online))
	for _, d := range online {
		known[d] = true
	}
	out := make([]core.DeviceHandle, 0, len(serials))
	for _, s := range serials {
		dev := core.DeviceHandle(s)
		if !known[dev] {
			return nil, fmt.Errorf("device %s is not online", s)
		}
		out = append(out, dev)
	}
	return out, nil
}

// singleDevice resolves an optional serial argument to exactly one device.
func (e *env) singleDevice(ctx context.Context, args []string) (core.DeviceHandle, error) {
	devices, err := e.resolveDevices(ctx, args)
	if err != nil {
		return "", err
	}
	if len(devices) > 1 {
		return "", fmt.Errorf("%d devices online; name one of them", len(devices))
	}
	return devices[0], nil
}
