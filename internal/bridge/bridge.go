// Package bridge talks to devices through adb: listing devices, querying the
// display size, injecting input and watching connection state.
package bridge

import (
	"context"
	"log/slog"
	"os/exec"
	"strconv"

	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/babelcloud/hopemirror/internal/geometry"
	"github.com/babelcloud/hopemirror/internal/util"
	"github.com/pkg/errors"
)

// Shell runs a shell command on one device and returns its text output.
type Shell interface {
	Run(serial, cmd string, args ...string) (string, error)
}

// Runner executes a local command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Bridge is the command surface every session shares.
type Bridge struct {
	adbPath string
	shell   Shell
	run     Runner
	logger  *slog.Logger
}

// New creates a bridge that lists devices with adbPath and runs device
// commands through shell.
func New(adbPath string, shell Shell) *Bridge {
	return &Bridge{
		adbPath: adbPath,
		shell:   shell,
		run:     execRunner,
		logger:  util.GetLogger().With("component", "bridge"),
	}
}

// WithRunner replaces the local command runner, for tests.
func (b *Bridge) WithRunner(run Runner) *Bridge {
	b.run = run
	return b
}

// Devices lists online devices.
func (b *Bridge) Devices(ctx context.Context) ([]core.DeviceHandle, error) {
	out, err := b.run(ctx, b.adbPath, "devices")
	if err != nil {
		return nil, core.NewError(core.KindDiscovery, "adb devices", "", err)
	}
	devices, err := ParseDeviceList(string(out))
	if err != nil {
		return nil, err
	}
	b.logger.Debug("Devices listed", "count", len(devices))
	return devices, nil
}

// DisplaySize queries `wm size`. When the query fails or returns no size it
// still returns the default resolution, together with a geometry error the
// caller is expected to log and otherwise ignore.
func (b *Bridge) DisplaySize(ctx context.Context, dev core.DeviceHandle) (int, int, error) {
	type result struct {
		out string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := b.shell.Run(string(dev), "wm", "size")
		ch <- result{out, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	if res.err != nil {
		return geometry.DefaultWidth, geometry.DefaultHeight,
			core.NewError(core.KindGeometry, "wm size", dev, res.err)
	}
	w, h, ok := ParseDisplaySize(res.out)
	if !ok {
		return geometry.DefaultWidth, geometry.DefaultHeight,
			core.NewError(core.KindGeometry, "wm size", dev, errors.Errorf("no size in %q", firstLine(res.out)))
	}
	return w, h, nil
}

// Tap injects a tap at device coordinates.
func (b *Bridge) Tap(dev core.DeviceHandle, x, y int) error {
	return b.input(dev, "tap", strconv.Itoa(x), strconv.Itoa(y))
}

// Swipe injects a swipe between two device points over durationMs.
func (b *Bridge) Swipe(dev core.DeviceHandle, x1, y1, x2, y2, durationMs int) error {
	return b.input(dev, "swipe",
		strconv.Itoa(x1), strconv.Itoa(y1), strconv.Itoa(x2), strconv.Itoa(y2), strconv.Itoa(durationMs))
}

// KeyEvent sends an Android key code.
func (b *Bridge) KeyEvent(dev core.DeviceHandle, code int) error {
	return b.input(dev, "keyevent", strconv.Itoa(code))
}

// Text types text into the focused field.
func (b *Bridge) Text(dev core.DeviceHandle, text string) error {
	if text == "" {
		return nil
	}
	return b.input(dev, "text", EscapeText(text))
}

func (b *Bridge) input(dev core.DeviceHandle, action string, args ...string) error {
	if _, err := b.shell.Run(string(dev), "input", append([]string{action}, args...)...); err != nil {
		return core.NewError(core.KindInputDispatch, "input "+action, dev, err)
	}
	return nil
}
