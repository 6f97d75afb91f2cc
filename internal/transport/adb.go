package transport

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"

	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/babelcloud/hopemirror/internal/util"
	"github.com/pkg/errors"
)

// AdbCapture captures through `adb exec-out`, which passes binary output
// through unmodified, unlike `adb shell`.
type AdbCapture struct {
	adbPath string
}

// NewAdbCapture creates a capture transport using the adb binary at adbPath.
func NewAdbCapture(adbPath string) *AdbCapture {
	return &AdbCapture{adbPath: adbPath}
}

// OpenStill implements CaptureTransport with `screencap -p`.
func (c *AdbCapture) OpenStill(ctx context.Context, dev core.DeviceHandle) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.adbPath, "-s", string(dev), "exec-out", "screencap", "-p")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			err = errors.Wrap(err, string(msg))
		}
		return nil, core.TransportError("screencap", dev, err)
	}
	if len(out) == 0 {
		return nil, core.TransportError("screencap", dev, errors.New("empty payload"))
	}
	return out, nil
}

// OpenStream implements CaptureTransport with `screenrecord --output-format=h264 -`.
func (c *AdbCapture) OpenStream(ctx context.Context, dev core.DeviceHandle, opts StreamOptions) (Stream, error) {
	args := []string{"-s", string(dev), "exec-out", "screenrecord", "--output-format=h264"}
	if opts.BitRate > 0 {
		args = append(args, "--bit-rate", strconv.Itoa(opts.BitRate))
	}
	if opts.Width > 0 && opts.Height > 0 {
		args = append(args, "--size", strconv.Itoa(opts.Width)+"x"+strconv.Itoa(opts.Height))
	}
	args = append(args, "-")

	p, err := StartProcess(ctx, c.adbPath, args, ProcessOptions{
		Logger: util.ComponentLogger(string(dev), "screenrecord"),
	})
	if err != nil {
		return nil, core.TransportError("screenrecord", dev, err)
	}
	return p, nil
}
