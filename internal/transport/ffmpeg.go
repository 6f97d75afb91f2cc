package transport

import (
	"context"
	"strconv"

	"github.com/babelcloud/hopemirror/internal/util"
	"github.com/pkg/errors"
)

// FFmpeg decodes H.264 into fixed-size raw RGB24 frames.
type FFmpeg struct {
	path string
}

// NewFFmpeg creates a decode transport using the ffmpeg binary at path.
func NewFFmpeg(path string) *FFmpeg {
	return &FFmpeg{path: path}
}

// Args builds the ffmpeg command line for opts.
func (f *FFmpeg) Args(opts DecodeOptions) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if opts.Input == "" {
		args = append(args, "-fflags", "nobuffer", "-flags", "low_delay", "-probesize", "32", "-f", "h264", "-i", "pipe:0")
	} else {
		args = append(args, "-nostdin")
		if opts.Realtime {
			args = append(args, "-re")
		}
		args = append(args, "-f", "h264", "-i", opts.Input)
	}
	args = append(args, "-an")
	if opts.FPS > 0 {
		args = append(args, "-vf", "fps="+strconv.Itoa(opts.FPS))
	}
	args = append(args,
		"-s", strconv.Itoa(opts.Width)+"x"+strconv.Itoa(opts.Height),
		"-pix_fmt", "rgb24",
		"-f", "rawvideo",
		"pipe:1",
	)
	return args
}

// Start implements DecodeTransport.
func (f *FFmpeg) Start(ctx context.Context, opts DecodeOptions) (Transcoder, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, errors.Errorf("invalid decode size %dx%d", opts.Width, opts.Height)
	}
	p, err := StartProcess(ctx, f.path, f.Args(opts), ProcessOptions{
		Stdin:  opts.Input == "",
		Logger: util.GetLogger().With("component", "ffmpeg"),
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
