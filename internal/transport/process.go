package transport

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/babelcloud/hopemirror/internal/procgroup"
	"github.com/babelcloud/hopemirror/internal/util"
	"github.com/pkg/errors"
)

// DefaultGrace is how long Terminate waits after SIGTERM before killing.
const DefaultGrace = 500 * time.Millisecond

// ProcessOptions configures StartProcess.
type ProcessOptions struct {
	// Stdin exposes a writable standard input.
	Stdin bool
	// Grace overrides DefaultGrace.
	Grace time.Duration
	// Logger receives lifecycle messages and the stderr tail on exit.
	Logger *slog.Logger
}

// Process is a running subprocess whose standard output is read through
// Read. It runs in its own process group and must be released with
// Terminate, which is safe to call any number of times.
type Process struct {
	cmd    *exec.Cmd
	stdout *os.File
	stdin  io.WriteCloser
	stderr *tailBuffer
	grace  time.Duration
	logger *slog.Logger

	done    chan struct{}
	waitErr error
	once    sync.Once
}

// StartProcess launches name with args.
func StartProcess(ctx context.Context, name string, args []string, opts ProcessOptions) (*Process, error) {
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.Logger == nil {
		opts.Logger = util.GetLogger()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	procgroup.SetProcGrp(cmd)
	cmd.Cancel = func() error { return procgroup.Kill(cmd) }
	cmd.WaitDelay = opts.Grace

	// Owning the read end keeps Wait from closing it under a pending Read.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create stdout pipe")
	}
	cmd.Stdout = pw

	stderr := &tailBuffer{max: 2048}
	cmd.Stderr = stderr

	var stdin io.WriteCloser
	if opts.Stdin {
		if stdin, err = cmd.StdinPipe(); err != nil {
			pr.Close()
			pw.Close()
			return nil, errors.Wrap(err, "failed to create stdin pipe")
		}
	}

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, errors.Wrapf(err, "failed to start %s", name)
	}
	pw.Close()

	p := &Process{
		cmd:    cmd,
		stdout: pr,
		stdin:  stdin,
		stderr: stderr,
		grace:  opts.Grace,
		logger: opts.Logger.With("pid", cmd.Process.Pid, "cmd", name),
		done:   make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	p.logger.Debug("Process started", "args", strings.Join(args, " "))
	return p, nil
}

// Read reads the process's standard output.
func (p *Process) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

// Stdin returns the process's standard input, or nil if not requested.
func (p *Process) Stdin() io.WriteCloser {
	return p.stdin
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitErr returns the wait error once the process has exited, with the tail
// of its stderr attached.
func (p *Process) ExitErr() error {
	select {
	case <-p.done:
	default:
		return nil
	}
	if p.waitErr == nil {
		return nil
	}
	if tail := p.stderr.String(); tail != "" {
		return errors.Wrap(p.waitErr, tail)
	}
	return p.waitErr
}

// Terminate stops the process group: SIGTERM, then SIGKILL after the grace
// period. It returns once the process has been reaped and its output closed.
func (p *Process) Terminate() error {
	p.once.Do(func() {
		if p.stdin != nil {
			p.stdin.Close()
		}
		select {
		case <-p.done:
		default:
			if err := procgroup.Terminate(p.cmd); err != nil {
				p.logger.Debug("SIGTERM failed", "error", err)
			}
			select {
			case <-p.done:
			case <-time.After(p.grace):
				p.logger.Warn("Process ignored SIGTERM, killing")
				procgroup.Kill(p.cmd)
				select {
				case <-p.done:
				case <-time.After(2 * p.grace):
					p.logger.Error("Process did not exit after SIGKILL")
				}
			}
		}
		p.stdout.Close()
		p.logger.Debug("Process terminated")
	})
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, b...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
