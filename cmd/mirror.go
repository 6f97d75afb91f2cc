package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/babelcloud/hopemirror/config"
	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/babelcloud/hopemirror/internal/geometry"
	"github.com/babelcloud/hopemirror/internal/orchestrator"
	"github.com/babelcloud/hopemirror/internal/server"
	"github.com/babelcloud/hopemirror/internal/util"
	"github.com/fatih/color"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

type MirrorOptions struct {
	Strategy      string
	Scale         float64
	Addr          string
	FPS           int
	Open          bool
	NoPreview     bool
	ScreenshotDir string
}

func NewMirrorCommand() *cobra.Command {
	opts := &MirrorOptions{}

	cmd := &cobra.Command{
		Use:   "mirror [serial...] [flags]",
		Short: "Mirror devices into the browser preview",
		Long: `Mirror the screens of the named devices, or of every online device when none are named.
Each device gets its own session; the preview lists them and forwards input.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ExecuteMirror(cmd, args, opts)
		},
		Example: `  # Mirror every online device at half size:
  hopemirror mirror

  # Mirror one device through the H.264 pipe and open the browser:
  hopemirror mirror emulator-5554 --strategy rawpipe --open`,
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Strategy, "strategy", "", "Decode strategy: snapshot, demux or rawpipe")
	flags.Float64Var(&opts.Scale, "scale", 0, "Window scale in (0, 1]")
	flags.StringVar(&opts.Addr, "addr", "", "Preview listen address")
	flags.IntVar(&opts.FPS, "fps", 0, "Preview redraw rate")
	flags.BoolVar(&opts.Open, "open", false, "Open the preview in the default browser")
	flags.BoolVar(&opts.NoPreview, "no-preview", false, "Run sessions without the browser preview")
	flags.StringVar(&opts.ScreenshotDir, "screenshot-dir", ".", "Directory preview screenshots are saved to")

	cmd.RegisterFlagCompletionFunc("strategy", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{config.StrategySnapshot, config.StrategyDemux, config.StrategyRawPipe}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func (o *MirrorOptions) apply(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("strategy") {
		config.Set("mirror.strategy", o.Strategy)
	}
	if flags.Changed("scale") {
		config.Set("mirror.scale", o.Scale)
	}
	if flags.Changed("addr") {
		config.Set("preview.addr", o.Addr)
	}
	if flags.Changed("fps") {
		config.Set("preview.fps", o.FPS)
	}
}

func ExecuteMirror(cmd *cobra.Command, args []string, opts *MirrorOptions) error {
	opts.apply(cmd)
	e, err := newEnv()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	devices, err := e.resolveDevices(ctx, args)
	if err != nil {
		return err
	}

	orch := orchestrator.New(e.factory(statusListener{}))
	go orch.Watch(ctx, e.shell.Watch(ctx))

	var preview *server.PreviewServer
	previewErr := make(chan error, 1)
	if !opts.NoPreview {
		preview = server.New(orch, server.Options{
			Addr:          config.GetPreviewAddr(),
			FPS:           config.GetPreviewFPS(),
			ScreenshotDir: opts.ScreenshotDir,
		})
		go func() { previewErr <- preview.ListenAndServe(ctx) }()
	}

	var started []core.DeviceHandle
	var wg sync.WaitGroup
	for _, dev := range devices {
		s, err := orch.Start(ctx, dev)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %s: %v\n", color.RedString("✗"), dev, err)
			continue
		}
		started = append(started, dev)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-s.Done()
		}()
	}
	if len(started) == 0 {
		return fmt.Errorf("no session could be started")
	}

	if preview != nil {
		fmt.Printf("\n📱 Preview available at: %s\n", color.CyanString(preview.URL()))
		for _, dev := range started {
			fmt.Printf("   %s  %s\n", dev, preview.DeviceURL(dev))
		}
		if opts.Open {
			target := preview.URL()
			if len(started) == 1 {
				target = preview.DeviceURL(started[0])
			}
			if err := browser.OpenURL(target); err != nil {
				util.GetLogger().Warn("Failed to open browser", "url", target, "error", err)
			}
		}
	}
	fmt.Printf("(Running in foreground. Press %s to stop.)\n", color.New(color.FgYellow, color.Bold).Sprint("Ctrl+C"))

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		fmt.Println("Stopping sessions...")
	case <-allDone:
		fmt.Println("All sessions ended.")
	case err := <-previewErr:
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := orch.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	stop()
	return runErr
}

// statusListener prints session state changes.
type statusListener struct {
	core.NopListener
}

func (statusListener) OnGeometryChanged(dev core.DeviceHandle, g geometry.State) {
	util.DeviceLogger(string(dev)).Info("Geometry changed", "geometry", g.String())
}

func (statusListener) OnStateChanged(dev core.DeviceHandle, state core.State, err error) {
	fmt.Printf("%s %s\n", color.CyanString(string(dev)), stateColor(state).Sprint(state))
	if err != nil {
		fmt.Printf("   %s\n", color.RedString(err.Error()))
	}
}

func stateColor(state core.State) *color.Color {
	switch state {
	case core.StateStreaming:
		return color.New(color.FgGreen)
	case core.StateFailed:
		return color.New(color.FgRed, color.Bold)
	case core.StateStopped:
		return color.New(color.Faint)
	default:
		return color.New(color.FgYellow)
	}
}
