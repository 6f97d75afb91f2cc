package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/babelcloud/hopemirror/internal/session"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type ScreenshotOptions struct {
	OutputDir string
}

func NewScreenshotCommand() *cobra.Command {
	opts := &ScreenshotOptions{}

	cmd := &cobra.Command{
		Use:   "screenshot [serial] [flags]",
		Short: "Save a PNG screenshot of a device",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ExecuteScreenshot(cmd, args, opts)
		},
		Example: `  # Screenshot the only online device into the current directory:
  hopemirror screenshot

  # Screenshot one device into ./shots:
  hopemirror screenshot emulator-5554 -o shots`,
	}

	cmd.Flags().StringVarP(&opts.OutputDir, "output", "o", ".", "Directory to save the screenshot in")
	return cmd
}

func ExecuteScreenshot(cmd *cobra.Command, args []string, opts *ScreenshotOptions) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	dev, err := e.singleDevice(cmd.Context(), args)
	if err != nil {
		return err
	}

	data, err := e.capture.OpenStill(cmd.Context(), dev)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", opts.OutputDir)
	}
	path := filepath.Join(opts.OutputDir, session.ScreenshotName(dev, time.Now()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to save screenshot")
	}
	fmt.Printf("Saved %s\n", color.CyanString(path))
	return nil
}
