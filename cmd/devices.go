package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/babelcloud/hopemirror/internal/util"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type DevicesOptions struct {
	OutputFormat string
}

type deviceRow struct {
	Serial      string `json:"serial"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Orientation string `json:"orientation"`
	SizeKnown   bool   `json:"size_known"`
}

func NewDevicesCommand() *cobra.Command {
	opts := &DevicesOptions{}

	cmd := &cobra.Command{
		Use:     "devices [flags]",
		Aliases: []string{"ls"},
		Short:   "List online devices and their display size",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ExecuteDevices(cmd, opts)
		},
		Example: `  # List devices:
  hopemirror devices

  # List devices as JSON:
  hopemirror devices --format json`,
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.OutputFormat, "format", "", "text", "Specify output format. Options are \"text\" (default) or \"json\".")

	cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func ExecuteDevices(cmd *cobra.Command, opts *DevicesOptions) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), discoveryTimeout)
	defer cancel()

	devices, err := e.bridge.Devices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list devices: %v", err)
	}

	rows := make([]deviceRow, 0, len(devices))
	for _, dev := range devices {
		w, h, err := e.bridge.DisplaySize(ctx, dev)
		row := deviceRow{Serial: string(dev), Width: w, Height: h, SizeKnown: err == nil, Orientation: "portrait"}
		if w > h {
			row.Orientation = "landscape"
		}
		rows = append(rows, row)
	}

	if opts.OutputFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	return outputDevicesText(rows)
}

func outputDevicesText(rows []deviceRow) error {
	if len(rows) == 0 {
		fmt.Println("No online devices found.")
		return nil
	}

	data := make([]map[string]interface{}, 0, len(rows))
	for _, r := range rows {
		size := color.New(color.FgGreen).Sprintf("%dx%d", r.Width, r.Height)
		if !r.SizeKnown {
			size = color.New(color.FgYellow).Sprintf("%dx%d (default)", r.Width, r.Height)
		}
		data = append(data, map[string]interface{}{
			"serial":      color.New(color.FgCyan).Sprint(r.Serial),
			"size":        size,
			"orientation": r.Orientation,
		})
	}

	util.RenderTable(os.Stdout, []util.TableColumn{
		{Header: "SERIAL", Key: "serial"},
		{Header: "SIZE", Key: "size"},
		{Header: "ORIENTATION", Key: "orientation"},
	}, data)
	return nil
}
