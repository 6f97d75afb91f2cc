package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

func NewTextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "text <serial> <text...>",
		Short: "Type text on a device",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			dev, err := e.singleDevice(cmd.Context(), args[:1])
			if err != nil {
				return err
			}
			return e.bridge.Text(dev, strings.Join(args[1:], " "))
		},
		Example: `  hopemirror text emulator-5554 hello world`,
	}
}
