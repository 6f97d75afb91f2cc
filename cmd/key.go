package cmd

import (
	"fmt"
	"strings"

	"github.com/babelcloud/hopemirror/internal/input"
	"github.com/spf13/cobra"
)

func NewKeyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key <serial> <name>",
		Short: "Send a named key press to a device",
		Long:  "Send a named key press to a device. Known keys: " + strings.Join(input.KeyNames(), ", ") + ".",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, ok := input.KeyCode(args[1])
			if !ok {
				return fmt.Errorf("unknown key %q, expected one of: %s", args[1], strings.Join(input.KeyNames(), ", "))
			}
			e, err := newEnv()
			if err != nil {
				return err
			}
			dev, err := e.singleDevice(cmd.Context(), args[:1])
			if err != nil {
				return err
			}
			return e.bridge.KeyEvent(dev, code)
		},
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 1 {
				return input.KeyNames(), cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
		Example: `  hopemirror key emulator-5554 home
  hopemirror key emulator-5554 volume_up`,
	}
	return cmd
}
