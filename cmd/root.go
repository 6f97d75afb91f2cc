package cmd

import (
	"fmt"

	"github.com/babelcloud/hopemirror/internal/util"
	"github.com/babelcloud/hopemirror/internal/version"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hopemirror",
	Short: "Mirror and control Android devices over adb",
	Long: `hopemirror mirrors the screens of adb-connected Android devices into a browser preview
and forwards taps, swipes, keys and text back to them.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		util.InitLogger(verbose)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flag("version").Changed {
			info := version.Info()
			fmt.Printf("hopemirror version %s, build %s\n", info["Version"], info["GitCommit"])
			return nil
		}
		return cmd.Help()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	rootCmd.Flags().BoolP("version", "v", false, "Print version information and exit")

	rootCmd.AddCommand(NewDevicesCommand())
	rootCmd.AddCommand(NewMirrorCommand())
	rootCmd.AddCommand(NewScreenshotCommand())
	rootCmd.AddCommand(NewKeyCommand())
	rootCmd.AddCommand(NewTextCommand())
	rootCmd.AddCommand(NewVersionCommand())
}
