package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/babelcloud/browsercast/config"
	"github.com/babelcloud/browsercast/internal/util"
	"github.com/babelcloud/browsercast/internal/version"
)

var (
	verbose bool

	rootCmd = &cobra.Command{
		Use:   "browsercast",
		Short: "Cast local media to a browser over WebRTC",
		Long: `browsercast casts a local file or a live ffmpeg capture to a player page on
another machine. The two ends meet in a room on a signaling relay and then
stream over a WebRTC data channel.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.InitLogger(verbose)
			util.SetupGlobalLogger()
			if f := config.ConfigFileUsed(); f != "" {
				util.GetLogger().Debug("Using config file", "path", f)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flag("version").Changed {
				info := version.ClientInfo()
				fmt.Printf("browsercast version %s, build %s\n", info["Version"], info["GitCommit"])
				return nil
			}
			return cmd.Help()
		},
	}
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information and exit")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("relay", "", "Signaling relay URL (default from config relay.url)")
	config.BindFlag("relay.url", rootCmd.PersistentFlags().Lookup("relay"))

	rootCmd.AddCommand(NewRelayCommand())
	rootCmd.AddCommand(NewSendCommand())
	rootCmd.AddCommand(NewDisplayCommand())
	rootCmd.AddCommand(NewVersionCommand())
}
