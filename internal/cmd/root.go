package cmd

import (
	"os"

	"github.com/Carthicc/karlynn/internal/ui"
	"github.com/Carthicc/karlynn/internal/version"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "syncwatch",
	Short: "Watch a video together over WebRTC",
	Long: `SyncWatch lets a small group watch the same video in lockstep while seeing and
hearing each other. A lightweight signaling relay introduces peers in a room;
audio and video flow directly between them over WebRTC, and play, pause and
position updates are relayed so every player stays in sync.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
