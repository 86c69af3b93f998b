package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/voicedesk/internal/config"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "voicedesk",
	Short: "AI phone receptionist for small businesses",
	Long: `voicedesk answers inbound phone calls for small businesses. It drives
a speech-gather loop over Twilio voice webhooks, lets a language model
hold the conversation, books appointments, takes messages, and hands
callers to a person when they ask for one.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
}
