package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/voicedesk/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize voicedesk configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to configure the receptionist and writes the config file (default .voicedesk.yml).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard(cfgFile)
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
