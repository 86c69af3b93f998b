package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/voicedesk/internal/directory"
)

var directoryCmd = &cobra.Command{
	Use:   "directory",
	Short: "Manage the business directory",
}

var directoryImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import business profiles from a YAML file",
	Long: `Upserts every business in the file, keyed by phone number. Existing
rows for the same number are updated in place.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx := cmd.Context()
		store, err := requireStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := directory.New(args[0], store, logger.Named("directory")).Import(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d businesses from %s\n", n, args[0])
		return nil
	},
}

var directoryCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate a business directory file without importing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profiles, err := directory.Load(args[0])
		if err != nil {
			return err
		}
		for _, p := range profiles {
			fmt.Printf("  %-30s %s  hours: %s\n", p.Name, p.PhoneNumber, p.Hours.String())
		}
		fmt.Printf("%d businesses OK\n", len(profiles))
		return nil
	},
}

func init() {
	directoryCmd.AddCommand(directoryImportCmd)
	directoryCmd.AddCommand(directoryCheckCmd)
	rootCmd.AddCommand(directoryCmd)
}
