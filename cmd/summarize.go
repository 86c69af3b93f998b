package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ziadkadry99/voicedesk/internal/progress"
	"github.com/ziadkadry99/voicedesk/internal/voice"
)

var summarizeLimit int

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Generate summaries for completed calls that lack one",
	Long: `Finds completed calls whose post-call summary never landed (for example
because the server stopped mid-call or the model was unavailable) and
summarizes them from their stored transcripts.`,
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

		provider, err := createLLMProviderFromConfig(cfg)
		if err != nil {
			return fmt.Errorf("creating LLM provider: %w", err)
		}
		turns := newTurnService(cfg, provider, logger)

		pending, err := store.ListCallsWithoutSummary(ctx, summarizeLimit)
		if err != nil {
			return fmt.Errorf("listing calls: %w", err)
		}
		if len(pending) == 0 {
			fmt.Println("All completed calls already have summaries.")
			return nil
		}

		reporter := progress.NewReporter("Summarizing calls")
		reporter.Start(len(pending))
		failed := 0
		for i, c := range pending {
			if err := voice.SummarizeCall(ctx, store, turns, c.ID); err != nil {
				failed++
				logger.Warn("summarizing call", zap.String("call_sid", c.CallSid), zap.Error(err))
			}
			reporter.Update(i+1, c.CallSid)
		}
		reporter.Finish()

		fmt.Fprintf(os.Stdout, "Summarized %d of %d calls.\n", len(pending)-failed, len(pending))
		if failed > 0 {
			return fmt.Errorf("%d calls could not be summarized", failed)
		}
		return nil
	},
}

func init() {
	summarizeCmd.Flags().IntVar(&summarizeLimit, "limit", 0, "maximum calls to summarize (0 = all)")
	rootCmd.AddCommand(summarizeCmd)
}
