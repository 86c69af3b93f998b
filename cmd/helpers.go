package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ziadkadry99/voicedesk/internal/agent"
	"github.com/ziadkadry99/voicedesk/internal/calls"
	"github.com/ziadkadry99/voicedesk/internal/config"
	"github.com/ziadkadry99/voicedesk/internal/db"
	"github.com/ziadkadry99/voicedesk/internal/llm"
	"github.com/ziadkadry99/voicedesk/internal/logging"
)

// loadConfig loads the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `voicedesk init` to create a config file", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
		cfg.Log.Format = "console"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Format)
}

// openStore opens the configured persistence backend. Driver "none" returns
// a nil store; callers treat that as persistence disabled.
func openStore(ctx context.Context, cfg *config.Config) (calls.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverNone:
		return nil, nil
	case config.DriverPostgres:
		store, err := calls.OpenPostgres(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		return store, nil
	default:
		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		return calls.NewSQLiteStore(database), nil
	}
}

// requireStore is openStore for commands that cannot run without one.
func requireStore(ctx context.Context, cfg *config.Config) (calls.Store, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("database.driver is %q; this command needs sqlite or postgres", cfg.Database.Driver)
	}
	return store, nil
}

// createLLMProviderFromConfig creates an LLM provider based on config
// settings, rate limited when requests_per_minute is set.
func createLLMProviderFromConfig(cfg *config.Config) (llm.Provider, error) {
	provider, err := llm.NewProvider(string(cfg.LLM.Provider), cfg.LLM.Model, cfg.ResolvedAPIKey())
	if err != nil {
		return nil, err
	}
	return llm.NewRateLimitedProvider(provider, cfg.LLM.RequestsPerMinute), nil
}

func newTurnService(cfg *config.Config, provider llm.Provider, logger *zap.Logger) *agent.Service {
	return agent.NewService(provider, agent.Options{
		Model:           cfg.LLM.Model,
		Timeout:         cfg.Turn.Timeout.Std(),
		MaxToolRounds:   cfg.Turn.MaxToolRounds,
		Temperature:     cfg.LLM.Temperature,
		MaxTokens:       cfg.LLM.MaxTokens,
		DefaultTimezone: cfg.Call.DefaultTimezone,
		TransferNumber:  cfg.Call.TransferNumber,
	}, logger.Named("agent"))
}
