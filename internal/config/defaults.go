package config

import "time"

// DefaultPath is the config file read when --config is not given.
const DefaultPath = ".voicedesk.yml"

// defaultModels is the model chosen per provider when none is configured.
var defaultModels = map[ProviderType]string{
	ProviderOpenAI:     "gpt-4o-mini",
	ProviderAnthropic:  "claude-haiku-4-5-20251001",
	ProviderOpenRouter: "openai/gpt-4o-mini",
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		LLM: LLMConfig{
			Provider:    ProviderOpenAI,
			Model:       defaultModels[ProviderOpenAI],
			Temperature: 0.4,
			MaxTokens:   300,
		},
		Turn: TurnConfig{
			Timeout:           Duration(8 * time.Second),
			MaxToolRounds:     3,
			IdempotencyWindow: Duration(15 * time.Second),
		},
		Call: CallConfig{
			MaxDuration:     Duration(10 * time.Minute),
			DefaultTimezone: "America/New_York",
			SilenceTimeout:  8,
			Voice:           "Polly.Joanna",
			Language:        "en-US",
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   "data/voicedesk.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// DefaultModel returns the model used for provider when none is set.
// Unknown providers get the OpenAI default.
func DefaultModel(provider ProviderType) string {
	if m, ok := defaultModels[provider]; ok {
		return m
	}
	return defaultModels[ProviderOpenAI]
}
