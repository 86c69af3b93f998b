package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VOICEDESK_"

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (VOICEDESK_*). A double underscore
// separates nested keys: VOICEDESK_CALL__TRANSFER_NUMBER -> call.transfer_number.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Start from defaults.
	cfg := DefaultConfig()

	// Load YAML file if it exists.
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// A provider switch without an explicit model picks that provider's default.
	if !k.Exists("llm.model") && cfg.LLM.Provider != ProviderOpenAI {
		cfg.LLM.Model = DefaultModel(cfg.LLM.Provider)
	}

	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

var (
	validProviders = map[ProviderType]bool{
		ProviderOpenAI:     true,
		ProviderAnthropic:  true,
		ProviderOpenRouter: true,
	}
	validDrivers = map[string]bool{
		DriverSQLite:   true,
		DriverPostgres: true,
		DriverNone:     true,
	}
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"json": true, "console": true}
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return invalid("base_url is required")
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("base_url %q must be an absolute URL", c.BaseURL)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return invalid("server.port %d out of range", c.Server.Port)
	}

	if !validProviders[c.LLM.Provider] {
		return invalid("llm.provider %q must be one of openai, anthropic, openrouter", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return invalid("llm.model is required")
	}
	if c.ResolvedAPIKey() == "" {
		return invalid("llm.api_key is required (or set %s)", APIKeyEnvVar(c.LLM.Provider))
	}
	if c.LLM.RequestsPerMinute < 0 {
		return invalid("llm.requests_per_minute must be non-negative")
	}
	if c.LLM.MaxTokens < 0 {
		return invalid("llm.max_tokens must be non-negative")
	}

	if c.Turn.Timeout <= 0 {
		return invalid("turn.timeout must be positive")
	}
	if c.Turn.MaxToolRounds < 1 {
		return invalid("turn.max_tool_rounds must be at least 1")
	}
	if c.Turn.IdempotencyWindow < 0 {
		return invalid("turn.idempotency_window must be non-negative")
	}

	if c.Call.MaxDuration < 0 {
		return invalid("call.max_duration must be non-negative")
	}
	if c.Call.SilenceTimeout < 0 {
		return invalid("call.silence_timeout must be non-negative")
	}
	if _, err := time.LoadLocation(c.Call.DefaultTimezone); err != nil {
		return invalid("call.default_timezone %q: %v", c.Call.DefaultTimezone, err)
	}

	if c.Twilio.ValidateSignature && c.Twilio.AuthToken == "" {
		return invalid("twilio.auth_token is required when validate_signature is enabled")
	}

	if !validDrivers[c.Database.Driver] {
		return invalid("database.driver %q must be one of sqlite, postgres, none", c.Database.Driver)
	}
	if c.Database.Driver == DriverSQLite && c.Database.Path == "" {
		return invalid("database.path is required for sqlite")
	}
	if c.Database.Driver == DriverPostgres && c.Database.DSN == "" {
		return invalid("database.dsn is required for postgres")
	}

	if !validLogLevels[c.Log.Level] {
		return invalid("log.level %q must be one of debug, info, warn, error", c.Log.Level)
	}
	if !validLogFormats[c.Log.Format] {
		return invalid("log.format %q must be json or console", c.Log.Format)
	}

	return nil
}

// ResolvedAPIKey returns the configured API key, falling back to the
// provider's conventional environment variable.
func (c *Config) ResolvedAPIKey() string {
	if c.LLM.APIKey != "" {
		return c.LLM.APIKey
	}
	if name := APIKeyEnvVar(c.LLM.Provider); name != "" {
		return os.Getenv(name)
	}
	return ""
}

// APIKeyEnvVar returns the conventional environment variable name for
// the API key of the given provider.
func APIKeyEnvVar(provider ProviderType) string {
	switch provider {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderOpenRouter:
		return "OPENROUTER_API_KEY"
	default:
		return ""
	}
}

// WebhookURL joins the public base URL with path.
func (c *Config) WebhookURL(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}
