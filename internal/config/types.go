package config

import (
	"fmt"
	"time"
)

// ProviderType identifies an LLM provider.
type ProviderType string

const (
	ProviderOpenAI     ProviderType = "openai"
	ProviderAnthropic  ProviderType = "anthropic"
	ProviderOpenRouter ProviderType = "openrouter"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// Duration is a time.Duration that reads and writes as text ("8s", "10m").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalYAML renders d in time.Duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

// Config is the top-level voicedesk configuration, corresponding to .voicedesk.yml.
type Config struct {
	BaseURL   string          `yaml:"base_url" koanf:"base_url"`
	Server    ServerConfig    `yaml:"server" koanf:"server"`
	LLM       LLMConfig       `yaml:"llm" koanf:"llm"`
	Turn      TurnConfig      `yaml:"turn" koanf:"turn"`
	Call      CallConfig      `yaml:"call" koanf:"call"`
	Twilio    TwilioConfig    `yaml:"twilio" koanf:"twilio"`
	Database  DatabaseConfig  `yaml:"database" koanf:"database"`
	Directory DirectoryConfig `yaml:"directory" koanf:"directory"`
	Log       LogConfig       `yaml:"log" koanf:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            int  `yaml:"port" koanf:"port"`
	AllowAllOrigins bool `yaml:"allow_all_origins" koanf:"allow_all_origins"`
}

// LLMConfig selects the model behind the receptionist.
type LLMConfig struct {
	Provider          ProviderType `yaml:"provider" koanf:"provider"`
	Model             string       `yaml:"model" koanf:"model"`
	APIKey            string       `yaml:"api_key,omitempty" koanf:"api_key"`
	RequestsPerMinute int          `yaml:"requests_per_minute" koanf:"requests_per_minute"`
	Temperature       float64      `yaml:"temperature" koanf:"temperature"`
	MaxTokens         int          `yaml:"max_tokens" koanf:"max_tokens"`
}

// TurnConfig bounds a single conversational turn.
type TurnConfig struct {
	Timeout           Duration `yaml:"timeout" koanf:"timeout"`
	MaxToolRounds     int      `yaml:"max_tool_rounds" koanf:"max_tool_rounds"`
	IdempotencyWindow Duration `yaml:"idempotency_window" koanf:"idempotency_window"`
}

// CallConfig holds per-call limits and rendering hints.
type CallConfig struct {
	MaxDuration     Duration `yaml:"max_duration" koanf:"max_duration"`
	TransferNumber  string   `yaml:"transfer_number,omitempty" koanf:"transfer_number"`
	DefaultTimezone string   `yaml:"default_timezone" koanf:"default_timezone"`
	SilenceTimeout  int      `yaml:"silence_timeout" koanf:"silence_timeout"`
	Voice           string   `yaml:"voice" koanf:"voice"`
	Language        string   `yaml:"language" koanf:"language"`
}

// TwilioConfig controls webhook signature validation.
type TwilioConfig struct {
	AuthToken         string `yaml:"auth_token,omitempty" koanf:"auth_token"`
	ValidateSignature bool   `yaml:"validate_signature" koanf:"validate_signature"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver" koanf:"driver"`
	Path   string `yaml:"path,omitempty" koanf:"path"`
	DSN    string `yaml:"dsn,omitempty" koanf:"dsn"`
}

// DirectoryConfig points at an optional YAML business directory.
type DirectoryConfig struct {
	Path  string `yaml:"path,omitempty" koanf:"path"`
	Watch bool   `yaml:"watch" koanf:"watch"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" koanf:"level"`
	Format string `yaml:"format" koanf:"format"`
}
