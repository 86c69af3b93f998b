package llm

import (
	"fmt"
	"os"
)

// apiKeyEnv names the conventional environment variable for each provider.
var apiKeyEnv = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

// SupportedProviders lists the provider names NewProvider accepts.
func SupportedProviders() []string {
	return []string{"openai", "anthropic", "openrouter"}
}

// APIKeyEnv returns the environment variable consulted when no key is
// configured for providerType.
func APIKeyEnv(providerType string) string {
	return apiKeyEnv[providerType]
}

// NewProvider creates a new LLM provider. An empty apiKey falls back to the
// provider's conventional environment variable.
func NewProvider(providerType, model, apiKey string) (Provider, error) {
	envName, ok := apiKeyEnv[providerType]
	if !ok {
		return nil, fmt.Errorf("unsupported provider type: %s", providerType)
	}
	if apiKey == "" {
		apiKey = os.Getenv(envName)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no API key configured for %s and %s is not set", providerType, envName)
	}

	switch providerType {
	case "anthropic":
		return NewAnthropicProvider(apiKey, model), nil
	case "openrouter":
		return NewOpenRouterProvider(apiKey, model), nil
	default:
		return NewOpenAIProvider(apiKey, model), nil
	}
}
