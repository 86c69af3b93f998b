package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard, saves the result to
// path and returns it.
func RunWizard(path string) (*Config, error) {
	fmt.Println("Welcome to voicedesk! Let's configure your receptionist.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Public base URL.
	basePrompt := promptui.Prompt{
		Label:    "Public base URL (what Twilio calls back)",
		Default:  "https://",
		Validate: validateBaseURL,
	}
	baseURL, err := basePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(baseURL, "/")

	// 2. Provider selection.
	providerPrompt := promptui.Select{
		Label: "Select LLM provider",
		Items: []string{string(ProviderOpenAI), string(ProviderAnthropic), string(ProviderOpenRouter)},
	}
	_, providerStr, err := providerPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("provider selection: %w", err)
	}
	cfg.LLM.Provider = ProviderType(providerStr)
	cfg.LLM.Model = DefaultModel(cfg.LLM.Provider)

	// 3. Fallback transfer number.
	transferPrompt := promptui.Prompt{
		Label:   "Transfer number for callers asking for a person (blank for none)",
		Default: "",
	}
	transfer, err := transferPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("transfer number: %w", err)
	}
	cfg.Call.TransferNumber = strings.TrimSpace(transfer)

	// 4. Storage backend.
	dbPrompt := promptui.Select{
		Label: "Where should calls be stored",
		Items: []string{DriverSQLite, DriverPostgres, DriverNone},
	}
	_, driver, err := dbPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("database selection: %w", err)
	}
	cfg.Database.Driver = driver
	if driver == DriverPostgres {
		cfg.Database.Path = ""
		dsnPrompt := promptui.Prompt{Label: "Postgres DSN"}
		dsn, err := dsnPrompt.Run()
		if err != nil {
			return nil, fmt.Errorf("postgres dsn: %w", err)
		}
		cfg.Database.DSN = dsn
	}

	// 5. Signature validation.
	sigPrompt := promptui.Prompt{
		Label:     "Validate Twilio webhook signatures",
		IsConfirm: true,
	}
	if _, err := sigPrompt.Run(); err == nil {
		cfg.Twilio.ValidateSignature = true
		if os.Getenv(EnvPrefix+"TWILIO__AUTH_TOKEN") == "" {
			fmt.Printf("\nNote: Set %sTWILIO__AUTH_TOKEN before running voicedesk server.\n", EnvPrefix)
		}
	}

	// Check for API key.
	if envVar := APIKeyEnvVar(cfg.LLM.Provider); envVar != "" && os.Getenv(envVar) == "" {
		fmt.Printf("\nNote: Set %s in your environment before running voicedesk server.\n", envVar)
	}

	if err := cfg.Save(path); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", path)
	return cfg, nil
}

func validateBaseURL(s string) error {
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("enter an absolute http(s) URL")
	}
	return nil
}
