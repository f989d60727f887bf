package llm

import (
	"context"

	"leadpilot/utils"
)

// NewProvider creates the provider implementation for a configured name.
// gemini, claude and ollama have native clients; every other name is
// treated as an OpenAI-compatible endpoint (openai, groq, ...).
func NewProvider(ctx context.Context, name string, pc utils.ProviderConfig) (Provider, error) {
	config := Config{
		ProviderName: pc.DisplayName,
		APIKey:       pc.APIKey,
		BaseURL:      pc.BaseURL,
		Model:        pc.Model,
		MaxTokens:    pc.MaxTokens,
		Temperature:  pc.Temperature,
	}
	if config.ProviderName == "" {
		config.ProviderName = name
	}

	switch name {
	case "gemini":
		return NewGeminiProvider(ctx, config)
	case "claude":
		return NewClaudeProvider(config)
	case "ollama":
		return NewOllamaProvider(config)
	default:
		return NewOpenAIProvider(config)
	}
}

// credentialPresent reports whether a provider has what it needs to be tried.
// Ollama needs no key, only an explicit server address.
func credentialPresent(name string, pc utils.ProviderConfig) bool {
	if name == "ollama" {
		return pc.BaseURL != ""
	}
	return pc.APIKey != ""
}

// BuildProviders creates the configured providers in priority order.
// Providers that are disabled or lack credentials are skipped and named in
// the second return value.
func BuildProviders(ctx context.Context, cfg utils.GenerationConfig, logger *utils.Logger) ([]Provider, []string) {
	var (
		providers []Provider
		skipped   []string
	)
	for _, name := range cfg.Order {
		pc, ok := cfg.Providers[name]
		if !ok || !pc.Enabled || !credentialPresent(name, pc) {
			skipped = append(skipped, name)
			continue
		}
		p, err := NewProvider(ctx, name, pc)
		if err == nil {
			err = p.ValidateConfig()
		}
		if err != nil {
			logger.Warn("Generation provider %s unavailable: %v", name, err)
			skipped = append(skipped, name)
			continue
		}
		providers = append(providers, p)
	}
	if len(providers) > 0 {
		names := make([]string, len(providers))
		for i, p := range providers {
			names[i] = p.Name()
		}
		logger.Info("Generation chain: %v", names)
	}
	return providers, skipped
}

// ChainFromConfig builds the full fallback chain from configuration
func ChainFromConfig(ctx context.Context, cfg utils.GenerationConfig, logger *utils.Logger, opts ...ChainOption) *Chain {
	providers, skipped := BuildProviders(ctx, cfg, logger)
	if len(skipped) > 0 {
		logger.Debug("Generation providers skipped: %v", skipped)
	}
	base := []ChainOption{
		WithTimeout(cfg.Timeout),
		WithPlaceholder(cfg.Placeholder),
		WithLogger(logger),
	}
	return NewChain(providers, append(base, opts...)...)
}
