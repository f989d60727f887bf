package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Message represents a chat message
type Message struct {
	Role    string `json:"role"` // "user" or "assistant" or "system"
	Content string `json:"content"`
}

// Provider interface defines the common interface for all LLM providers
type Provider interface {
	// Chat sends messages and returns the complete response
	Chat(ctx context.Context, messages []Message) (string, error)

	// Name returns the provider name
	Name() string

	// ValidateConfig validates the provider configuration
	ValidateConfig() error
}

// Config represents provider configuration
type Config struct {
	ProviderName string // Display name for the provider
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int
	Temperature  float64

	// HTTPClient overrides the transport; nil uses a default client.
	HTTPClient *http.Client
}

var (
	// ErrNoProviders is returned when the chain has nothing to try
	ErrNoProviders = errors.New("no generation provider configured")

	// ErrEmptyResponse is returned when a provider answers with no text
	ErrEmptyResponse = errors.New("empty response")
)

// ProviderError records which provider failed and why
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{}
}
