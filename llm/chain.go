package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadpilot/metrics"
	"leadpilot/utils"
)

// Chain tries providers in a fixed priority order until one answers
type Chain struct {
	providers   []Provider
	timeout     time.Duration
	placeholder string
	logger      *utils.Logger
	metrics     *metrics.Metrics
}

// ChainOption configures a Chain
type ChainOption func(*Chain)

// WithTimeout bounds each provider attempt
func WithTimeout(d time.Duration) ChainOption {
	return func(c *Chain) { c.timeout = d }
}

// WithPlaceholder sets the reply used when every provider fails
func WithPlaceholder(text string) ChainOption {
	return func(c *Chain) {
		if text != "" {
			c.placeholder = text
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *utils.Logger) ChainOption {
	return func(c *Chain) {
		if l != nil {
			c.logger = l.Named("llm")
		}
	}
}

// WithMetrics records provider attempts
func WithMetrics(m *metrics.Metrics) ChainOption {
	return func(c *Chain) { c.metrics = m }
}

// NewChain creates a fallback chain over providers, tried in slice order
func NewChain(providers []Provider, opts ...ChainOption) *Chain {
	c := &Chain{
		providers:   providers,
		placeholder: utils.Placeholder,
		logger:      utils.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Providers returns the number of configured providers
func (c *Chain) Providers() int {
	return len(c.providers)
}

// Placeholder returns the fixed fallback reply
func (c *Chain) Placeholder() string {
	return c.placeholder
}

// Complete returns the first successful provider answer. When every provider
// fails the returned error joins one ProviderError per attempt.
func (c *Chain) Complete(ctx context.Context, messages []Message) (string, error) {
	if len(c.providers) == 0 {
		return "", ErrNoProviders
	}

	var errs []error
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		start := time.Now()
		text, err := c.attempt(ctx, p, messages)
		c.metrics.RecordProviderAttempt(p.Name(), err, time.Since(start))
		if err == nil {
			c.logger.Debug("Generated reply with %s in %s", p.Name(), time.Since(start).Round(time.Millisecond))
			return text, nil
		}

		c.logger.Warn("Provider %s failed: %v", p.Name(), err)
		errs = append(errs, &ProviderError{Provider: p.Name(), Err: err})
	}
	return "", fmt.Errorf("all providers failed: %w", errors.Join(errs...))
}

// attempt runs one provider call under the per-attempt timeout. A panic is
// reported as an ordinary failure.
func (c *Chain) attempt(ctx context.Context, p Provider, messages []Message) (text string, err error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	err = utils.SafeCall(p.Name(), func() error {
		var callErr error
		text, callErr = p.Chat(ctx, messages)
		return callErr
	})
	if err == nil && text == "" {
		err = ErrEmptyResponse
	}
	return text, err
}

// Generate produces a reply grounded in the retrieved chunks. It never fails: when no
// provider succeeds it returns the placeholder reply.
func (c *Chain) Generate(ctx context.Context, question string, chunks []string) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Generation panicked: %v", r)
			reply = c.placeholder
		}
	}()

	prompt := BuildPrompt(question, chunks)
	text, err := c.Complete(ctx, []Message{{Role: "user", Content: prompt}})
	if err != nil {
		if errors.Is(err, ErrNoProviders) {
			c.logger.Debug("No generation provider configured, using placeholder")
		} else {
			c.logger.Warn("Generation failed across %d provider(s), using placeholder: %v", len(c.providers), err)
		}
		return c.placeholder
	}
	return text
}
