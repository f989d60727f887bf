package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"leadpilot/db"
	"leadpilot/llm"
	"leadpilot/utils"
)

// DefaultScore is used when no scorer is configured or scoring fails
const DefaultScore = 80

// Intents a scorer may report
const (
	IntentSeekingWork = "seeking_work"
	IntentHiring      = "hiring"
	IntentDiscussion  = "discussion"
	IntentSpam        = "spam"
)

// Score is a relevance judgement on a 0-100 scale
type Score struct {
	Value     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
	Intent    string  `json:"intent"`
}

// Scorer rates how commercially relevant a lead is
type Scorer interface {
	Score(ctx context.Context, lead *db.Lead) (Score, error)
}

// FixedScorer gives every lead the same score
type FixedScorer struct {
	Value float64
}

// Score returns the fixed value
func (s FixedScorer) Score(context.Context, *db.Lead) (Score, error) {
	return Score{Value: s.Value}, nil
}

// Default is the score used if scoring fails
func (s FixedScorer) Default() float64 {
	return s.Value
}

// Completer is the part of the generation chain the LLM scorer needs
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

// LLMScorer asks a language model to rate the lead
type LLMScorer struct {
	chain    Completer
	fallback float64
}

// NewLLMScorer creates a scorer backed by c
func NewLLMScorer(c Completer, fallback float64) *LLMScorer {
	if fallback <= 0 {
		fallback = DefaultScore
	}
	return &LLMScorer{chain: c, fallback: fallback}
}

// Default is the score used if the model gives no usable answer
func (s *LLMScorer) Default() float64 {
	return s.fallback
}

const scorePrompt = `Analyze this Reddit post for sales potential.
We are looking for people who want to work in sales, remote work, or are looking for commission-based opportunities.

Title: %s
Body: %s

Return a JSON object with:
- score: 0-100 (100 being a perfect lead)
- reasoning: short explanation
- intent: one of 'seeking_work', 'hiring', 'discussion', 'spam'

Respond with the JSON object only.`

// Score asks the model for a JSON verdict and parses it
func (s *LLMScorer) Score(ctx context.Context, lead *db.Lead) (Score, error) {
	text, err := s.chain.Complete(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(scorePrompt, lead.Title, lead.Body)},
	})
	if err != nil {
		return Score{}, fmt.Errorf("score lead %s: %w", lead.ExternalID, err)
	}
	return ParseScore(text)
}

// ParseScore extracts a Score from model output. Markdown code fences and
// text around the JSON object are tolerated; the value is clamped to 0-100.
func ParseScore(text string) (Score, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Score{}, fmt.Errorf("no JSON object in scorer output %q", truncate(text, 80))
	}

	var raw struct {
		Score     *float64 `json:"score"`
		Reasoning string   `json:"reasoning"`
		Intent    string   `json:"intent"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return Score{}, utils.WrapError(err, "failed to parse scorer output")
	}
	if raw.Score == nil {
		return Score{}, fmt.Errorf("scorer output has no score")
	}

	v := *raw.Score
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return Score{Value: v, Reasoning: raw.Reasoning, Intent: strings.ToLower(strings.TrimSpace(raw.Intent))}, nil
}

// NewScorer picks the scorer named by cfg. "llm" needs a chain with at least
// one provider; otherwise the fixed scorer is used.
func NewScorer(cfg utils.ScoringConfig, chain *llm.Chain) Scorer {
	if cfg.Strategy == "llm" && chain != nil && chain.Providers() > 0 {
		return NewLLMScorer(chain, defaultScore(cfg))
	}
	return FixedScorer{Value: defaultScore(cfg)}
}

func defaultScore(cfg utils.ScoringConfig) float64 {
	if cfg.DefaultScore > 0 {
		return cfg.DefaultScore
	}
	return DefaultScore
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
