package retrieval

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"leadpilot/knowledge"
)

// Lexical ranks chunks by how many distinct query words they contain
type Lexical struct {
	store *knowledge.Store
}

// NewLexical creates a lexical-overlap retriever
func NewLexical(store *knowledge.Store) *Lexical {
	return &Lexical{store: store}
}

// Name returns the strategy name
func (l *Lexical) Name() string {
	return "lexical"
}

// Retrieve scores each chunk by the number of query words it contains,
// drops chunks with no match and keeps corpus order among equal scores.
func (l *Lexical) Retrieve(ctx context.Context, query string, k int) ([]knowledge.Chunk, error) {
	if k <= 0 {
		return nil, nil
	}
	words := tokenize(query)
	if len(words) == 0 {
		return nil, nil
	}

	type scored struct {
		chunk knowledge.Chunk
		hits  int
	}
	var ranked []scored
	for _, chunk := range l.store.EnsureLoaded() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		present := wordSet(chunk.Text)
		hits := 0
		for _, w := range words {
			if present[w] {
				hits++
			}
		}
		if hits > 0 {
			ranked = append(ranked, scored{chunk, hits})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].hits > ranked[j].hits
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]knowledge.Chunk, len(ranked))
	for i, r := range ranked {
		out[i] = r.chunk
	}
	return out, nil
}

// tokenize returns the distinct lowercase words of s in first-seen order
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]bool, len(fields))
	words := fields[:0]
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		words = append(words, f)
	}
	return words
}

func wordSet(s string) map[string]bool {
	words := tokenize(s)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
