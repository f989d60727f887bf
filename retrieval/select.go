package retrieval

import (
	"context"

	"leadpilot/knowledge"
	"leadpilot/metrics"
	"leadpilot/utils"
)

// FromConfig picks the retrieval strategy the deployment can support.
// "dense" and "auto" use embeddings when an embedding key is present, always
// with lexical overlap as the fallback; otherwise lexical overlap alone.
func FromConfig(ctx context.Context, cfg utils.RetrievalConfig, store *knowledge.Store, logger *utils.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	lexical := NewLexical(store)

	switch cfg.Strategy {
	case "lexical":
		return NewEngine(lexical, nil, logger, m)
	case "dense", "auto", "":
	default:
		logger.Warn("Unknown retrieval strategy %q, using lexical", cfg.Strategy)
		return NewEngine(lexical, nil, logger, m)
	}

	if cfg.Embedding.APIKey == "" {
		if cfg.Strategy == "dense" {
			logger.Warn("Dense retrieval requested without an embedding key, using lexical")
		}
		return NewEngine(lexical, nil, logger, m)
	}

	embedder, err := NewGenAIEmbedder(ctx, GenAIOptions{APIKey: cfg.Embedding.APIKey, Model: cfg.Embedding.Model})
	if err != nil {
		logger.Warn("Embedder unavailable, using lexical retrieval: %v", err)
		return NewEngine(lexical, nil, logger, m)
	}
	return NewEngine(NewDense(store, embedder, logger), lexical, logger, m)
}
