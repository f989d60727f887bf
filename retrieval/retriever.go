// Package retrieval ranks knowledge chunks against an inbound message
package retrieval

import (
	"context"
	"time"

	"leadpilot/knowledge"
	"leadpilot/metrics"
	"leadpilot/utils"
)

// Retriever ranks corpus chunks against a query and returns at most k of them
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]knowledge.Chunk, error)
	Name() string
}

// Engine runs a primary retriever and falls back to a secondary one when the
// primary fails. Retrieve never fails.
type Engine struct {
	primary  Retriever
	fallback Retriever
	logger   *utils.Logger
	metrics  *metrics.Metrics
}

// NewEngine creates an engine. fallback may be nil.
func NewEngine(primary, fallback Retriever, logger *utils.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Engine{primary: primary, fallback: fallback, logger: logger.Named("retrieval"), metrics: m}
}

// Strategy names the primary retriever
func (e *Engine) Strategy() string {
	return e.primary.Name()
}

// Retrieve returns up to k grounding chunks for query
func (e *Engine) Retrieve(ctx context.Context, query string, k int) []knowledge.Chunk {
	start := time.Now()
	chunks, err := e.primary.Retrieve(ctx, query, k)
	e.metrics.RecordRetrieval(e.primary.Name(), time.Since(start))
	if err == nil {
		return chunks
	}

	if e.fallback == nil {
		e.logger.Warn("%s retrieval failed, replying without context: %v", e.primary.Name(), err)
		return nil
	}
	e.logger.Warn("%s retrieval failed, falling back to %s: %v", e.primary.Name(), e.fallback.Name(), err)

	start = time.Now()
	chunks, err = e.fallback.Retrieve(ctx, query, k)
	e.metrics.RecordRetrieval(e.fallback.Name(), time.Since(start))
	if err != nil {
		e.logger.Warn("%s retrieval failed, replying without context: %v", e.fallback.Name(), err)
		return nil
	}
	return chunks
}
