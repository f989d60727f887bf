package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"leadpilot/knowledge"
	"leadpilot/utils"
)

// Embedder turns text into vectors
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// Dense ranks chunks by cosine similarity between embeddings. The corpus is
// encoded once, on the first successful retrieval.
type Dense struct {
	store    *knowledge.Store
	embedder Embedder
	logger   *utils.Logger

	mu      sync.Mutex
	ready   bool
	chunks  []knowledge.Chunk
	vectors [][]float32
}

// NewDense creates a dense-similarity retriever
func NewDense(store *knowledge.Store, embedder Embedder, logger *utils.Logger) *Dense {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Dense{store: store, embedder: embedder, logger: logger.Named("retrieval")}
}

// Name returns the strategy name
func (d *Dense) Name() string {
	return "dense"
}

// ensureEncoded encodes the corpus once. A failed encoding is retried on the
// next call rather than cached.
func (d *Dense) ensureEncoded(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ready {
		return nil
	}

	chunks := d.store.EnsureLoaded()
	vectors, err := d.embedder.EmbedBatch(ctx, knowledge.Texts(chunks))
	if err != nil {
		return fmt.Errorf("failed to encode corpus: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	d.chunks = chunks
	d.vectors = vectors
	d.ready = true
	d.logger.Info("Encoded %d knowledge chunks with %s", len(chunks), d.embedder.Name())
	return nil
}

// Retrieve returns the k chunks most similar to query, most similar first
func (d *Dense) Retrieve(ctx context.Context, query string, k int) ([]knowledge.Chunk, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := d.ensureEncoded(ctx); err != nil {
		return nil, err
	}
	if len(d.chunks) == 0 {
		return nil, nil
	}

	qv, err := d.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	results := FindTopK(qv, d.vectors, k)
	out := make([]knowledge.Chunk, len(results))
	for i, r := range results {
		out[i] = d.chunks[r.Index]
	}
	return out, nil
}

// SimilarityResult is a corpus index with its similarity to the query
type SimilarityResult struct {
	Index      int
	Similarity float64
}

// CosineSimilarity computes the cosine of the angle between a and b
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dotProduct, aMagnitude, bMagnitude float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		aMagnitude += float64(a[i]) * float64(a[i])
		bMagnitude += float64(b[i]) * float64(b[i])
	}

	if aMagnitude == 0 || bMagnitude == 0 {
		return 0, nil
	}

	return dotProduct / (math.Sqrt(aMagnitude) * math.Sqrt(bMagnitude)), nil
}

// FindTopK returns the k corpus vectors most similar to query, descending.
// Vectors of the wrong dimension are skipped; ties keep corpus order.
func FindTopK(query []float32, corpus [][]float32, k int) []SimilarityResult {
	results := make([]SimilarityResult, 0, len(corpus))
	for i, vec := range corpus {
		similarity, err := CosineSimilarity(query, vec)
		if err != nil {
			continue
		}
		results = append(results, SimilarityResult{Index: i, Similarity: similarity})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}
