// Package embedding provides vector embedding generation for the brain's
// semantic layers. Supports Google GenAI (cloud) and Ollama (local)
// backends behind one retrying engine.
package embedding

import (
	"context"
	"fmt"
	"math"
	"sync"

	"brain/internal/config"
	"brain/internal/logging"
	"brain/internal/retry"
	"brain/internal/types"
)

// =============================================================================
// BACKEND INTERFACE
// =============================================================================

// Backend generates raw embedding values for text.
type Backend interface {
	// Embed generates an embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings
	Dimensions() int

	// Name returns the backend name
	Name() string
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine wraps a Backend with backoff retries and the empty-vector
// degradation contract of types.Embedder: persistent transport failure
// yields a Vector with no embeddings instead of an error, so ingestion can
// continue without vector writes.
type Engine struct {
	backend Backend
	policy  retry.Backoff

	// Serializes calls. Embedding providers rate-limit aggressively and the
	// worker pool would otherwise burst.
	mu sync.Mutex
}

var _ types.Embedder = (*Engine)(nil)

// NewEngine creates an embedding engine from configuration.
func NewEngine(cfg config.EmbeddingConfig) (*Engine, error) {
	timer := logging.StartTimer(logging.CategoryEmbed, "NewEngine")
	defer timer.Stop()

	logging.Embed("Creating embedding engine with provider=%s", cfg.Provider)

	var backend Backend
	var err error

	switch cfg.Provider {
	case "genai", "":
		backend, err = NewGenAIBackend(cfg.APIKey, cfg.Model, cfg.TaskType, cfg.Dimensions)
	case "ollama":
		backend, err = NewOllamaBackend(cfg.OllamaEndpoint, cfg.OllamaModel, cfg.Dimensions)
	default:
		err = fmt.Errorf("unsupported embedding provider: %s (use 'genai' or 'ollama')", cfg.Provider)
	}
	if err != nil {
		logging.EmbedError("Failed to create embedding engine: %v", err)
		return nil, err
	}

	logging.Embed("Embedding engine ready: name=%s, dimensions=%d", backend.Name(), backend.Dimensions())
	return &Engine{backend: backend, policy: retry.AdapterPolicy()}, nil
}

// NewEngineWithBackend wraps an existing backend. Used by tests and by
// callers that construct backends directly.
func NewEngineWithBackend(backend Backend) *Engine {
	return &Engine{backend: backend, policy: retry.AdapterPolicy()}
}

// EmbedText embeds a single text. Transport errors are retried with
// backoff; persistent failure returns a non-embedded Vector and no error.
func (e *Engine) EmbedText(ctx context.Context, text string) (*types.Vector, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var values []float32
	err := retry.Do(ctx, e.policy, "embed", func(ctx context.Context) error {
		v, err := e.backend.Embed(ctx, text)
		if err != nil {
			return retry.Transient(err)
		}
		values = v
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logging.EmbedError("EmbedText degraded to empty vector: %v", err)
		return &types.Vector{}, nil
	}
	return &types.Vector{Embeddings: values}, nil
}

// EmbedTexts embeds a batch of texts. The whole batch degrades together:
// persistent failure yields len(texts) non-embedded vectors.
func (e *Engine) EmbedTexts(ctx context.Context, texts []string) ([]*types.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var values [][]float32
	err := retry.Do(ctx, e.policy, "embed_batch", func(ctx context.Context) error {
		v, err := e.backend.EmbedBatch(ctx, texts)
		if err != nil {
			return retry.Transient(err)
		}
		if len(v) != len(texts) {
			return fmt.Errorf("backend returned %d embeddings for %d texts", len(v), len(texts))
		}
		values = v
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logging.EmbedError("EmbedTexts degraded to empty vectors for %d texts: %v", len(texts), err)
		out := make([]*types.Vector, len(texts))
		for i := range out {
			out[i] = &types.Vector{}
		}
		return out, nil
	}

	out := make([]*types.Vector, len(values))
	for i, v := range values {
		out[i] = &types.Vector{Embeddings: v}
	}
	return out, nil
}

// Dimensions returns the backend's embedding dimensionality.
func (e *Engine) Dimensions() int {
	return e.backend.Dimensions()
}

// Name returns the backend name.
func (e *Engine) Name() string {
	return e.backend.Name()
}

// Close releases backend resources.
func (e *Engine) Close() error {
	if closer, ok := e.backend.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// =============================================================================
// COSINE SIMILARITY UTILITIES
// =============================================================================

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dotProduct, aMagnitude, bMagnitude float64
	for i := 0; i < len(a); i++ {
		dotProduct += float64(a[i] * b[i])
		aMagnitude += float64(a[i] * a[i])
		bMagnitude += float64(b[i] * b[i])
	}

	if aMagnitude == 0 || bMagnitude == 0 {
		return 0, nil
	}
	return dotProduct / (math.Sqrt(aMagnitude) * math.Sqrt(bMagnitude)), nil
}

// SimilarityResult represents a similarity search result.
type SimilarityResult struct {
	Index      int
	Similarity float64
}

// FindTopK returns the indices of the top K most similar corpus vectors to
// the query, by cosine similarity. Vectors with mismatched dimensions are
// skipped.
func FindTopK(query []float32, corpus [][]float32, k int) []SimilarityResult {
	if k <= 0 {
		k = 10
	}

	results := make([]SimilarityResult, 0, len(corpus))
	skipped := 0
	for i, vec := range corpus {
		similarity, err := CosineSimilarity(query, vec)
		if err != nil {
			skipped++
			continue
		}
		results = append(results, SimilarityResult{Index: i, Similarity: similarity})
	}
	if skipped > 0 {
		logging.Get(logging.CategoryEmbed).Warn("FindTopK: skipped %d vectors due to dimension mismatch", skipped)
	}

	// Partial selection sort: small K, small corpora.
	for i := 0; i < len(results) && i < k; i++ {
		for j := i + 1; j < len(results); j++ {
			if results[j].Similarity > results[i].Similarity {
				results[i], results[j] = results[j], results[i]
			}
		}
	}
	if len(results) > k {
		results = results[:k]
	}
	return results
}
