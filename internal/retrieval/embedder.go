package retrieval

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/finrag/internal/engine"
)

// ErrEmbeddingUnavailable is returned when no embedding backend can serve a
// request.
var ErrEmbeddingUnavailable = errors.New("embedding backend unavailable")

// Embedder turns text into fixed-dimensionality vectors. Implementations
// must return identical vectors for identical input.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Degraded reports whether vectors carry no semantic meaning.
	Degraded() bool
}

// EngineEmbedder wraps an Engine to generate text embeddings.
type EngineEmbedder struct {
	engine engine.Engine
	model  string
}

// NewEngineEmbedder creates an EngineEmbedder using the given Engine and model name.
func NewEngineEmbedder(e engine.Engine, model string) *EngineEmbedder {
	return &EngineEmbedder{engine: e, model: model}
}

// Embed returns the embedding vector for a single text.
func (e *EngineEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently,
// preserving input order. Returns nil (not error) for empty input.
func (e *EngineEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.engine.Embed(gCtx, e.model, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Degraded is always false for a model-backed embedder.
func (e *EngineEmbedder) Degraded() bool { return false }

// HashEmbedder produces pseudo-random vectors seeded by a hash of the text.
// Vectors are reproducible but carry no meaning, so retrieval scores and
// every confidence derived from them are not trustworthy.
type HashEmbedder struct {
	dim int
}

// DefaultHashDim matches the dimensionality of all-MiniLM-L6-v2.
const DefaultHashDim = 384

// NewHashEmbedder returns a degraded embedder producing dim-sized vectors.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultHashDim
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f := fnv.New64a()
	f.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(f.Sum64())))
	v := make([]float32, h.dim)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return v, nil
}

func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = h.Embed(ctx, t)
	}
	return out, nil
}

func (h *HashEmbedder) Degraded() bool { return true }
