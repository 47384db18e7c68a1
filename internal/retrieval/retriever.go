package retrieval

import (
	"context"
	"fmt"
)

// Retriever combines embedding and index search to find relevant chunks.
type Retriever struct {
	embedder Embedder
}

// NewRetriever creates a Retriever backed by the given Embedder.
func NewRetriever(embedder Embedder) *Retriever {
	return &Retriever{embedder: embedder}
}

// Degraded reports whether the underlying embedder is non-semantic.
func (r *Retriever) Degraded() bool { return r.embedder.Degraded() }

// Retrieve embeds the query and returns up to topK hits scoring at least
// threshold. A nil or empty index yields no hits.
func (r *Retriever) Retrieve(ctx context.Context, idx *Index, query string, topK int, threshold float32) ([]Hit, error) {
	if idx == nil || idx.Len() == 0 {
		return nil, nil
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return idx.Search(vec, topK, threshold), nil
}

// BuildIndex embeds every chunk and builds an Index over the vectors.
func (r *Retriever) BuildIndex(ctx context.Context, chunks []Chunk, opts Options) (*Index, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding chunks: %w", err)
	}
	return Build(vecs, chunks, opts)
}
