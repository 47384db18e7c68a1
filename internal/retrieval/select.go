package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/finrag/internal/engine"
)

// Embedding backends accepted by NewEmbedder.
const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
	BackendHugot  = "hugot"
	BackendHash   = "hash"
)

// EmbedderConfig selects and configures an embedding backend.
type EmbedderConfig struct {
	Backend  string
	Model    string
	ModelDir string
}

const probeTimeout = 10 * time.Second

// NewEmbedder builds the configured embedder and probes it once. A backend
// that cannot be constructed or fails the probe is replaced by a
// HashEmbedder; the failure is logged and the result reports Degraded.
// Only an unknown backend name is an error.
func NewEmbedder(ctx context.Context, cfg EmbedderConfig, eng engine.Engine) (Embedder, error) {
	var (
		emb Embedder
		err error
	)
	switch cfg.Backend {
	case "", BackendOllama, BackendOpenAI:
		if eng == nil {
			err = fmt.Errorf("no inference engine configured")
			break
		}
		emb = NewEngineEmbedder(eng, cfg.Model)
	case BackendHugot:
		emb, err = NewHugotEmbedder(cfg.Model, cfg.ModelDir)
	case BackendHash:
		return NewHashEmbedder(DefaultHashDim), nil
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Backend)
	}

	if err == nil {
		err = probe(ctx, emb)
	}
	if err != nil {
		slog.Warn("embedding backend unavailable, falling back to hash embeddings; retrieval quality is degraded",
			"backend", cfg.Backend, "error", fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err))
		return NewHashEmbedder(DefaultHashDim), nil
	}
	return emb, nil
}

func probe(ctx context.Context, emb Embedder) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	v, err := emb.Embed(ctx, "probe")
	if err != nil {
		return err
	}
	if len(v) == 0 {
		return fmt.Errorf("backend returned an empty vector")
	}
	return nil
}
