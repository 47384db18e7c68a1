package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kalambet/finrag/internal/config"
	"github.com/kalambet/finrag/internal/document"
	"github.com/kalambet/finrag/internal/engine"
	"github.com/kalambet/finrag/internal/generator"
	"github.com/kalambet/finrag/internal/knowledge"
	"github.com/kalambet/finrag/internal/retrieval"
	"github.com/kalambet/finrag/internal/session"
	"github.com/kalambet/finrag/internal/storage"
)

// app is the fully wired in-process system shared by serve, mcp and
// compare-models.
type app struct {
	cfg          config.Config
	engine       engine.Engine
	store        *storage.Store
	orchestrator *session.Orchestrator
	closers      []io.Closer
}

// newApp builds the orchestrator from configuration. An unreachable engine
// does not abort startup: answers then come from the stub generator and are
// flagged by low confidence.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}

	eng, err := engine.Detect(engine.DetectConfig{
		Provider:      cfg.Engine.Provider,
		OllamaBaseURL: cfg.Engine.OllamaBaseURL,
		OpenAIBaseURL: cfg.Engine.OpenAIBaseURL,
		OpenAIAPIKey:  cfg.Engine.OpenAIAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("detecting inference engine: %w", err)
	}
	a.engine = eng

	var gen generator.Generator = generator.NewEngineGenerator(eng, generatorOptions(cfg, cfg.Engine.ChatModel))
	embedModel := cfg.Engine.EmbedModel
	if cfg.Retrieval.Embedder != retrieval.BackendOllama && cfg.Retrieval.Embedder != retrieval.BackendOpenAI && cfg.Retrieval.Embedder != "" {
		embedModel = ""
	}
	if err := engine.EnsureReady(ctx, eng, cfg.Engine.ChatModel, embedModel, os.Stderr); err != nil {
		printWarning("inference engine not ready: %v", err)
		printWarning("answers will be produced by the offline stub generator")
		gen = generator.StubGenerator{}
	}

	modelDir := cfg.Retrieval.HugotModelDir
	if modelDir == "" {
		modelDir = filepath.Join(cfg.Storage.DataDir, "models")
	}
	emb, err := retrieval.NewEmbedder(ctx, retrieval.EmbedderConfig{
		Backend:  cfg.Retrieval.Embedder,
		Model:    cfg.Engine.EmbedModel,
		ModelDir: modelDir,
	}, eng)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	if c, ok := emb.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store)

	var seed *knowledge.Seed
	if cfg.Documents.SeedFile != "" {
		seed, err = knowledge.LoadSeed(cfg.Documents.SeedFile)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("loading company seed: %w", err)
		}
	}

	a.orchestrator = session.New(session.Deps{
		Source:    document.NewDirSource(cfg.Documents.FilingsDir),
		Chunker:   document.NewChunker(cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap),
		Embedder:  emb,
		Generator: gen,
		Audit:     session.NewAuditLog(store),
		Artifacts: store,
	}, session.Options{
		TopK:        cfg.Retrieval.TopK,
		MetricYear:  cfg.Retrieval.MetricYear,
		Workers:     cfg.Retrieval.Workers,
		Threshold:   float32(cfg.Retrieval.SimilarityThreshold),
		ArtifactDir: cfg.Storage.ArtifactDir,
		Seed:        seed,
	})

	slog.Info("finrag ready",
		"provider", cfg.Engine.Provider,
		"chat_model", cfg.Engine.ChatModel,
		"embedder", cfg.Retrieval.Embedder,
		"degraded_embeddings", emb.Degraded(),
		"filings_dir", cfg.Documents.FilingsDir,
	)
	return a, nil
}

func generatorOptions(cfg config.Config, model string) generator.Options {
	return generator.Options{
		Model:           model,
		Temperature:     cfg.Engine.Temperature,
		MaxTokens:       cfg.Engine.MaxTokens,
		RateLimitPerMin: cfg.Engine.RateLimitPerMin,
	}
}

// Close releases the embedder and storage in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			slog.Warn("closing resource", "error", err)
		}
	}
	a.closers = nil
}
