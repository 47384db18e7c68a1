package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kalambet/finrag/internal/engine"
)

// mockEngine implements engine.Engine for testing.
type mockEngine struct {
	embedFn func(ctx context.Context, model string, text string) ([]float32, error)
}

func (m *mockEngine) Chat(_ context.Context, _ string, _ []engine.Message, _ *engine.ChatOptions) (string, error) {
	return "", fmt.Errorf("not implemented")
}
func (m *mockEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	return m.embedFn(ctx, model, text)
}
func (m *mockEngine) IsRunning(_ context.Context) bool               { return false }
func (m *mockEngine) ListModels(_ context.Context) ([]string, error) { return nil, nil }
func (m *mockEngine) HasModel(_ context.Context, _ string) bool      { return false }
func (m *mockEngine) PullModel(_ context.Context, _ string, _ func(engine.PullProgress)) error {
	return fmt.Errorf("not implemented")
}

func makeVector(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(i) * 0.001
	}
	return v
}

func TestEmbed_ReturnsDimension(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return makeVector(384), nil
		},
	}
	e := NewEngineEmbedder(mock, "nomic-embed-text")

	vec, err := e.Embed(context.Background(), "net revenue grew")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 384 {
		t.Errorf("got %d dimensions, want 384", len(vec))
	}
	if e.Degraded() {
		t.Error("engine embedder should not report degraded")
	}
}

func TestEmbed_EngineError(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return nil, errors.New("connection refused")
		},
	}
	e := NewEngineEmbedder(mock, "nomic-embed-text")

	if _, err := e.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestEmbedBatch_PreservesOrder(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
			return []float32{float32(len(text))}, nil
		},
	}
	e := NewEngineEmbedder(mock, "nomic-embed-text")

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if int(v[0]) != len(texts[i]) {
			t.Errorf("vecs[%d] = %v, want [%d]", i, v, len(texts[i]))
		}
	}
}

func TestEmbedBatch_BoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			defer inFlight.Add(-1)
			return makeVector(4), nil
		},
	}
	e := NewEngineEmbedder(mock, "m")

	texts := make([]string, 32)
	if _, err := e.EmbedBatch(context.Background(), texts); err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if peak.Load() > 4 {
		t.Errorf("peak concurrency = %d, want <= 4", peak.Load())
	}
}

func TestEmbedBatch_EngineError(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
			if text == "b" {
				return nil, errors.New("embedding failed")
			}
			return makeVector(384), nil
		},
	}
	e := NewEngineEmbedder(mock, "nomic-embed-text")

	_, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "embedding failed") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			t.Fatal("should not be called for empty input")
			return nil, nil
		},
	}
	e := NewEngineEmbedder(mock, "nomic-embed-text")

	vecs, err := e.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs != nil {
		t.Errorf("got %v, want nil", vecs)
	}
}

func TestHashEmbedder_DeterministicAndFlagged(t *testing.T) {
	h := NewHashEmbedder(0)
	if !h.Degraded() {
		t.Error("hash embedder must report degraded")
	}

	ctx := context.Background()
	a1, _ := h.Embed(ctx, "Revenue was $394.3 Billion")
	a2, _ := h.Embed(ctx, "Revenue was $394.3 Billion")
	b, _ := h.Embed(ctx, "Net income was $99.8 Billion")

	if len(a1) != DefaultHashDim {
		t.Fatalf("got %d dims, want %d", len(a1), DefaultHashDim)
	}
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatalf("vectors differ at %d for identical input", i)
		}
	}
	same := true
	for i := range a1 {
		if a1[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts produced identical vectors")
	}
}

func TestNewEmbedder_Selection(t *testing.T) {
	ok := &mockEngine{embedFn: func(context.Context, string, string) ([]float32, error) {
		return makeVector(8), nil
	}}
	down := &mockEngine{embedFn: func(context.Context, string, string) ([]float32, error) {
		return nil, errors.New("connection refused")
	}}

	tests := []struct {
		name     string
		cfg      EmbedderConfig
		eng      engine.Engine
		degraded bool
	}{
		{"ollama reachable", EmbedderConfig{Backend: BackendOllama, Model: "nomic-embed-text"}, ok, false},
		{"default backend", EmbedderConfig{}, ok, false},
		{"openai down falls back", EmbedderConfig{Backend: BackendOpenAI}, down, true},
		{"no engine falls back", EmbedderConfig{Backend: BackendOllama}, nil, true},
		{"explicit hash", EmbedderConfig{Backend: BackendHash}, ok, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb, err := NewEmbedder(context.Background(), tt.cfg, tt.eng)
			if err != nil {
				t.Fatalf("NewEmbedder: %v", err)
			}
			if emb.Degraded() != tt.degraded {
				t.Errorf("Degraded() = %v, want %v", emb.Degraded(), tt.degraded)
			}
		})
	}
}

func TestNewEmbedder_UnknownBackend(t *testing.T) {
	if _, err := NewEmbedder(context.Background(), EmbedderConfig{Backend: "word2vec"}, nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
