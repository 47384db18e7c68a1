package engine

import (
	"context"

	"github.com/kalambet/finrag/internal/ollama"
)

var _ Engine = (*OllamaEngine)(nil)

// OllamaEngine serves chat and embeddings from a local Ollama server.
type OllamaEngine struct {
	client *ollama.Client
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL)}
}

// Chat forwards the conversation with sampling options. Temperature is
// always sent when opts is set, so a deterministic 0 is not replaced by the
// model default.
func (e *OllamaEngine) Chat(ctx context.Context, model string, messages []Message, opts *ChatOptions) (string, error) {
	return e.client.Chat(ctx, model, toOllamaMessages(messages), toOllamaOptions(opts))
}

func toOllamaMessages(messages []Message) []ollama.Message {
	out := make([]ollama.Message, len(messages))
	for i, m := range messages {
		out[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func toOllamaOptions(opts *ChatOptions) *ollama.Options {
	if opts == nil {
		return nil
	}
	temp := opts.Temperature
	return &ollama.Options{Temperature: &temp, NumPredict: opts.MaxTokens}
}

func (e *OllamaEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	return e.client.Embed(ctx, model, text)
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	return e.client.ListModels(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

// PullModel downloads name, relaying progress lines to onProgress.
func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	if onProgress == nil {
		return e.client.PullModel(ctx, name, nil)
	}
	return e.client.PullModel(ctx, name, func(p ollama.PullProgress) {
		onProgress(PullProgress(p))
	})
}
