package generator

import (
	"context"
	"log/slog"
	"time"

	"github.com/kalambet/finrag/internal/retrieval"
)

// Draft is a generated, not yet verified, answer.
type Draft struct {
	Text    string
	Model   string
	Prompt  string
	Elapsed time.Duration
}

// Answerer composes a prompt and runs it through a Generator.
type Answerer struct {
	composer  *Composer
	generator Generator
}

// NewAnswerer creates an Answerer. A nil composer uses the defaults.
func NewAnswerer(c *Composer, g Generator) *Answerer {
	if c == nil {
		c = NewComposer(0)
	}
	return &Answerer{composer: c, generator: g}
}

// Answer builds the prompt for question and generates a draft.
func (a *Answerer) Answer(ctx context.Context, question string, hits []retrieval.Hit, kgContext string) (Draft, error) {
	prompt := a.composer.Compose(question, hits, kgContext)
	slog.Debug("generating answer", "hits", len(hits), "prompt_tokens", EstimateTokens(prompt))

	gen, err := a.generator.Generate(ctx, prompt)
	if err != nil {
		return Draft{Prompt: prompt}, err
	}
	return Draft{Text: gen.Text, Model: gen.Model, Prompt: prompt, Elapsed: gen.Elapsed}, nil
}
