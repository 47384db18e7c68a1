package generator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/kalambet/finrag/internal/engine"
)

// Generation is the raw output of a generative model.
type Generation struct {
	Text    string        `json:"text"`
	Model   string        `json:"model"`
	Elapsed time.Duration `json:"elapsed"`
}

// Generator turns a prompt into text. Output is untrusted and is verified
// by the caller.
type Generator interface {
	Generate(ctx context.Context, prompt string) (Generation, error)
}

// Options configures an EngineGenerator.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	// RateLimitPerMin caps requests per minute; <= 0 disables limiting.
	RateLimitPerMin int
}

// EngineGenerator generates answers through an inference Engine.
type EngineGenerator struct {
	engine  engine.Engine
	opts    Options
	limiter *rate.Limiter
}

// NewEngineGenerator creates a generator that sends each prompt as a single
// user message.
func NewEngineGenerator(e engine.Engine, opts Options) *EngineGenerator {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimitPerMin > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RateLimitPerMin)), opts.RateLimitPerMin)
	}
	return &EngineGenerator{engine: e, opts: opts, limiter: limiter}
}

// Generate waits for the rate limiter, then calls the engine. Failures are
// returned as-is; retrying is the caller's decision.
func (g *EngineGenerator) Generate(ctx context.Context, prompt string) (Generation, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return Generation{}, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	start := time.Now()
	text, err := g.engine.Chat(ctx, g.opts.Model, []engine.Message{
		{Role: engine.RoleUser, Content: prompt},
	}, &engine.ChatOptions{Temperature: g.opts.Temperature, MaxTokens: g.opts.MaxTokens})
	if err != nil {
		return Generation{}, fmt.Errorf("generating with %s: %w", g.opts.Model, err)
	}
	return Generation{Text: text, Model: g.opts.Model, Elapsed: time.Since(start)}, nil
}

// StubGenerator echoes the start of the prompt. It keeps the pipeline
// runnable without a model; its answers are never grounded.
type StubGenerator struct{}

const stubEcho = 200

func (StubGenerator) Generate(_ context.Context, prompt string) (Generation, error) {
	start := time.Now()
	return Generation{
		Text:    "[LLM stub] " + truncateRunes(prompt, stubEcho),
		Model:   "stub",
		Elapsed: time.Since(start),
	}, nil
}
