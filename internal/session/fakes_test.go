package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kalambet/finrag/internal/document"
	"github.com/kalambet/finrag/internal/generator"
	"github.com/kalambet/finrag/internal/storage"
)

const appleFiling = "Total revenue of $245.1 Billion for the fiscal year. " +
	"Net income was $88.2 Billion. Gross margin improved to 36%."

// fakeSource serves filings from memory and counts fetches. When gate is
// set, Fetch signals started and blocks until gate is closed.
type fakeSource struct {
	filings map[string]string
	fetches atomic.Int32

	started chan struct{}
	gate    chan struct{}
}

func (s *fakeSource) Fetch(ctx context.Context, ticker, market string) (*document.Filing, error) {
	s.fetches.Add(1)
	if s.gate != nil {
		select {
		case s.started <- struct{}{}:
		default:
		}
		<-s.gate
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := Key(ticker, market)
	text, ok := s.filings[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, document.ErrFilingNotFound)
	}
	return &document.Filing{
		Ticker: strings.ToUpper(ticker),
		Market: strings.ToUpper(market),
		Type:   document.FilingType(market),
		Path:   "mem://" + key,
		Format: "txt",
		Size:   int64(len(text)),
		Pages:  []string{text},
	}, nil
}

// keywordEmbedder maps texts onto a handful of financial keywords so that
// similarity is predictable.
type keywordEmbedder struct{}

var keywords = []string{"revenue", "income", "margin", "cash", "risk"}

func (keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	v := make([]float32, len(keywords)+1)
	for i, k := range keywords {
		if strings.Contains(lower, k) {
			v[i] = 1
		}
	}
	v[len(keywords)] = 0.1
	return v, nil
}

func (e keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (keywordEmbedder) Degraded() bool { return false }

// fakeGenerator returns a fixed answer or error and records prompts.
type fakeGenerator struct {
	text string
	err  error

	mu      sync.Mutex
	prompts []string
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (generator.Generation, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.err != nil {
		return generator.Generation{}, g.err
	}
	return generator.Generation{Text: g.text, Model: "fake", Elapsed: time.Millisecond}, nil
}

// memSink collects persisted audit records.
type memSink struct {
	mu      sync.Mutex
	records []storage.AuditRecord
	err     error
}

func (s *memSink) SaveAuditRecord(r storage.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, r)
	return nil
}

// memRegistry collects registered artifacts.
type memRegistry struct {
	mu        sync.Mutex
	artifacts []storage.Artifact
}

func (r *memRegistry) PutArtifact(a storage.Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifacts = append(r.artifacts, a)
	return nil
}

var errOffline = errors.New("model offline")

func newTestOrchestrator(src *fakeSource, gen *fakeGenerator, opts Options) *Orchestrator {
	if opts.Threshold == 0 {
		opts.Threshold = -1
	}
	return New(Deps{
		Source:    src,
		Chunker:   document.NewChunker(0, 0),
		Embedder:  keywordEmbedder{},
		Generator: gen,
	}, opts)
}

func appleSource() *fakeSource {
	return &fakeSource{filings: map[string]string{
		"US::AAPL": appleFiling,
		"US::MSFT": "Total revenue of $211.9 Billion. Net income was $72.4 Billion.",
	}}
}
