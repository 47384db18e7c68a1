package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/kalambet/finrag/internal/generator"
	"github.com/kalambet/finrag/internal/metrics"
	"github.com/kalambet/finrag/internal/retrieval"
	"github.com/kalambet/finrag/internal/verify"
)

// SummaryQuestion is asked by FinancialSummary.
const SummaryQuestion = "Provide a concise financial summary: revenue, margin, growth, debt, moats. Use only document context."

// Source is a retrieved chunk as reported with an answer.
type Source struct {
	ChunkID string  `json:"chunk_id"`
	Source  string  `json:"source"`
	Page    int     `json:"page,omitempty"`
	Section string  `json:"section,omitempty"`
	Score   float32 `json:"score"`
	Text    string  `json:"text"`
}

// QueryResult is the answer to one question. Failures are reported in
// Error; the remaining fields hold whatever was computed before the failure.
type QueryResult struct {
	Key          string          `json:"key"`
	Question     string          `json:"question"`
	Answer       string          `json:"answer"`
	Model        string          `json:"model,omitempty"`
	Confidence   float64         `json:"confidence_score"`
	Sources      []Source        `json:"source_documents"`
	Verification *verify.Outcome `json:"verification_details,omitempty"`
	Degraded     bool            `json:"degraded,omitempty"`
	RetrievalMS  int64           `json:"retrieval_time_ms"`
	GenerationMS int64           `json:"generation_time_ms"`
	LatencyMS    int64           `json:"latency_ms"`
	AuditID      string          `json:"audit_id"`
	Error        string          `json:"error,omitempty"`
}

// OK reports whether the question was answered.
func (r QueryResult) OK() bool { return r.Error == "" }

// AnswerQuestion answers a question about a company, loading it first when
// needed. With verifyAnswer set the confidence comes from the verification
// framework, otherwise from HeuristicConfidence. Every call appends exactly
// one audit record.
func (o *Orchestrator) AnswerQuestion(ctx context.Context, ticker, question, market string, verifyAnswer bool) QueryResult {
	start := o.now()
	res := QueryResult{Key: Key(ticker, market), Question: question}

	defer func() {
		res.LatencyMS = o.now().Sub(start).Milliseconds()
		res.AuditID = o.record(res, verifyAnswer)
		metrics.RecordQuery(res.OK(), res.Degraded, res.Confidence)
	}()

	st, err := o.ensure(ctx, ticker, market)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Degraded = st.Degraded

	t0 := o.now()
	hits, err := o.retriever.Retrieve(ctx, st.Index, question, o.opts.TopK, o.opts.Threshold)
	res.RetrievalMS = o.now().Sub(t0).Milliseconds()
	metrics.ObserveStage(metrics.StageRetrieval, o.now().Sub(t0))
	if err != nil {
		res.Error = fmt.Sprintf("retrieving chunks: %v", err)
		return res
	}
	res.Sources = sources(hits)

	t1 := o.now()
	draft, err := o.answerer.Answer(ctx, question, hits, st.Graph.ContextPrompt(st.Ticker))
	res.GenerationMS = o.now().Sub(t1).Milliseconds()
	metrics.ObserveStage(metrics.StageGeneration, o.now().Sub(t1))
	if err != nil {
		res.Error = fmt.Sprintf("generating answer: %v", err)
		return res
	}
	res.Answer = draft.Text
	res.Model = draft.Model

	if verifyAnswer {
		out := o.verifier.Verify(draft.Text, retrieval.Texts(hits), st.Graph, st.Ticker)
		for _, r := range out.Results {
			metrics.RecordVerdict(string(r.Agent), string(r.Status))
		}
		res.Verification = &out
		res.Confidence = out.Confidence
	} else {
		res.Confidence = HeuristicConfidence(draft.Text, len(hits))
	}
	return res
}

// ensure returns the resident state, loading the company when missing.
func (o *Orchestrator) ensure(ctx context.Context, ticker, market string) (*State, error) {
	key := Key(ticker, market)
	if st, ok := o.store.Get(key); ok {
		return st, nil
	}
	status := o.LoadCompany(ctx, ticker, market)
	if status.Status == StatusError {
		return nil, fmt.Errorf("loading %s: %s", key, status.Error)
	}
	st, ok := o.store.Get(key)
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotLoaded)
	}
	return st, nil
}

func (o *Orchestrator) record(res QueryResult, verified bool) string {
	rec := AuditRecord{
		ID:            uuid.NewString(),
		Timestamp:     o.now(),
		Key:           res.Key,
		Question:      res.Question,
		AnswerExcerpt: excerpt(res.Answer),
		Confidence:    res.Confidence,
		Verified:      verified && res.Verification != nil,
		Error:         res.Error,
	}
	for _, s := range res.Sources {
		rec.Retrieved = append(rec.Retrieved, Evidence{ChunkID: s.ChunkID, Source: s.Source, Page: s.Page, Score: s.Score})
	}
	o.audit.Append(rec)
	return rec.ID
}

func sources(hits []retrieval.Hit) []Source {
	out := make([]Source, len(hits))
	for i, h := range hits {
		out[i] = Source{ChunkID: h.ID, Source: h.Source, Page: h.Page, Section: h.Section, Score: h.Score, Text: h.Text}
	}
	return out
}

// HeuristicConfidence scores an unverified answer: 0.4 when it contains a
// digit, 0.4 when at least two sources were retrieved, plus 0.05 per source
// up to 0.2. The result is capped at 1.
func HeuristicConfidence(answer string, sources int) float64 {
	var score float64
	if strings.IndexFunc(answer, unicode.IsDigit) >= 0 {
		score += 0.4
	}
	if sources >= 2 {
		score += 0.4
	}
	score += min(0.2, 0.05*float64(sources))
	return min(1.0, score)
}

// FinancialSummary asks the fixed summary question with verification.
func (o *Orchestrator) FinancialSummary(ctx context.Context, ticker, market string) QueryResult {
	return o.AnswerQuestion(ctx, ticker, SummaryQuestion, market, true)
}

// CompareAnswers runs one question through several generators over the same
// retrieved evidence and verifies each answer. Results are keyed like
// generators. No audit records are written.
func (o *Orchestrator) CompareAnswers(ctx context.Context, ticker, market, question string, generators map[string]generator.Generator) (map[string]QueryResult, error) {
	st, err := o.ensure(ctx, ticker, market)
	if err != nil {
		return nil, err
	}
	hits, err := o.retriever.Retrieve(ctx, st.Index, question, o.opts.TopK, o.opts.Threshold)
	if err != nil {
		return nil, fmt.Errorf("retrieving chunks: %w", err)
	}
	kg := st.Graph.ContextPrompt(st.Ticker)
	texts := retrieval.Texts(hits)

	out := make(map[string]QueryResult, len(generators))
	for name, g := range generators {
		res := QueryResult{Key: st.Key, Question: question, Sources: sources(hits), Degraded: st.Degraded}
		t0 := time.Now()
		draft, err := generator.NewAnswerer(o.composer, g).Answer(ctx, question, hits, kg)
		res.GenerationMS = time.Since(t0).Milliseconds()
		if err != nil {
			slog.Warn("comparison generator failed", "generator", name, "error", err)
			res.Error = err.Error()
			out[name] = res
			continue
		}
		outcome := o.verifier.Verify(draft.Text, texts, st.Graph, st.Ticker)
		res.Answer, res.Model = draft.Text, draft.Model
		res.Verification = &outcome
		res.Confidence = outcome.Confidence
		out[name] = res
	}
	return out, nil
}
