package session

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/finrag/internal/knowledge"
)

// BatchRequest is one question of a batch. An empty ID is replaced with a
// generated one. Verify defaults to true when nil.
type BatchRequest struct {
	ID       string `json:"id,omitempty"`
	Ticker   string `json:"ticker" validate:"required"`
	Market   string `json:"market,omitempty"`
	Question string `json:"question" validate:"required"`
	Verify   *bool  `json:"verify,omitempty"`
}

// BatchResult pairs a request ID with its answer.
type BatchResult struct {
	ID string `json:"id"`
	QueryResult
}

// BatchQuery answers requests concurrently on a bounded pool. Result i
// answers request i and carries its ID.
func (o *Orchestrator) BatchQuery(ctx context.Context, reqs []BatchRequest) []BatchResult {
	results := make([]BatchResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(o.opts.Workers)
	for i, req := range reqs {
		id := req.ID
		if id == "" {
			id = uuid.NewString()
		}
		market := req.Market
		if market == "" {
			market = "US"
		}
		verify := req.Verify == nil || *req.Verify

		g.Go(func() error {
			results[i] = BatchResult{
				ID:          id,
				QueryResult: o.AnswerQuestion(ctx, req.Ticker, req.Question, market, verify),
			}
			return nil
		})
	}
	g.Wait()
	return results
}

// Comparison holds the answers and trends of two companies for one metric.
type Comparison struct {
	Metric   string                           `json:"metric"`
	Question string                           `json:"question"`
	Results  map[string]QueryResult           `json:"results"`
	Trends   map[string]knowledge.TrendResult `json:"trends"`
}

// CompareQuestion is the extraction question asked of both companies.
func CompareQuestion(metric, ticker1, ticker2 string) string {
	return "Extract the " + metric + " for " + ticker1 + " and " + ticker2 +
		" and compare their latest values. Provide sources."
}

// CompareCompanies asks both companies the comparison question and reports
// the knowledge-graph trend of metric for each. Results and Trends are
// keyed by upper-case ticker.
func (o *Orchestrator) CompareCompanies(ctx context.Context, ticker1, ticker2, metric, market string) Comparison {
	q := CompareQuestion(metric, ticker1, ticker2)
	tickers := []string{ticker1, ticker2}
	answers := make([]QueryResult, len(tickers))

	var g errgroup.Group
	for i, t := range tickers {
		g.Go(func() error {
			answers[i] = o.AnswerQuestion(ctx, t, q, market, true)
			return nil
		})
	}
	g.Wait()

	cmp := Comparison{
		Metric:   metric,
		Question: q,
		Results:  make(map[string]QueryResult, len(tickers)),
		Trends:   make(map[string]knowledge.TrendResult, len(tickers)),
	}
	for i, t := range tickers {
		id := strings.ToUpper(t)
		cmp.Results[id] = answers[i]
		if st, ok := o.store.Get(Key(t, market)); ok {
			cmp.Trends[id] = st.Graph.Trend(id, strings.ToLower(metric))
		}
	}
	return cmp
}
