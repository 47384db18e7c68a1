package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/finrag/internal/ingest"
	"github.com/kalambet/finrag/internal/knowledge"
	"github.com/kalambet/finrag/internal/session"
	"github.com/kalambet/finrag/internal/storage"
)

// Orchestrator is the session surface served over HTTP and MCP.
// *session.Orchestrator satisfies it.
type Orchestrator interface {
	LoadCompany(ctx context.Context, ticker, market string) session.LoadStatus
	Reset(ticker, market string) bool
	Knowledge(ticker, market string) (*knowledge.Graph, error)
	AnswerQuestion(ctx context.Context, ticker, question, market string, verifyAnswer bool) session.QueryResult
	BatchQuery(ctx context.Context, reqs []session.BatchRequest) []session.BatchResult
	CompareCompanies(ctx context.Context, ticker1, ticker2, metric, market string) session.Comparison
	FinancialSummary(ctx context.Context, ticker, market string) session.QueryResult
	AuditLog() *session.AuditLog
	Loaded() []string
}

// AuditHistory reads the durable audit trail.
type AuditHistory interface {
	RecentAuditRecords(companyKey string, limit int) ([]storage.AuditRecord, error)
}

// JobQueue is the background job queue used for asynchronous loads.
type JobQueue interface {
	ingest.JobStore
	GetJob(id string) (storage.Job, error)
}

type QueryRequest struct {
	Ticker   string `json:"ticker" validate:"required"`
	Market   string `json:"market"`
	Question string `json:"question" validate:"required"`
	Verify   *bool  `json:"verify"`
}

type BatchQueryRequest struct {
	Requests []session.BatchRequest `json:"requests" validate:"required,min=1,max=50,dive"`
}

type CompareRequest struct {
	Ticker1 string `json:"ticker1" validate:"required"`
	Ticker2 string `json:"ticker2" validate:"required"`
	Metric  string `json:"metric" validate:"required"`
	Market  string `json:"market"`
}

// KnowledgeResponse is the knowledge-graph view of one company.
type KnowledgeResponse struct {
	Key     string                           `json:"key"`
	Summary string                           `json:"summary"`
	Context string                           `json:"context"`
	Metrics map[string]map[int]float64       `json:"metrics"`
	Trends  map[string]knowledge.TrendResult `json:"trends"`
	Peers   []string                         `json:"peers"`
}

type AppDeps struct {
	Orchestrator Orchestrator
	History      AuditHistory // optional; /audit/history returns 404 when nil
	Jobs         JobQueue     // optional; async loads are rejected when nil
	Metrics      http.Handler // optional; mounted at /metrics
	Token        string       // bearer token; empty disables auth
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/companies/{market}/{ticker}/load", handleLoad(deps))
		r.Delete("/companies/{market}/{ticker}", handleReset(deps))
		r.Get("/companies/{market}/{ticker}/knowledge", handleKnowledge(deps))
		r.Get("/companies/{market}/{ticker}/summary", handleSummary(deps))
		r.Post("/query", handleQuery(deps))
		r.Post("/batch", handleBatch(deps))
		r.Post("/compare", handleCompare(deps))
		r.Get("/audit", handleAudit(deps))
		r.Get("/audit/history", handleAuditHistory(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))
	})

	return r
}

func companyParams(r *http.Request) (ticker, market string) {
	return strings.ToUpper(chi.URLParam(r, "ticker")), strings.ToUpper(chi.URLParam(r, "market"))
}

func defaultMarket(m string) string {
	if m == "" {
		return "US"
	}
	return m
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"loaded": deps.Orchestrator.Loaded(),
		})
	}
}

// handleLoad loads a company synchronously, or queues it when ?async=true.
func handleLoad(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ticker, market := companyParams(r)

		if r.URL.Query().Get("async") == "true" {
			if deps.Jobs == nil {
				httpError(w, http.StatusNotImplemented, "api_error", "asynchronous loading is not enabled")
				return
			}
			id, err := ingest.EnqueueLoad(deps.Jobs, ticker, market)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue load: %v", err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{
				"job_id": id,
				"key":    session.Key(ticker, market),
				"status": "queued",
			})
			return
		}

		st := deps.Orchestrator.LoadCompany(r.Context(), ticker, market)
		code := http.StatusOK
		if st.Status == session.StatusError {
			code = http.StatusUnprocessableEntity
		}
		writeJSON(w, code, st)
	}
}

func handleReset(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ticker, market := companyParams(r)
		if !deps.Orchestrator.Reset(ticker, market) {
			httpError(w, http.StatusNotFound, "not_found", "company %s is not loaded", session.Key(ticker, market))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleKnowledge(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ticker, market := companyParams(r)
		g, err := deps.Orchestrator.Knowledge(ticker, market)
		if errors.Is(err, session.ErrNotLoaded) {
			httpError(w, http.StatusNotFound, "not_found", "company %s is not loaded", session.Key(ticker, market))
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read knowledge graph: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, knowledgeView(g, ticker, market))
	}
}

func knowledgeView(g *knowledge.Graph, ticker, market string) KnowledgeResponse {
	metrics := g.Metrics(ticker)
	trends := make(map[string]knowledge.TrendResult, len(metrics))
	for name := range metrics {
		trends[name] = g.Trend(ticker, name)
	}
	peers := g.Peers(ticker)
	if peers == nil {
		peers = []string{}
	}
	return KnowledgeResponse{
		Key:     session.Key(ticker, market),
		Summary: g.Summary(ticker),
		Context: g.ContextPrompt(ticker),
		Metrics: metrics,
		Trends:  trends,
		Peers:   peers,
	}
}

func handleSummary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ticker, market := companyParams(r)
		writeQueryResult(w, deps.Orchestrator.FinancialSummary(r.Context(), ticker, market))
	}
}

func handleQuery(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req QueryRequest
		if !decodeBody(w, r, &req) {
			return
		}
		verifyAnswer := req.Verify == nil || *req.Verify
		res := deps.Orchestrator.AnswerQuestion(r.Context(), req.Ticker, req.Question, defaultMarket(req.Market), verifyAnswer)
		writeQueryResult(w, res)
	}
}

// writeQueryResult reports failed questions as 422 with the partial result
// as body, so the audit ID stays visible to the caller.
func writeQueryResult(w http.ResponseWriter, res session.QueryResult) {
	code := http.StatusOK
	if !res.OK() {
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, res)
}

func handleBatch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BatchQueryRequest
		if !decodeBody(w, r, &req) {
			return
		}
		results := deps.Orchestrator.BatchQuery(r.Context(), req.Requests)
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

func handleCompare(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CompareRequest
		if !decodeBody(w, r, &req) {
			return
		}
		cmp := deps.Orchestrator.CompareCompanies(r.Context(), req.Ticker1, req.Ticker2, req.Metric, defaultMarket(req.Market))
		writeJSON(w, http.StatusOK, cmp)
	}
}

func handleAudit(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 1000)
		records := deps.Orchestrator.AuditLog().Recent(limit)
		if records == nil {
			records = []session.AuditRecord{}
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func handleAuditHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			httpError(w, http.StatusNotFound, "not_found", "audit history is not persisted")
			return
		}
		limit := parseIntParam(r, "limit", 20, 1000)
		key := ""
		if t := r.URL.Query().Get("ticker"); t != "" {
			key = session.Key(t, defaultMarket(r.URL.Query().Get("market")))
		}
		records, err := deps.History.RecentAuditRecords(key, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read audit history: %v", err)
			return
		}
		if records == nil {
			records = []storage.AuditRecord{}
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Jobs == nil {
			httpError(w, http.StatusNotFound, "not_found", "job queue is not enabled")
			return
		}
		job, err := deps.Jobs.GetJob(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}
