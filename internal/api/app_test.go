package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/finrag/internal/document"
	"github.com/kalambet/finrag/internal/generator"
	"github.com/kalambet/finrag/internal/retrieval"
	"github.com/kalambet/finrag/internal/session"
	"github.com/kalambet/finrag/internal/storage"
)

const testToken = "test-token-12345"

const appleFiling = "Total revenue of $245.1 Billion for the fiscal year.\n\n" +
	"Net income was $88.2 Billion. Gross margin improved to 36%."

// fixedGenerator always answers with text.
type fixedGenerator struct{ text string }

func (g fixedGenerator) Generate(context.Context, string) (generator.Generation, error) {
	return generator.Generation{Text: g.text, Model: "fixed", Elapsed: time.Millisecond}, nil
}

// writeFilings lays out filings under <root>/<MARKET>/<TICKER>.txt.
func writeFilings(t *testing.T, filings map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, text := range filings {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func newTestOrchestrator(t *testing.T, store *storage.Store) *session.Orchestrator {
	t.Helper()
	root := writeFilings(t, map[string]string{
		"US/AAPL.txt": appleFiling,
		"US/MSFT.txt": "Total revenue of $211.9 Billion. Net income was $72.4 Billion.",
	})
	return session.New(session.Deps{
		Source:    document.NewDirSource(root),
		Chunker:   document.NewChunker(0, 0),
		Embedder:  retrieval.NewHashEmbedder(16),
		Generator: fixedGenerator{text: "Total revenue was $245.1 Billion [S1]."},
		Audit:     session.NewAuditLog(store),
	}, session.Options{Threshold: -1})
}

func setupAppHandler(t *testing.T, token string) (http.Handler, *session.Orchestrator, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	o := newTestOrchestrator(t, store)
	handler := NewAppHandler(AppDeps{
		Orchestrator: o,
		History:      store,
		Jobs:         store,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "# metrics\n")
		}),
		Token: token,
	})
	return handler, o, store
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) (msg, typ string) {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body.Error.Message, body.Error.Type
}

func TestHealth_NoAuthRequired(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	rr := serve(h, authReq(http.MethodGet, "/health", "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp map[string]any
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
}

func TestMetrics_Mounted(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	rr := serve(h, authReq(http.MethodGet, "/metrics", "", ""))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "# metrics") {
		t.Fatalf("status = %d, body = %q", rr.Code, rr.Body.String())
	}
}

func TestAuth_RejectsMissingToken(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	rr := serve(h, authReq(http.MethodPost, "/query", `{"ticker":"AAPL","question":"q"}`, ""))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if _, typ := decodeError(t, rr); typ != "authentication_error" {
		t.Errorf("error type = %q", typ)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got != `Bearer realm="finrag"` {
		t.Errorf("WWW-Authenticate = %q", got)
	}

	rr = serve(h, authReq(http.MethodPost, "/query", `{"ticker":"AAPL","question":"q"}`, "wrong"))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d, want 401", rr.Code)
	}
}

func TestAuth_SchemeCaseInsensitive(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	req := httptest.NewRequest(http.MethodGet, "/audit", nil)
	req.Header.Set("Authorization", "bearer "+testToken)
	if rr := serve(h, req); rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for lower-case scheme", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/audit", nil)
	req.Header.Set("Authorization", "Bearer ")
	if rr := serve(h, req); rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for empty token", rr.Code)
	}
}

func TestAuth_DisabledWithoutToken(t *testing.T) {
	h, _, _ := setupAppHandler(t, "")

	rr := serve(h, authReq(http.MethodGet, "/audit", "", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with auth disabled", rr.Code)
	}
}

func TestLoad_Sync(t *testing.T) {
	h, o, _ := setupAppHandler(t, testToken)

	rr := serve(h, authReq(http.MethodPost, "/companies/us/aapl/load", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var st session.LoadStatus
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Key != "US::AAPL" || st.Status != session.StatusLoaded || st.Documents == 0 {
		t.Errorf("load status = %+v", st)
	}
	if !st.Degraded {
		t.Error("hash embeddings must be reported as degraded")
	}
	if got := o.Loaded(); len(got) != 1 || got[0] != "US::AAPL" {
		t.Errorf("Loaded() = %v", got)
	}

	rr = serve(h, authReq(http.MethodPost, "/companies/US/AAPL/load", "", testToken))
	json.NewDecoder(rr.Body).Decode(&st)
	if st.Status != session.StatusCached {
		t.Errorf("second load status = %q, want cached", st.Status)
	}
}

func TestLoad_UnknownCompany(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	rr := serve(h, authReq(http.MethodPost, "/companies/US/NOPE/load", "", testToken))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
	var st session.LoadStatus
	json.NewDecoder(rr.Body).Decode(&st)
	if st.Status != session.StatusError || st.Error == "" {
		t.Errorf("load status = %+v", st)
	}
}

func TestLoad_AsyncQueuesJob(t *testing.T) {
	h, _, store := setupAppHandler(t, testToken)

	rr := serve(h, authReq(http.MethodPost, "/companies/US/AAPL/load?async=true", "", testToken))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["status"] != "queued" || resp["job_id"] == "" {
		t.Fatalf("response = %v", resp)
	}

	job, err := store.GetJob(resp["job_id"])
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Type != "load_company" || job.Status != storage.JobPending {
		t.Errorf("job = %+v", job)
	}

	rr = serve(h, authReq(http.MethodGet, "/jobs/"+resp["job_id"], "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET job status = %d", rr.Code)
	}
	rr = serve(h, authReq(http.MethodGet, "/jobs/missing", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("GET missing job status = %d, want 404", rr.Code)
	}
}

func TestReset(t *testing.T) {
	h, o, _ := setupAppHandler(t, testToken)
	o.LoadCompany(context.Background(), "AAPL", "US")

	rr := serve(h, authReq(http.MethodDelete, "/companies/US/AAPL", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if len(o.Loaded()) != 0 {
		t.Errorf("Loaded() = %v after reset", o.Loaded())
	}

	rr = serve(h, authReq(http.MethodDelete, "/companies/US/AAPL", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second reset status = %d, want 404", rr.Code)
	}
}

func TestKnowledge(t *testing.T) {
	h, o, _ := setupAppHandler(t, testToken)

	rr := serve(h, authReq(http.MethodGet, "/companies/US/AAPL/knowledge", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status before load = %d, want 404", rr.Code)
	}

	o.LoadCompany(context.Background(), "AAPL", "US")
	rr = serve(h, authReq(http.MethodGet, "/companies/US/AAPL/knowledge", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp KnowledgeResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Key != "US::AAPL" {
		t.Errorf("key = %q", resp.Key)
	}
	if !strings.Contains(resp.Summary, "=== Knowledge Graph for AAPL ===") {
		t.Errorf("summary = %q", resp.Summary)
	}
	if !strings.Contains(resp.Context, "Company:") {
		t.Errorf("context = %q", resp.Context)
	}
	if _, ok := resp.Metrics["revenue"]; !ok {
		t.Errorf("metrics = %v, want revenue extracted", resp.Metrics)
	}
	if _, ok := resp.Trends["revenue"]; !ok {
		t.Errorf("trends = %v, want revenue trend", resp.Trends)
	}
}

func TestQuery(t *testing.T) {
	h, o, store := setupAppHandler(t, testToken)

	body := `{"ticker":"AAPL","question":"What was total revenue?"}`
	rr := serve(h, authReq(http.MethodPost, "/query", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"answer", "confidence_score", "source_documents", "verification_details", "audit_id"} {
		if _, ok := resp[field]; !ok {
			t.Errorf("response missing %q", field)
		}
	}
	if resp["key"] != "US::AAPL" {
		t.Errorf("key = %v, want US::AAPL (market defaults to US)", resp["key"])
	}

	if n := o.AuditLog().Len(); n != 1 {
		t.Errorf("audit records = %d, want 1", n)
	}
	recs, err := store.RecentAuditRecords("", 10)
	if err != nil || len(recs) != 1 {
		t.Fatalf("persisted audit = %v, %v; want 1 record", recs, err)
	}
}

func TestQuery_VerifyDisabled(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	body := `{"ticker":"AAPL","question":"What was revenue?","verify":false}`
	rr := serve(h, authReq(http.MethodPost, "/query", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var res session.QueryResult
	json.NewDecoder(rr.Body).Decode(&res)
	if res.Verification != nil {
		t.Error("verification ran although disabled")
	}
}

func TestQuery_Validation(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing ticker", `{"question":"q"}`, "Ticker is required"},
		{"missing question", `{"ticker":"AAPL"}`, "Question is required"},
		{"malformed", `{"ticker":`, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(h, authReq(http.MethodPost, "/query", tt.body, testToken))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rr.Code)
			}
			msg, typ := decodeError(t, rr)
			if typ != "invalid_request_error" || !strings.Contains(msg, tt.want) {
				t.Errorf("error = %q (%s), want %q", msg, typ, tt.want)
			}
		})
	}
}

func TestQuery_UnknownCompanyIs422(t *testing.T) {
	h, o, _ := setupAppHandler(t, testToken)

	rr := serve(h, authReq(http.MethodPost, "/query", `{"ticker":"NOPE","question":"q"}`, testToken))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
	var res session.QueryResult
	json.NewDecoder(rr.Body).Decode(&res)
	if res.Error == "" || res.AuditID == "" {
		t.Errorf("result = %+v, want error and audit id", res)
	}
	if o.AuditLog().Len() != 1 {
		t.Errorf("failed question was not audited")
	}
}

func TestBatch(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	body := `{"requests":[
		{"id":"a","ticker":"AAPL","question":"What was revenue?"},
		{"id":"b","ticker":"MSFT","question":"What was net income?","verify":false},
		{"id":"c","ticker":"NOPE","question":"Anything?"}
	]}`
	rr := serve(h, authReq(http.MethodPost, "/batch", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Results []session.BatchResult `json:"results"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(resp.Results))
	}
	for i, id := range []string{"a", "b", "c"} {
		if resp.Results[i].ID != id {
			t.Errorf("results[%d].ID = %q, want %q", i, resp.Results[i].ID, id)
		}
	}
	if resp.Results[2].Error == "" {
		t.Error("unknown company should carry an error")
	}
}

func TestBatch_Validation(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	for _, body := range []string{
		`{"requests":[]}`,
		`{"requests":[{"ticker":"AAPL"}]}`,
	} {
		rr := serve(h, authReq(http.MethodPost, "/batch", body, testToken))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rr.Code)
		}
	}
}

func TestCompare(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	body := `{"ticker1":"aapl","ticker2":"msft","metric":"revenue"}`
	rr := serve(h, authReq(http.MethodPost, "/compare", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var cmp session.Comparison
	if err := json.NewDecoder(rr.Body).Decode(&cmp); err != nil {
		t.Fatal(err)
	}
	if cmp.Metric != "revenue" {
		t.Errorf("metric = %q", cmp.Metric)
	}
	for _, id := range []string{"AAPL", "MSFT"} {
		if _, ok := cmp.Results[id]; !ok {
			t.Errorf("results missing %s", id)
		}
		if _, ok := cmp.Trends[id]; !ok {
			t.Errorf("trends missing %s", id)
		}
	}

	rr = serve(h, authReq(http.MethodPost, "/compare", `{"ticker1":"AAPL"}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("incomplete compare status = %d, want 400", rr.Code)
	}
}

func TestSummary(t *testing.T) {
	h, _, _ := setupAppHandler(t, testToken)

	rr := serve(h, authReq(http.MethodGet, "/companies/US/AAPL/summary", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var res session.QueryResult
	json.NewDecoder(rr.Body).Decode(&res)
	if res.Question != session.SummaryQuestion {
		t.Errorf("question = %q", res.Question)
	}
	if res.Verification == nil {
		t.Error("summary must be verified")
	}
}

func TestAudit_NewestFirstWithLimit(t *testing.T) {
	h, o, _ := setupAppHandler(t, testToken)
	ctx := context.Background()
	o.AnswerQuestion(ctx, "AAPL", "first", "US", false)
	o.AnswerQuestion(ctx, "AAPL", "second", "US", false)
	o.AnswerQuestion(ctx, "AAPL", "third", "US", false)

	rr := serve(h, authReq(http.MethodGet, "/audit?limit=2", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var recs []session.AuditRecord
	if err := json.NewDecoder(rr.Body).Decode(&recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].Question != "third" || recs[1].Question != "second" {
		t.Errorf("records = %+v", recs)
	}
}

func TestAuditHistory(t *testing.T) {
	h, o, _ := setupAppHandler(t, testToken)
	ctx := context.Background()
	o.AnswerQuestion(ctx, "AAPL", "apple question", "US", false)
	o.AnswerQuestion(ctx, "MSFT", "microsoft question", "US", false)

	rr := serve(h, authReq(http.MethodGet, "/audit/history?ticker=msft", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var recs []storage.AuditRecord
	if err := json.NewDecoder(rr.Body).Decode(&recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].CompanyKey != "US::MSFT" {
		t.Errorf("records = %+v", recs)
	}
}

func TestAuditHistory_NotPersisted(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	h := NewAppHandler(AppDeps{Orchestrator: newTestOrchestrator(t, store)})

	rr := serve(h, authReq(http.MethodGet, "/audit/history", "", ""))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	rr = serve(h, authReq(http.MethodPost, "/companies/US/AAPL/load?async=true", "", ""))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("async load status = %d, want 501", rr.Code)
	}
}
