package session

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/kalambet/finrag/internal/generator"
	"github.com/kalambet/finrag/internal/verify"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestAnswerQuestion_Verified(t *testing.T) {
	gen := &fakeGenerator{text: "Total revenue was $245.1 Billion."}
	o := newTestOrchestrator(appleSource(), gen, Options{})

	res := o.AnswerQuestion(context.Background(), "AAPL", "What was total revenue?", "US", true)
	if !res.OK() {
		t.Fatalf("error: %s", res.Error)
	}
	if res.Key != "US::AAPL" || res.Answer != gen.text || res.Model != "fake" {
		t.Errorf("result = %+v", res)
	}
	if res.Verification == nil || !res.Verification.AllPass {
		t.Fatalf("verification = %+v, want all pass", res.Verification)
	}
	if !near(res.Confidence, 0.95) {
		t.Errorf("confidence = %v, want 0.95", res.Confidence)
	}
	if len(res.Sources) != 1 || res.Sources[0].ChunkID != "chunk_1_0" {
		t.Errorf("sources = %+v", res.Sources)
	}
	if res.AuditID == "" {
		t.Error("missing audit id")
	}

	// The prompt carries the retrieved chunk and the knowledge context.
	if len(gen.prompts) != 1 {
		t.Fatalf("generator called %d times", len(gen.prompts))
	}
	for _, want := range []string{"[S1]", "$245.1 Billion", "[Knowledge Graph Context]", "Company: AAPL"} {
		if !strings.Contains(gen.prompts[0], want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestAnswerQuestion_UnverifiedUsesHeuristic(t *testing.T) {
	o := newTestOrchestrator(appleSource(), &fakeGenerator{text: "Revenue was 245.1 billion."}, Options{})

	res := o.AnswerQuestion(context.Background(), "AAPL", "What was revenue?", "US", false)
	if res.Verification != nil {
		t.Error("verification ran although disabled")
	}
	if want := HeuristicConfidence(res.Answer, 1); !near(res.Confidence, want) {
		t.Errorf("confidence = %v, want %v", res.Confidence, want)
	}
}

func TestAnswerQuestion_HallucinatedNumberFailsE(t *testing.T) {
	o := newTestOrchestrator(appleSource(), &fakeGenerator{text: "Revenue was $999 Trillion according to the filing."}, Options{})

	res := o.AnswerQuestion(context.Background(), "AAPL", "What was revenue?", "US", true)
	if res.Verification == nil || res.Verification.AllPass {
		t.Fatalf("verification = %+v, want a failure", res.Verification)
	}
	if res.Verification.Results[0].Agent != verify.AgentEarnings || res.Verification.Results[0].Passed() {
		t.Errorf("agent E = %+v, want FAIL", res.Verification.Results[0])
	}
	if res.Confidence > 0.35 {
		t.Errorf("confidence = %v, want at most 0.35", res.Confidence)
	}
}

func TestAnswerQuestion_GenerationFailure(t *testing.T) {
	o := newTestOrchestrator(appleSource(), &fakeGenerator{err: errOffline}, Options{})

	res := o.AnswerQuestion(context.Background(), "AAPL", "What was revenue?", "US", true)
	if res.OK() || !strings.Contains(res.Error, "model offline") {
		t.Fatalf("error = %q, want generation failure", res.Error)
	}
	audit := o.Audit()
	if len(audit) != 1 || audit[0].Error == "" {
		t.Errorf("audit = %+v, want one failed record", audit)
	}
}

func TestAnswerQuestion_UnknownCompany(t *testing.T) {
	o := newTestOrchestrator(appleSource(), &fakeGenerator{text: "x"}, Options{})

	res := o.AnswerQuestion(context.Background(), "NOPE", "q", "US", true)
	if res.OK() {
		t.Fatal("expected an error for a company without a filing")
	}
	if o.AuditLog().Len() != 1 {
		t.Errorf("audit length = %d, want 1", o.AuditLog().Len())
	}
}

func TestAnswerQuestion_OneAuditRecordPerCall(t *testing.T) {
	o := newTestOrchestrator(appleSource(), &fakeGenerator{text: "Revenue grew."}, Options{})
	for i := range 3 {
		o.AnswerQuestion(context.Background(), "AAPL", "What was revenue?", "US", i%2 == 0)
		if got := o.AuditLog().Len(); got != i+1 {
			t.Fatalf("after call %d audit length = %d", i+1, got)
		}
	}
}

func TestHeuristicConfidence(t *testing.T) {
	tests := []struct {
		answer  string
		sources int
		want    float64
	}{
		{"no numbers here", 0, 0},
		{"revenue was 3", 0, 0.4},
		{"no numbers", 1, 0.05},
		{"no numbers", 2, 0.5},
		{"revenue was 3", 4, 1.0},
		{"revenue was 3", 10, 1.0},
	}
	for _, tt := range tests {
		if got := HeuristicConfidence(tt.answer, tt.sources); !near(got, tt.want) {
			t.Errorf("HeuristicConfidence(%q, %d) = %v, want %v", tt.answer, tt.sources, got, tt.want)
		}
	}
}

func TestFinancialSummary(t *testing.T) {
	gen := &fakeGenerator{text: "Net income was $88.2 Billion."}
	o := newTestOrchestrator(appleSource(), gen, Options{})

	res := o.FinancialSummary(context.Background(), "AAPL", "US")
	if res.Question != SummaryQuestion {
		t.Errorf("question = %q", res.Question)
	}
	if res.Verification == nil {
		t.Error("summary should be verified")
	}
}

func TestCompareAnswers(t *testing.T) {
	o := newTestOrchestrator(appleSource(), &fakeGenerator{}, Options{})
	gens := map[string]generator.Generator{
		"good":   &fakeGenerator{text: "Total revenue was $245.1 Billion."},
		"broken": &fakeGenerator{err: errors.New("quota exceeded")},
	}

	out, err := o.CompareAnswers(context.Background(), "AAPL", "US", "What was total revenue?", gens)
	if err != nil {
		t.Fatalf("CompareAnswers: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d results, want 2", len(out))
	}
	if !near(out["good"].Confidence, 0.95) {
		t.Errorf("good confidence = %v", out["good"].Confidence)
	}
	if out["broken"].OK() {
		t.Error("broken generator should report an error")
	}
	if o.AuditLog().Len() != 0 {
		t.Error("comparisons should not be audited")
	}
}
