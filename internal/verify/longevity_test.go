package verify

import (
	"testing"

	"github.com/kalambet/finrag/internal/knowledge"
)

func historyGraph() *knowledge.Graph {
	g := knowledge.New()
	g.AddMetric("AAPL", "revenue", 100, 2022)
	g.AddMetric("AAPL", "revenue", 80, 2024)
	g.AddMetric("AAPL", "margin", 30, 2022)
	g.AddMetric("AAPL", "margin", 31, 2024)
	g.AddMetric("AAPL", "eps", 5, 2022)
	g.AddMetric("AAPL", "eps", 6, 2024)
	return g
}

func TestExtractTrendClaims(t *testing.T) {
	claims := ExtractTrendClaims("Revenue grew steadily while costs fell. Margin remained flat and cash was stable.")
	want := []TrendClaim{
		{"Revenue", Growth},
		{"costs", Decline},
		{"Margin", Stable},
		{"cash", Stable},
	}
	if len(claims) != len(want) {
		t.Fatalf("claims = %+v, want %+v", claims, want)
	}
	for i := range want {
		if claims[i] != want[i] {
			t.Errorf("claim %d = %+v, want %+v", i, claims[i], want[i])
		}
	}
}

func TestLongevity(t *testing.T) {
	g := historyGraph()
	tests := []struct {
		name        string
		answer      string
		history     History
		ticker      string
		wantStatus  Status
		wantDetails string
		wantFix     string
	}{
		{
			name:        "growth claim against falling history",
			answer:      "Revenue grew steadily over the period.",
			history:     g,
			ticker:      "AAPL",
			wantStatus:  StatusFail,
			wantDetails: "Found 1 trend inconsistencies.",
			wantFix:     "Anomalies: Revenue: claimed growth but historically down",
		},
		{
			name:        "consistent claims",
			answer:      "EPS increased while margin remained flat.",
			history:     g,
			ticker:      "AAPL",
			wantStatus:  StatusPass,
			wantDetails: "All 2 trend claims consistent with history.",
		},
		{
			name:        "no history for metric",
			answer:      "Dividends rose.",
			history:     g,
			ticker:      "AAPL",
			wantStatus:  StatusPass,
			wantDetails: "All 1 trend claims consistent with history.",
		},
		{
			name:        "no trend claims",
			answer:      "Revenue was $394.3 Billion.",
			history:     g,
			ticker:      "AAPL",
			wantStatus:  StatusPass,
			wantDetails: "No trend claims to verify.",
		},
		{
			name:        "no history store",
			answer:      "Revenue grew.",
			history:     nil,
			ticker:      "AAPL",
			wantStatus:  StatusPass,
			wantDetails: "No historical data available for trend verification.",
		},
		{
			name:        "no ticker",
			answer:      "Revenue grew.",
			history:     g,
			ticker:      "",
			wantStatus:  StatusPass,
			wantDetails: "No historical data available for trend verification.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Longevity{}.Verify(tt.answer, tt.history, tt.ticker)
			if r.Status != tt.wantStatus || r.Details != tt.wantDetails || r.Correction != tt.wantFix {
				t.Errorf("result = %+v", r)
			}
			if tt.wantStatus == StatusFail && r.Penalty != LongevityPenalty {
				t.Errorf("penalty = %v, want %v", r.Penalty, LongevityPenalty)
			}
		})
	}
}

func TestLongevity_PenaltyIndependentOfCount(t *testing.T) {
	r := Longevity{}.Verify("Revenue grew. Revenue climbed. Revenue rose.", historyGraph(), "AAPL")
	if r.Details != "Found 3 trend inconsistencies." {
		t.Errorf("details = %q", r.Details)
	}
	if r.Penalty != LongevityPenalty {
		t.Errorf("penalty = %v, want fixed %v", r.Penalty, LongevityPenalty)
	}
	want := "Anomalies: Revenue: claimed growth but historically down; Revenue: claimed growth but historically down"
	if r.Correction != want {
		t.Errorf("correction = %q, want two anomalies", r.Correction)
	}
}
