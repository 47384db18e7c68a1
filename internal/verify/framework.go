package verify

import (
	"fmt"
	"log/slog"
	"strings"
)

const (
	basePass = 0.95
	baseFail = 0.60
)

// Outcome aggregates the three verdicts for one answer.
type Outcome struct {
	AllPass      bool     `json:"all_pass"`
	TotalPenalty float64  `json:"total_penalty"`
	Adjustment   float64  `json:"confidence_adjustment"`
	Results      []Result `json:"agent_results"`
	Confidence   float64  `json:"final_confidence"`
	Summary      string   `json:"summary"`
}

// Framework runs agents E, V and L and combines their verdicts.
type Framework struct {
	earnings  Earnings
	validity  Validity
	longevity Longevity
}

// New returns a Framework.
func New() *Framework { return &Framework{} }

// Verify runs all three agents unconditionally, in order E, V, L.
//
// Confidence is clamp(base - total penalty, 0, 1) where base is 0.95 when
// every agent passes and 0.60 otherwise. A failing agent therefore lowers
// the base and also subtracts its own penalty: E failing alone gives 0.30,
// and any two failures give at most 0.20.
func (f *Framework) Verify(answer string, sources []string, history History, ticker string) Outcome {
	slog.Debug("verifying answer", "agent", AgentEarnings)
	e := f.earnings.Verify(answer, sources)
	slog.Debug("verifying answer", "agent", AgentValidity)
	v := f.validity.Verify(answer, sources)
	slog.Debug("verifying answer", "agent", AgentLongevity)
	l := f.longevity.Verify(answer, history, ticker)

	return Combine([]Result{e, v, l})
}

// Combine scores a set of verdicts.
func Combine(results []Result) Outcome {
	allPass := true
	var total float64
	lines := make([]string, 0, len(results)*2)
	for _, r := range results {
		allPass = allPass && r.Passed()
		total += r.Penalty
		lines = append(lines, fmt.Sprintf("Agent %s: [%s] %s", r.Agent, r.Status, r.Details))
		if r.Correction != "" {
			lines = append(lines, "  -> Correction: "+r.Correction)
		}
	}

	base := baseFail
	if allPass {
		base = basePass
	}
	return Outcome{
		AllPass:      allPass,
		TotalPenalty: total,
		Adjustment:   -total,
		Results:      results,
		Confidence:   max(0, min(1, base-total)),
		Summary:      strings.Join(lines, "\n"),
	}
}
