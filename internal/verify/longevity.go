package verify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kalambet/finrag/internal/knowledge"
)

// LongevityPenalty is subtracted when any trend claim contradicts history.
const LongevityPenalty = 0.15

// Direction is the trend an answer claims for a metric.
type Direction string

const (
	Growth  Direction = "growth"
	Decline Direction = "decline"
	Stable  Direction = "stable"
)

// label is the history trend that agrees with the direction.
func (d Direction) label() knowledge.TrendLabel {
	switch d {
	case Growth:
		return knowledge.TrendUp
	case Decline:
		return knowledge.TrendDown
	default:
		return knowledge.TrendStable
	}
}

// TrendPhrase maps a phrase pattern to the direction it claims. The first
// group captures the metric word.
type TrendPhrase struct {
	Re        *regexp.Regexp
	Direction Direction
}

// TrendPhrases is applied in order; every match of every phrase is a claim.
var TrendPhrases = []TrendPhrase{
	{regexp.MustCompile(`(?i)(\w+)\s+(?:grew|increased|rose|climbed)`), Growth},
	{regexp.MustCompile(`(?i)(\w+)\s+(?:declined|decreased|fell|dropped)`), Decline},
	{regexp.MustCompile(`(?i)(\w+)\s+(?:was\s+|remained\s+)?(?:stable|flat|consistent)`), Stable},
}

// TrendClaim is a (metric, direction) pair found in an answer.
type TrendClaim struct {
	Metric    string
	Direction Direction
}

// ExtractTrendClaims returns every trend claim in text.
func ExtractTrendClaims(text string) []TrendClaim {
	var claims []TrendClaim
	for _, p := range TrendPhrases {
		for _, m := range p.Re.FindAllStringSubmatch(text, -1) {
			claims = append(claims, TrendClaim{Metric: m[1], Direction: p.Direction})
		}
	}
	return claims
}

// History supplies metric trends. *knowledge.Graph implements it.
type History interface {
	Trend(id, metric string) knowledge.TrendResult
}

// Longevity is agent L.
type Longevity struct{}

// Verify checks trend claims against ticker's history. Without history, a
// ticker or any claims the verdict is a vacuous PASS.
func (Longevity) Verify(answer string, history History, ticker string) Result {
	if history == nil || ticker == "" {
		return pass(AgentLongevity, "No historical data available for trend verification.")
	}
	claims := ExtractTrendClaims(answer)
	if len(claims) == 0 {
		return pass(AgentLongevity, "No trend claims to verify.")
	}

	var anomalies []string
	for _, c := range claims {
		trend := history.Trend(ticker, strings.ToLower(c.Metric))
		if len(trend.Years) == 0 || trend.Label == knowledge.TrendUnknown {
			continue
		}
		if trend.Label != c.Direction.label() {
			anomalies = append(anomalies, fmt.Sprintf("%s: claimed %s but historically %s", c.Metric, c.Direction, trend.Label))
		}
	}

	if len(anomalies) == 0 {
		return pass(AgentLongevity, fmt.Sprintf("All %d trend claims consistent with history.", len(claims)))
	}
	return Result{
		Agent:      AgentLongevity,
		Status:     StatusFail,
		Details:    fmt.Sprintf("Found %d trend inconsistencies.", len(anomalies)),
		Correction: "Anomalies: " + strings.Join(anomalies[:min(2, len(anomalies))], "; "),
		Penalty:    LongevityPenalty,
	}
}
