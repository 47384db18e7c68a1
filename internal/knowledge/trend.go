package knowledge

import (
	"math"
	"sort"
)

// TrendLabel classifies a metric's history.
type TrendLabel string

const (
	TrendUp      TrendLabel = "up"
	TrendDown    TrendLabel = "down"
	TrendStable  TrendLabel = "stable"
	TrendUnknown TrendLabel = "unknown"
)

// stableBand is the percent change, either way, still considered stable.
const stableBand = 5.0

// TrendResult is a metric history in ascending year order plus its label.
type TrendResult struct {
	Years  []int      `json:"years"`
	Values []float64  `json:"values"`
	Label  TrendLabel `json:"label"`
}

// Trend classifies metric for id by comparing the earliest and latest
// values only; intermediate reversals are ignored. Fewer than two points
// yield TrendUnknown with no years or values.
func (g *Graph) Trend(id, metric string) TrendResult {
	history := g.Metric(id, metric)
	if len(history) < 2 {
		return TrendResult{Label: TrendUnknown}
	}

	years := make([]int, 0, len(history))
	for y := range history {
		years = append(years, y)
	}
	sort.Ints(years)
	values := make([]float64, len(years))
	for i, y := range years {
		values[i] = history[y]
	}

	return TrendResult{Years: years, Values: values, Label: classify(values[0], values[len(values)-1])}
}

func classify(first, last float64) TrendLabel {
	var pct float64
	if first != 0 {
		pct = (last - first) / math.Abs(first) * 100
	}
	switch {
	case pct > stableBand:
		return TrendUp
	case pct < -stableBand:
		return TrendDown
	default:
		return TrendStable
	}
}
