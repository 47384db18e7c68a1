package knowledge

import (
	"regexp"
	"strconv"
	"strings"
)

// Pattern is one entry of a metric family: a regexp whose first group
// captures the number, and the factor applied to it.
type Pattern struct {
	Re    *regexp.Regexp
	Scale float64
}

// Family is an ordered list of patterns for one metric. The first pattern
// that matches wins and the rest of the family is skipped.
type Family struct {
	Metric   string
	Patterns []Pattern
}

const (
	// link accepts a short phrase between a label and its value:
	// "Revenue: $1B", "revenue of $1B", "margin improved to 36%".
	link   = `[:\s]+(?:(?:was|were|is|of|at|reached|totaled|stood\s+at|(?:improved|increased|rose|grew|fell|declined|decreased)\s+to|to)\s+)?`
	amount = `\$?([0-9][0-9,]*(?:\.[0-9]+)?)`

	billion = `\s*(?:Billion|B)\b`
	million = `\s*(?:Million|M)\b`
)

func scaled(label string) []Pattern {
	return []Pattern{
		{regexp.MustCompile(`(?i)` + label + link + amount + billion), 1e9},
		{regexp.MustCompile(`(?i)` + label + link + amount + million), 1e6},
	}
}

// Families is the extraction table, applied in order.
var Families = []Family{
	{
		Metric:   "revenue",
		Patterns: append(scaled(`(?:total\s+)?revenue`), scaled(`(?:net\s+)?sales`)...),
	},
	{
		Metric:   "net_income",
		Patterns: append(scaled(`(?:net\s+)?income`), scaled(`(?:net\s+)?profit`)...),
	},
	{
		Metric: "margin",
		Patterns: []Pattern{
			{regexp.MustCompile(`(?i)(?:net\s+)?margin` + link + `([0-9][0-9,]*(?:\.[0-9]+)?)\s*%`), 1},
			{regexp.MustCompile(`(?i)(?:operating\s+)?margin` + link + `([0-9][0-9,]*(?:\.[0-9]+)?)\s*%`), 1},
		},
	},
	{
		Metric: "eps",
		Patterns: []Pattern{
			{regexp.MustCompile(`(?i)(?:earnings?\s+per\s+share|\bEPS)` + link + amount), 1},
		},
	},
}

// Match runs the family against text and returns the first scaled value.
func (f Family) Match(text string) (float64, bool) {
	for _, p := range f.Patterns {
		m := p.Re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			continue
		}
		return v * p.Scale, true
	}
	return 0, false
}

// ExtractMetrics applies Families to text and upserts every value found as
// a metric of id for year. It returns only what this call extracted.
func (g *Graph) ExtractMetrics(text, id string, year int) map[string]float64 {
	found := make(map[string]float64)
	for _, f := range Families {
		if v, ok := f.Match(text); ok {
			found[f.Metric] = v
		}
	}
	for metric, v := range found {
		g.AddMetric(id, metric, v, year)
	}
	return found
}
