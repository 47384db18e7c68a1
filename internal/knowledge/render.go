package knowledge

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// ContextPrompt renders id's identity, peers and the latest value of each
// tracked metric for injection into a generation prompt. An unknown id
// with no history renders as the empty string.
func (g *Graph) ContextPrompt(id string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var lines []string
	if n, ok := g.nodes[id]; ok && n.Kind == KindCompany {
		name := n.Name
		if name == "" {
			name = id
		}
		sector := n.Sector
		if sector == "" {
			sector = "Unknown"
		}
		lines = append(lines, fmt.Sprintf("Company: %s (%s)", name, id))
		lines = append(lines, "Sector: "+sector)
	}

	if peers := g.peersLocked(id); len(peers) > 0 {
		lines = append(lines, "Peers: "+strings.Join(peers, ", "))
	}

	if history := g.history[id]; len(history) > 0 {
		lines = append(lines, "\nKey Metrics (Historical):")
		for _, metric := range sortedKeys(history) {
			years := history[metric]
			if len(years) == 0 {
				continue
			}
			latest := latestYear(years)
			lines = append(lines, fmt.Sprintf("  %s (%d): %s", Title(metric), latest, humanize.FormatFloat("#,###.##", years[latest])))
		}
	}

	return strings.Join(lines, "\n")
}

// Summary renders a short text report of the graph around id.
func (g *Graph) Summary(id string) string {
	total, related := g.Stats(id)
	lines := []string{
		fmt.Sprintf("=== Knowledge Graph for %s ===", id),
		fmt.Sprintf("Total nodes in graph: %d", total),
		fmt.Sprintf("Nodes related to %s: %d", id, related),
	}

	if peers := g.Peers(id); len(peers) > 0 {
		lines = append(lines, "Peers: "+strings.Join(peers, ", "))
	}

	metrics := g.Metrics(id)
	if len(metrics) > 0 {
		names := sortedKeys(metrics)
		lines = append(lines, "Tracked metrics: "+strings.Join(names, ", "))
		for _, name := range names {
			lines = append(lines, fmt.Sprintf("  %s: %s", name, g.Trend(id, name).Label))
		}
	}
	return strings.Join(lines, "\n")
}

// Title turns a metric name such as "net_income" into "Net Income".
func Title(metric string) string {
	words := strings.FieldsFunc(metric, func(r rune) bool { return r == '_' || r == ' ' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func latestYear(years map[int]float64) int {
	first := true
	var latest int
	for y := range years {
		if first || y > latest {
			latest, first = y, false
		}
	}
	return latest
}
