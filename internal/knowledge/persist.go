package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// snapshot is the on-disk form. Years are string keys in JSON and are
// converted back to ints on load.
type snapshot struct {
	Nodes          []Node                                   `json:"nodes"`
	Edges          []Edge                                   `json:"edges"`
	MetricsHistory map[string]map[string]map[string]float64 `json:"metrics_history"`
	Metadata       map[string]CompanyMeta                   `json:"metadata"`
}

// MarshalJSON encodes the graph with nodes and edges in a stable order.
func (g *Graph) MarshalJSON() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := snapshot{
		Nodes:          make([]Node, 0, len(g.nodes)),
		Edges:          make([]Edge, 0, len(g.edges)),
		MetricsHistory: make(map[string]map[string]map[string]float64, len(g.history)),
		Metadata:       g.metadata,
	}
	for _, id := range sortedKeys(g.nodes) {
		s.Nodes = append(s.Nodes, g.nodes[id])
	}
	for _, e := range g.edges {
		s.Edges = append(s.Edges, e)
	}
	sort.Slice(s.Edges, func(i, j int) bool {
		a, b := s.Edges[i], s.Edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Relation < b.Relation
	})
	for ticker, metrics := range g.history {
		out := make(map[string]map[string]float64, len(metrics))
		for metric, years := range metrics {
			ys := make(map[string]float64, len(years))
			for y, v := range years {
				ys[strconv.Itoa(y)] = v
			}
			out[metric] = ys
		}
		s.MetricsHistory[ticker] = out
	}
	return json.Marshal(s)
}

// UnmarshalJSON replaces the graph's contents with the decoded snapshot.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	nodes := make(map[string]Node, len(s.Nodes))
	for _, n := range s.Nodes {
		nodes[n.ID] = n
	}
	edges := make(map[edgeKey]Edge, len(s.Edges))
	for _, e := range s.Edges {
		edges[edgeKey{e.From, e.To, e.Relation}] = e
	}
	history := make(map[string]map[string]map[int]float64, len(s.MetricsHistory))
	for ticker, metrics := range s.MetricsHistory {
		byMetric := make(map[string]map[int]float64, len(metrics))
		for metric, years := range metrics {
			ys := make(map[int]float64, len(years))
			for y, v := range years {
				year, err := strconv.Atoi(y)
				if err != nil {
					return fmt.Errorf("metrics_history %s/%s: invalid year %q", ticker, metric, y)
				}
				ys[year] = v
			}
			byMetric[metric] = ys
		}
		history[ticker] = byMetric
	}
	metadata := s.Metadata
	if metadata == nil {
		metadata = make(map[string]CompanyMeta)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.clock == nil {
		g.clock = realClock{}
	}
	g.nodes, g.edges, g.history, g.metadata = nodes, edges, history, metadata
	return nil
}

// Save writes the graph as JSON to path, creating parent directories.
func (g *Graph) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding knowledge graph: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing knowledge graph: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing knowledge graph: %w", err)
	}
	return nil
}

// Load reads a graph previously written by Save.
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading knowledge graph: %w", err)
	}
	g := New()
	if err := json.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("decoding knowledge graph %s: %w", path, err)
	}
	return g, nil
}
