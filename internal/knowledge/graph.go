package knowledge

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Kind tags the variant of a Node.
type Kind string

const (
	KindCompany Kind = "company"
	KindMetric  Kind = "metric"
	KindSector  Kind = "sector"
)

// Relation tags a directed Edge.
type Relation string

const (
	RelHasMetric Relation = "has_metric"
	RelPeer      Relation = "peer"
	RelBelongsTo Relation = "belongs_to"
)

// Node is a tagged union of company, metric and sector nodes. Only the
// fields of its Kind are populated.
type Node struct {
	ID   string `json:"id"`
	Kind Kind   `json:"node_type"`

	// company
	Name   string `json:"name,omitempty"`
	Sector string `json:"sector,omitempty"`
	Market string `json:"market,omitempty"`

	// metric
	Owner  string  `json:"ticker,omitempty"`
	Metric string  `json:"metric,omitempty"`
	Year   int     `json:"year,omitempty"`
	Value  float64 `json:"value,omitempty"`
}

// Edge is a directed, tagged link. Similarity is set on peer edges only.
type Edge struct {
	From       string   `json:"from"`
	To         string   `json:"to"`
	Relation   Relation `json:"relationship"`
	Similarity float64  `json:"similarity,omitempty"`
}

// CompanyMeta holds the attributes recorded when a company is added.
type CompanyMeta struct {
	Name      string `json:"name"`
	Sector    string `json:"sector"`
	Market    string `json:"market"`
	CreatedAt string `json:"created_at"`
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type edgeKey struct {
	from, to string
	rel      Relation
}

// Graph is the symbolic store of companies, yearly metrics, sectors and
// peer links. It is safe for concurrent use.
//
// Every metric node has a mirror entry in history (ticker → metric → year →
// value); both are written under the same lock so they never diverge.
type Graph struct {
	clock Clock

	mu       sync.RWMutex
	nodes    map[string]Node
	edges    map[edgeKey]Edge
	history  map[string]map[string]map[int]float64
	metadata map[string]CompanyMeta
}

// New returns an empty Graph.
func New() *Graph {
	return NewWithClock(realClock{})
}

// NewWithClock returns an empty Graph stamping metadata with clock.
func NewWithClock(clock Clock) *Graph {
	return &Graph{
		clock:    clock,
		nodes:    make(map[string]Node),
		edges:    make(map[edgeKey]Edge),
		history:  make(map[string]map[string]map[int]float64),
		metadata: make(map[string]CompanyMeta),
	}
}

// MetricKey is the node identity of a metric observation.
func MetricKey(ticker, metric string, year int) string {
	return fmt.Sprintf("%s_%s_%d", ticker, metric, year)
}

// AddCompany upserts a company node. When sector is non-empty the company
// is also linked to its sector node.
func (g *Graph) AddCompany(id, name, sector, market string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes[id] = Node{ID: id, Kind: KindCompany, Name: name, Sector: sector, Market: market}
	g.metadata[id] = CompanyMeta{
		Name:      name,
		Sector:    sector,
		Market:    market,
		CreatedAt: g.clock.Now().UTC().Format(time.RFC3339),
	}
	if sector != "" {
		g.linkSectorLocked(id, sector)
	}
}

// AddSector adds a sector node if it is not present.
func (g *Graph) AddSector(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addSectorLocked(name)
}

// LinkSector adds a belongs_to edge from id to sector, creating the sector.
func (g *Graph) LinkSector(id, sector string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.linkSectorLocked(id, sector)
}

func (g *Graph) addSectorLocked(name string) {
	if _, ok := g.nodes[name]; !ok {
		g.nodes[name] = Node{ID: name, Kind: KindSector, Name: name}
	}
}

func (g *Graph) linkSectorLocked(id, sector string) {
	g.addSectorLocked(sector)
	g.edges[edgeKey{id, sector, RelBelongsTo}] = Edge{From: id, To: sector, Relation: RelBelongsTo}
}

// AddMetric upserts the (id, metric, year) observation. Re-adding the same
// key overwrites the value.
func (g *Graph) AddMetric(id, metric string, value float64, year int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := MetricKey(id, metric, year)
	g.nodes[key] = Node{ID: key, Kind: KindMetric, Owner: id, Metric: metric, Year: year, Value: value}
	g.edges[edgeKey{id, key, RelHasMetric}] = Edge{From: id, To: key, Relation: RelHasMetric}

	byMetric, ok := g.history[id]
	if !ok {
		byMetric = make(map[string]map[int]float64)
		g.history[id] = byMetric
	}
	years, ok := byMetric[metric]
	if !ok {
		years = make(map[int]float64)
		byMetric[metric] = years
	}
	years[year] = value
}

// AddPeer adds a directed peer edge. No reverse edge is implied.
// Similarity is clamped to [0,1].
func (g *Graph) AddPeer(id1, id2 string, similarity float64) {
	similarity = max(0, min(1, similarity))

	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges[edgeKey{id1, id2, RelPeer}] = Edge{From: id1, To: id2, Relation: RelPeer, Similarity: similarity}
}

// Peers returns the targets of id's outgoing peer edges, sorted.
func (g *Graph) Peers(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.peersLocked(id)
}

func (g *Graph) peersLocked(id string) []string {
	var peers []string
	for k := range g.edges {
		if k.from == id && k.rel == RelPeer {
			peers = append(peers, k.to)
		}
	}
	sort.Strings(peers)
	return peers
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Metrics returns a copy of the full metric history of id. Unknown ids
// yield an empty map.
func (g *Graph) Metrics(id string) map[string]map[int]float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string]map[int]float64, len(g.history[id]))
	for metric, years := range g.history[id] {
		out[metric] = copyYears(years)
	}
	return out
}

// Metric returns a copy of one metric's year → value history.
func (g *Graph) Metric(id, metric string) map[int]float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return copyYears(g.history[id][metric])
}

// Stats reports the total node count and the number of nodes whose id
// starts with prefix.
func (g *Graph) Stats(prefix string) (total, related int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for id := range g.nodes {
		if len(id) >= len(prefix) && id[:len(prefix)] == prefix {
			related++
		}
	}
	return len(g.nodes), related
}

func copyYears(in map[int]float64) map[int]float64 {
	out := make(map[int]float64, len(in))
	for y, v := range in {
		out[y] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
