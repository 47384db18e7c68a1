package retrieval

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"

	"github.com/coder/hnsw"
)

const (
	// DefaultM is the maximum neighbor count per graph node.
	DefaultM = 32
	// DefaultEfSearch is the candidate list size used both while inserting
	// and while searching.
	DefaultEfSearch = 200
	// DefaultSeed fixes level generation so identical input builds an
	// identical graph.
	DefaultSeed = 42
)

var (
	// ErrDimension is returned when vectors do not share one dimensionality.
	ErrDimension = errors.New("vector dimension mismatch")
	// ErrZeroVector is returned when a vector cannot be normalized.
	ErrZeroVector = errors.New("zero vector")
)

// Options controls HNSW construction.
type Options struct {
	M        int
	EfSearch int
	Seed     int64
}

func (o Options) withDefaults() Options {
	if o.M <= 0 {
		o.M = DefaultM
	}
	if o.EfSearch <= 0 {
		o.EfSearch = DefaultEfSearch
	}
	if o.Seed == 0 {
		o.Seed = DefaultSeed
	}
	return o
}

// Index is an approximate nearest-neighbor index over one company's chunks.
// Vectors are L2-normalized on insert and on query so the inner product is
// the cosine similarity. An Index is read-only after Build or Load and safe
// for concurrent Search.
type Index struct {
	graph  *hnsw.Graph[int]
	chunks []Chunk
	dim    int
	opts   Options
}

func newGraph(opts Options) *hnsw.Graph[int] {
	g := hnsw.NewGraph[int]()
	g.M = opts.M
	g.EfSearch = opts.EfSearch
	g.Distance = hnsw.CosineDistance
	g.Rng = rand.New(rand.NewSource(opts.Seed))
	return g
}

// Build constructs an Index from vectors paired positionally with chunks.
// An empty input yields an empty index.
func Build(vectors [][]float32, chunks []Chunk, opts Options) (*Index, error) {
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("building index: %d vectors for %d chunks", len(vectors), len(chunks))
	}
	opts = opts.withDefaults()

	idx := &Index{
		graph:  newGraph(opts),
		chunks: append([]Chunk(nil), chunks...),
		opts:   opts,
	}
	if len(vectors) == 0 {
		return idx, nil
	}

	idx.dim = len(vectors[0])
	nodes := make([]hnsw.Node[int], len(vectors))
	for i, v := range vectors {
		if len(v) != idx.dim {
			return nil, fmt.Errorf("building index: vector %d has %d dims, want %d: %w", i, len(v), idx.dim, ErrDimension)
		}
		nv := normalize(v)
		if nv == nil {
			return nil, fmt.Errorf("building index: vector %d: %w", i, ErrZeroVector)
		}
		nodes[i] = hnsw.MakeNode(i, nv)
	}
	idx.graph.Add(nodes...)

	return idx, nil
}

// Len returns the number of indexed entries. It always equals len(Chunks()).
func (x *Index) Len() int { return len(x.chunks) }

// Dim returns the vector dimensionality, or 0 for an empty index.
func (x *Index) Dim() int { return x.dim }

// Chunks returns a copy of the indexed chunks in insertion order.
func (x *Index) Chunks() []Chunk {
	return append([]Chunk(nil), x.chunks...)
}

// Search returns at most k hits whose score is at least threshold, ordered
// by descending score. Equal scores keep insertion order.
func (x *Index) Search(query []float32, k int, threshold float32) []Hit {
	if k <= 0 || x.Len() == 0 {
		return nil
	}
	if len(query) != x.dim {
		slog.Warn("similarity search dimension mismatch", "query_dims", len(query), "index_dims", x.dim)
		return nil
	}
	q := normalize(query)
	if q == nil {
		return nil
	}

	// The graph search keeps only n candidates, so ask for at least
	// EfSearch and truncate after ranking.
	n := min(max(k, x.opts.EfSearch), x.Len())
	nodes := x.graph.Search(q, n)

	hits := make([]Hit, 0, len(nodes))
	for _, node := range nodes {
		if node.Key < 0 || node.Key >= len(x.chunks) {
			continue
		}
		score := dot(q, node.Value)
		if score < threshold {
			continue
		}
		hits = append(hits, Hit{Chunk: x.chunks[node.Key], Score: score, Position: node.Key})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Position < hits[j].Position
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
