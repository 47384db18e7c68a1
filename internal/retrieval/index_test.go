package retrieval

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"
)

func basis(dim, i int) []float32 {
	v := make([]float32, dim)
	v[i] = 1
	return v
}

func randomVectors(n, dim int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		out[i] = v
	}
	return out
}

func makeChunks(n int) []Chunk {
	chunks := make([]Chunk, n)
	for i := range chunks {
		chunks[i] = Chunk{ID: fmt.Sprintf("c%d", i), Text: fmt.Sprintf("chunk %d", i), Source: "10-K.pdf", Page: i + 1}
	}
	return chunks
}

func TestBuild_CountMatchesChunks(t *testing.T) {
	for _, n := range []int{0, 1, 7, 50} {
		idx, err := Build(randomVectors(n, 16, int64(n)), makeChunks(n), Options{})
		if err != nil {
			t.Fatalf("Build(%d): %v", n, err)
		}
		if idx.Len() != n || len(idx.Chunks()) != n {
			t.Errorf("Build(%d): Len = %d, Chunks = %d", n, idx.Len(), len(idx.Chunks()))
		}
	}
}

func TestBuild_LengthMismatch(t *testing.T) {
	_, err := Build(randomVectors(3, 8, 1), makeChunks(2), Options{})
	if err == nil {
		t.Fatal("expected error for 3 vectors and 2 chunks")
	}
}

func TestBuild_DimensionMismatch(t *testing.T) {
	vecs := [][]float32{{1, 0, 0}, {0, 1}}
	_, err := Build(vecs, makeChunks(2), Options{})
	if !errors.Is(err, ErrDimension) {
		t.Fatalf("err = %v, want ErrDimension", err)
	}
}

func TestBuild_ZeroVector(t *testing.T) {
	vecs := [][]float32{{1, 0}, {0, 0}}
	_, err := Build(vecs, makeChunks(2), Options{})
	if !errors.Is(err, ErrZeroVector) {
		t.Fatalf("err = %v, want ErrZeroVector", err)
	}
}

func TestSearch_ExactMatchFirst(t *testing.T) {
	const dim = 8
	vecs := make([][]float32, dim)
	for i := range vecs {
		vecs[i] = basis(dim, i)
	}
	idx, err := Build(vecs, makeChunks(dim), Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	hits := idx.Search(basis(dim, 3), 1, 0.5)
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if hits[0].Position != 3 || hits[0].ID != "c3" {
		t.Errorf("top hit = %d (%s), want 3 (c3)", hits[0].Position, hits[0].ID)
	}
	if math.Abs(float64(hits[0].Score)-1) > 1e-5 {
		t.Errorf("score = %f, want 1", hits[0].Score)
	}
}

func TestSearch_ScaleInvariant(t *testing.T) {
	idx, err := Build([][]float32{{3, 4}, {-4, 3}}, makeChunks(2), Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	hits := idx.Search([]float32{30, 40}, 1, 0)
	if len(hits) != 1 || hits[0].Position != 0 {
		t.Fatalf("hits = %+v, want position 0", hits)
	}
	if math.Abs(float64(hits[0].Score)-1) > 1e-5 {
		t.Errorf("score = %f, want 1 for parallel vectors of different length", hits[0].Score)
	}
}

func TestSearch_ThresholdAndOrdering(t *testing.T) {
	vecs := randomVectors(60, 12, 7)
	idx, err := Build(vecs, makeChunks(60), Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for qi, q := range randomVectors(20, 12, 99) {
		for _, threshold := range []float32{-1, 0, 0.2, 0.5} {
			hits := idx.Search(q, 6, threshold)
			if len(hits) > 6 {
				t.Fatalf("query %d: got %d hits, want at most 6", qi, len(hits))
			}
			for i, h := range hits {
				if h.Score < threshold {
					t.Errorf("query %d: hit %d score %f below threshold %f", qi, i, h.Score, threshold)
				}
				if i > 0 && hits[i-1].Score < h.Score {
					t.Errorf("query %d: hits not sorted descending at %d", qi, i)
				}
			}
		}
	}
}

func TestSearch_TiesKeepInsertionOrder(t *testing.T) {
	v := []float32{0.2, 0.4, 0.6}
	vecs := [][]float32{v, v, v, {-1, 0, 0}}
	idx, err := Build(vecs, makeChunks(4), Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	hits := idx.Search(v, 3, 0)
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(hits))
	}
	for i, h := range hits {
		if h.Position != i {
			t.Errorf("hits[%d].Position = %d, want %d", i, h.Position, i)
		}
	}
}

func TestSearch_EmptyIndex(t *testing.T) {
	idx, err := Build(nil, nil, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if hits := idx.Search([]float32{1, 2, 3}, 5, 0); len(hits) != 0 {
		t.Errorf("got %d hits from empty index, want 0", len(hits))
	}
}

func TestSearch_DegenerateQueries(t *testing.T) {
	idx, err := Build(randomVectors(5, 4, 3), makeChunks(5), Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	tests := []struct {
		name  string
		query []float32
		k     int
	}{
		{"zero k", []float32{1, 0, 0, 0}, 0},
		{"zero vector", []float32{0, 0, 0, 0}, 3},
		{"wrong dimension", []float32{1, 0}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if hits := idx.Search(tt.query, tt.k, -1); len(hits) != 0 {
				t.Errorf("got %d hits, want 0", len(hits))
			}
		})
	}
}

func TestSearch_KLargerThanIndex(t *testing.T) {
	idx, err := Build(randomVectors(3, 4, 5), makeChunks(3), Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	hits := idx.Search([]float32{1, 1, 1, 1}, 10, -1)
	if len(hits) != 3 {
		t.Errorf("got %d hits, want 3", len(hits))
	}
}

func TestSearch_MatchesBruteForceOnLargerIndex(t *testing.T) {
	const (
		n       = 300
		dim     = 16
		k       = 6
		queries = 50
	)
	vectors := randomVectors(n, dim, 7)
	idx, err := Build(vectors, makeChunks(n), Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	normed := make([][]float32, n)
	for i, v := range vectors {
		normed[i] = normalize(v)
	}

	for qi, query := range randomVectors(queries, dim, 99) {
		q := normalize(query)
		best := float32(-2)
		for _, v := range normed {
			if s := dot(q, v); s > best {
				best = s
			}
		}

		hits := idx.Search(query, k, -1)
		if len(hits) != k {
			t.Fatalf("query %d: got %d hits, want %d", qi, len(hits), k)
		}
		if math.Abs(float64(hits[0].Score-best)) > 1e-5 {
			t.Errorf("query %d: top score = %f, brute-force best = %f", qi, hits[0].Score, best)
		}
	}
}
