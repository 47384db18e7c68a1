package retrieval

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrArtifactMismatch is returned by Load when the graph file and the
// metadata file were not written together.
var ErrArtifactMismatch = errors.New("index artifact mismatch")

const metaVersion = 1

type indexMeta struct {
	Version  int     `json:"version"`
	Dim      int     `json:"dim"`
	Count    int     `json:"count"`
	M        int     `json:"m"`
	EfSearch int     `json:"ef_search"`
	Seed     int64   `json:"seed"`
	Checksum string  `json:"checksum"`
	Chunks   []Chunk `json:"chunks"`
}

// IndexPath returns the graph artifact path for a logical key path.
func IndexPath(path string) string { return path + ".index" }

// MetaPath returns the metadata artifact path for a logical key path.
func MetaPath(path string) string { return path + ".meta.json" }

// Save writes the index as a pair of artifacts, path.index and
// path.meta.json. The metadata records a checksum of the graph file so Load
// can reject a mismatched pair.
func (x *Index) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	var graph bytes.Buffer
	if x.Len() > 0 {
		if err := x.graph.Export(&graph); err != nil {
			return fmt.Errorf("exporting graph: %w", err)
		}
	}
	sum := sha256.Sum256(graph.Bytes())

	meta := indexMeta{
		Version:  metaVersion,
		Dim:      x.dim,
		Count:    x.Len(),
		M:        x.opts.M,
		EfSearch: x.opts.EfSearch,
		Seed:     x.opts.Seed,
		Checksum: hex.EncodeToString(sum[:]),
		Chunks:   x.chunks,
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling index metadata: %w", err)
	}

	if err := writeFileAtomic(IndexPath(path), graph.Bytes()); err != nil {
		return fmt.Errorf("writing graph: %w", err)
	}
	if err := writeFileAtomic(MetaPath(path), metaJSON); err != nil {
		return fmt.Errorf("writing index metadata: %w", err)
	}
	return nil
}

// Load reads an index previously written by Save.
func Load(path string) (*Index, error) {
	metaJSON, err := os.ReadFile(MetaPath(path))
	if err != nil {
		return nil, fmt.Errorf("reading index metadata: %w", err)
	}
	var meta indexMeta
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, fmt.Errorf("parsing index metadata: %w", err)
	}
	if meta.Version != metaVersion {
		return nil, fmt.Errorf("index metadata version %d: %w", meta.Version, ErrArtifactMismatch)
	}
	if meta.Count != len(meta.Chunks) {
		return nil, fmt.Errorf("metadata lists %d chunks for %d entries: %w", len(meta.Chunks), meta.Count, ErrArtifactMismatch)
	}

	graph, err := os.ReadFile(IndexPath(path))
	if err != nil {
		return nil, fmt.Errorf("reading graph: %w", err)
	}
	sum := sha256.Sum256(graph)
	if hex.EncodeToString(sum[:]) != meta.Checksum {
		return nil, fmt.Errorf("graph checksum differs from metadata: %w", ErrArtifactMismatch)
	}

	opts := Options{M: meta.M, EfSearch: meta.EfSearch, Seed: meta.Seed}.withDefaults()
	idx := &Index{
		graph:  newGraph(opts),
		chunks: meta.Chunks,
		dim:    meta.Dim,
		opts:   opts,
	}
	if meta.Count == 0 {
		return idx, nil
	}

	if err := idx.graph.Import(bytes.NewReader(graph)); err != nil {
		return nil, fmt.Errorf("importing graph: %w", err)
	}
	idx.graph.EfSearch = opts.EfSearch
	if idx.graph.Len() != meta.Count {
		return nil, fmt.Errorf("graph holds %d entries, metadata %d: %w", idx.graph.Len(), meta.Count, ErrArtifactMismatch)
	}
	return idx, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
