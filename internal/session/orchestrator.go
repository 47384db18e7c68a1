package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/finrag/internal/document"
	"github.com/kalambet/finrag/internal/generator"
	"github.com/kalambet/finrag/internal/knowledge"
	"github.com/kalambet/finrag/internal/metrics"
	"github.com/kalambet/finrag/internal/retrieval"
	"github.com/kalambet/finrag/internal/storage"
	"github.com/kalambet/finrag/internal/verify"
)

// Defaults for Options.
const (
	DefaultTopK       = 6
	DefaultThreshold  = 0.6
	DefaultMetricYear = 2024
	DefaultWorkers    = 4
)

// Load statuses.
const (
	StatusCached = "cached"
	StatusLoaded = "loaded"
	StatusError  = "error"
)

// Chunker splits a filing into retrievable chunks.
type Chunker interface {
	Chunk(f *document.Filing) []retrieval.Chunk
}

// Verifier scores a generated answer against its evidence and history.
type Verifier interface {
	Verify(answer string, sources []string, history verify.History, ticker string) verify.Outcome
}

// ArtifactRegistry records where a company's artifacts were written.
type ArtifactRegistry interface {
	PutArtifact(storage.Artifact) error
}

// Options tunes retrieval and loading.
type Options struct {
	TopK       int
	MetricYear int
	Workers    int

	// Threshold is the minimum cosine similarity of a retrieved chunk.
	// Zero selects the default; use a negative value to accept every hit.
	Threshold float32

	// ArtifactDir, when set, receives the index pair and knowledge graph of
	// every loaded company under <market>__<ticker>.
	ArtifactDir string

	// Seed supplies company names, sectors and peers. May be nil.
	Seed *knowledge.Seed
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.Threshold == 0 {
		o.Threshold = DefaultThreshold
	}
	if o.MetricYear <= 0 {
		o.MetricYear = DefaultMetricYear
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	return o
}

// Deps are the collaborators of an Orchestrator. Store, Audit and Composer
// get defaults when nil; Verifier defaults to verify.New(). Artifacts is
// optional.
type Deps struct {
	Store     *Store
	Source    document.Source
	Chunker   Chunker
	Embedder  retrieval.Embedder
	Generator generator.Generator
	Composer  *generator.Composer
	Verifier  Verifier
	Audit     *AuditLog
	Artifacts ArtifactRegistry
}

// Orchestrator loads companies and answers questions about them.
type Orchestrator struct {
	store     *Store
	source    document.Source
	chunker   Chunker
	retriever *retrieval.Retriever
	composer  *generator.Composer
	answerer  *generator.Answerer
	verifier  Verifier
	audit     *AuditLog
	artifacts ArtifactRegistry
	opts      Options

	loads singleflight.Group
	now   func() time.Time
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if deps.Store == nil {
		deps.Store = NewStore()
	}
	if deps.Audit == nil {
		deps.Audit = NewAuditLog(nil)
	}
	if deps.Composer == nil {
		deps.Composer = generator.NewComposer(0)
	}
	if deps.Verifier == nil {
		deps.Verifier = verify.New()
	}
	return &Orchestrator{
		store:     deps.Store,
		source:    deps.Source,
		chunker:   deps.Chunker,
		retriever: retrieval.NewRetriever(deps.Embedder),
		composer:  deps.Composer,
		answerer:  generator.NewAnswerer(deps.Composer, deps.Generator),
		verifier:  deps.Verifier,
		audit:     deps.Audit,
		artifacts: deps.Artifacts,
		opts:      opts.withDefaults(),
		now:       time.Now,
	}
}

// Options returns the effective options.
func (o *Orchestrator) Options() Options { return o.opts }

// LoadStatus reports the outcome of LoadCompany. Errors are carried in the
// status, never returned.
type LoadStatus struct {
	Key          string   `json:"key"`
	Status       string   `json:"status"`
	Documents    int      `json:"documents"`
	Degraded     bool     `json:"degraded,omitempty"`
	Completeness float64  `json:"completeness,omitempty"`
	Issues       []string `json:"issues,omitempty"`
	Knowledge    string   `json:"knowledge_graph,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// LoadCompany makes a company resident. Concurrent loads of the same
// company share one build.
func (o *Orchestrator) LoadCompany(ctx context.Context, ticker, market string) LoadStatus {
	key := Key(ticker, market)
	if st, ok := o.store.Get(key); ok {
		metrics.RecordLoad(st.Market, StatusCached)
		return LoadStatus{Key: key, Status: StatusCached, Documents: len(st.Chunks), Degraded: st.Degraded}
	}

	start := o.now()
	// The build is shared by all waiters and outlives any one caller.
	buildCtx := context.WithoutCancel(ctx)
	ch := o.loads.DoChan(key, func() (any, error) {
		if st, ok := o.store.Get(key); ok {
			return st, nil
		}
		st, err := o.build(buildCtx, ticker, market)
		if err != nil {
			return nil, err
		}
		o.store.Put(st)
		return st, nil
	})

	var (
		v   any
		err error
	)
	select {
	case res := <-ch:
		v, err = res.Val, res.Err
	case <-ctx.Done():
		err = fmt.Errorf("waiting for load: %w", ctx.Err())
	}
	if err != nil {
		slog.Error("loading company failed", "key", key, "error", err)
		metrics.RecordLoad(strings.ToUpper(market), StatusError)
		return LoadStatus{Key: key, Status: StatusError, Error: err.Error()}
	}
	metrics.ObserveStage(metrics.StageLoad, o.now().Sub(start))

	st := v.(*State)
	metrics.RecordLoad(st.Market, StatusLoaded)
	return LoadStatus{
		Key:          key,
		Status:       StatusLoaded,
		Documents:    len(st.Chunks),
		Degraded:     st.Degraded,
		Completeness: st.Report.Completeness,
		Issues:       st.Report.Issues,
		Knowledge:    st.Graph.Summary(st.Ticker),
	}
}

func (o *Orchestrator) build(ctx context.Context, ticker, market string) (*State, error) {
	ticker, market = strings.ToUpper(ticker), strings.ToUpper(market)
	key := Key(ticker, market)

	filing, err := o.source.Fetch(ctx, ticker, market)
	if err != nil {
		return nil, fmt.Errorf("fetching filing: %w", err)
	}
	report := document.Validate(filing)
	if len(report.Issues) > 0 {
		slog.Warn("filing validation issues", "key", key, "completeness", report.Completeness, "issues", report.Issues)
	}

	chunks := o.chunker.Chunk(filing)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no text extracted from %s", filing.Path)
	}

	idx, err := o.retriever.BuildIndex(ctx, chunks, retrieval.Options{})
	if err != nil {
		return nil, fmt.Errorf("building index: %w", err)
	}
	degraded := o.retriever.Degraded()
	if degraded {
		slog.Warn("index built with non-semantic embeddings", "key", key)
	}

	g := knowledge.New()
	o.opts.Seed.Apply(g, ticker, market)
	for _, c := range chunks {
		if found := g.ExtractMetrics(c.Text, ticker, o.opts.MetricYear); len(found) > 0 {
			slog.Debug("extracted metrics", "key", key, "chunk", c.ID, "metrics", found)
		}
	}

	filing.Pages = nil
	st := &State{
		Key:      key,
		Ticker:   ticker,
		Market:   market,
		Filing:   *filing,
		Report:   report,
		Index:    idx,
		Chunks:   chunks,
		Graph:    g,
		Degraded: degraded,
		LoadedAt: o.now(),
	}
	if o.opts.ArtifactDir != "" {
		if err := o.persist(st); err != nil {
			slog.Warn("persisting artifacts failed", "key", key, "error", err)
		}
	}
	slog.Info("company loaded", "key", key, "chunks", len(chunks), "degraded", degraded)
	return st, nil
}

// ArtifactBase returns the path prefix of a company's artifacts.
func ArtifactBase(dir, ticker, market string) string {
	name := strings.ToUpper(market) + "__" + strings.ToUpper(ticker)
	return filepath.Join(dir, name, name)
}

func (o *Orchestrator) persist(st *State) error {
	base := ArtifactBase(o.opts.ArtifactDir, st.Ticker, st.Market)
	if err := st.Index.Save(base); err != nil {
		return fmt.Errorf("saving index: %w", err)
	}
	if err := st.Graph.Save(base + ".kg.json"); err != nil {
		return fmt.Errorf("saving knowledge graph: %w", err)
	}
	if o.artifacts == nil {
		return nil
	}
	return o.artifacts.PutArtifact(storage.Artifact{
		CompanyKey: st.Key,
		Ticker:     st.Ticker,
		Market:     st.Market,
		Dir:        filepath.Dir(base),
		FilingPath: st.Filing.Path,
		Chunks:     len(st.Chunks),
		Dim:        st.Index.Dim(),
		Degraded:   st.Degraded,
		UpdatedAt:  st.LoadedAt,
	})
}

// Reset drops a company's resident state and reports whether it existed.
func (o *Orchestrator) Reset(ticker, market string) bool {
	return o.store.Delete(Key(ticker, market))
}

// ResetAll drops every resident company and returns how many there were.
func (o *Orchestrator) ResetAll() int {
	return o.store.Clear()
}

// Loaded returns the resident session keys.
func (o *Orchestrator) Loaded() []string {
	return o.store.Keys()
}

// Knowledge returns the resident knowledge graph of a company.
func (o *Orchestrator) Knowledge(ticker, market string) (*knowledge.Graph, error) {
	st, ok := o.store.Get(Key(ticker, market))
	if !ok {
		return nil, ErrNotLoaded
	}
	return st.Graph, nil
}

// Audit returns a copy of the in-memory audit trail, oldest first.
func (o *Orchestrator) Audit() []AuditRecord {
	return o.audit.Records()
}

// AuditLog returns the underlying audit log.
func (o *Orchestrator) AuditLog() *AuditLog {
	return o.audit
}
