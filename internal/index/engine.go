// Package index orchestrates ingestion and search across the chunker, the
// embedder, the vector store, the keyword index, and the document catalog.
package index

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quarrydb/quarry/internal/catalog"
	"github.com/quarrydb/quarry/internal/chunker"
	"github.com/quarrydb/quarry/internal/embedding"
	"github.com/quarrydb/quarry/internal/keyword"
	"github.com/quarrydb/quarry/internal/models"
	"github.com/quarrydb/quarry/internal/search"
	"github.com/quarrydb/quarry/internal/vector"
	"github.com/quarrydb/quarry/pkg/utils"
)

// Config bounds and defaults for search parameters. ArtifactPaths lists the
// on-disk files and directories whose size Stats reports.
type Config struct {
	DefaultK       int
	MaxK           int
	DefaultAlpha   float64
	CandidatePool  int
	AnswerMaxChars int
	ArtifactPaths  []string
}

func (c *Config) applyDefaults() {
	if c.DefaultK <= 0 {
		c.DefaultK = 5
	}
	if c.MaxK <= 0 {
		c.MaxK = 50
	}
	if c.DefaultAlpha == 0 {
		c.DefaultAlpha = 0.5
	}
	if c.CandidatePool <= 0 {
		c.CandidatePool = 50
	}
	if c.AnswerMaxChars <= 0 {
		c.AnswerMaxChars = search.DefaultAnswerMaxChars
	}
}

// Stats is a snapshot of engine state for the status endpoint.
type Stats struct {
	Documents      int64  `json:"documents"`
	Chunks         int64  `json:"chunks"`
	VectorSize     int    `json:"vector_size"`
	Backend        string `json:"backend"`
	EmbedderDim    int    `json:"embedder_dim"`
	DiskUsageBytes *int64 `json:"disk_usage_bytes,omitempty"`
}

// Engine is the retrieval engine. A single lock serializes writes (ingest,
// reset) against each other and against searches; searches share the lock so
// they run concurrently with one another.
type Engine struct {
	mu sync.RWMutex

	cfg      Config
	chunker  *chunker.Chunker
	embedder embedding.Embedder
	store    vector.Store
	kw       *keyword.Index
	catalog  *catalog.Catalog
	nextID   int64
	logger   *zap.Logger
}

// Option configures optional engine behavior.
type Option func(*Engine)

// WithLogger attaches a logger; without it the engine is silent.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New assembles an engine over the given components. Call Restore before
// serving traffic when the process is starting over an existing corpus.
func New(cfg Config, ck *chunker.Chunker, emb embedding.Embedder, store vector.Store, kw *keyword.Index, cat *catalog.Catalog, opts ...Option) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:      cfg,
		chunker:  ck,
		embedder: emb,
		store:    store,
		kw:       kw,
		catalog:  cat,
		nextID:   1,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Restore rebuilds the keyword index from previously persisted chunks and
// reseeds the ID allocator. The chunks come from the local store's snapshot
// or, under a remote backend, from the catalog.
func (e *Engine) Restore(chunks []models.Chunk, nextID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kw.Rebuild(chunks)
	if nextID > e.nextID {
		e.nextID = nextID
	}
	e.logger.Info("restored index state",
		zap.Int("chunks", len(chunks)),
		zap.Int64("next_id", e.nextID))
}

// Ingest chunks, embeds, and indexes one document. The document ID must be
// non-empty; re-ingesting an ID appends new chunks rather than replacing old
// ones. Text that yields zero chunks is rejected.
func (e *Engine) Ingest(ctx context.Context, docID, text, source string, ts *time.Time) (*models.IngestResult, error) {
	if docID == "" {
		return nil, &models.ValidationError{Field: "doc_id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &models.ValidationError{Field: "text", Reason: "must not be empty"}
	}
	texts := e.chunker.Split(text)
	if len(texts) == 0 {
		return nil, &models.ValidationError{Field: "text", Reason: "yields no indexable chunks"}
	}

	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed document %s: %w", docID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	chunks := make([]models.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = models.Chunk{
			ID:        e.nextID + int64(i),
			DocID:     docID,
			Text:      t,
			Source:    source,
			Timestamp: ts,
		}
	}
	if err := e.store.Add(ctx, chunks, vectors); err != nil {
		return nil, err
	}
	// Vector write succeeded; keyword postings follow it so both views hold
	// the same IDs.
	for _, c := range chunks {
		e.kw.Add(c)
	}
	// The IDs are consumed before the catalog write: the chunks are already
	// live in the store, so a retry after a catalog failure must allocate
	// fresh ones. The catalog is the durable chunk record under a remote
	// backend, so its failure fails the ingest.
	e.nextID += int64(len(chunks))
	if err := e.catalog.RecordIngest(ctx, chunks); err != nil {
		return nil, fmt.Errorf("record document %s in catalog: %w", docID, err)
	}

	e.logger.Info("document ingested",
		zap.String("doc_id", docID),
		zap.Int("chunks", len(chunks)))
	return &models.IngestResult{DocID: docID, ChunksIndexed: len(chunks)}, nil
}

// SearchVector runs dense retrieval only.
func (e *Engine) SearchVector(ctx context.Context, query string, k int, f *models.Filter) ([]models.Hit, error) {
	k, err := e.validateQuery(query, k)
	if err != nil {
		return nil, err
	}
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Search(ctx, vec, k, f)
}

// SearchKeyword runs BM25 retrieval only.
func (e *Engine) SearchKeyword(ctx context.Context, query string, k int, f *models.Filter) ([]models.Hit, error) {
	k, err := e.validateQuery(query, k)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.kw.Search(query, k, f), nil
}

// SearchHybrid runs both retrievals over a widened candidate pool and fuses
// the rankings. Alpha weights the vector side and must lie in [0,1]; it is
// validated before any index work happens.
func (e *Engine) SearchHybrid(ctx context.Context, query string, k int, alpha float64, f *models.Filter) ([]models.Hit, error) {
	if math.IsNaN(alpha) || alpha < 0 || alpha > 1 {
		return nil, &models.ValidationError{Field: "alpha", Reason: "must be between 0 and 1"}
	}
	k, err := e.validateQuery(query, k)
	if err != nil {
		return nil, err
	}
	pool := e.cfg.CandidatePool
	if pool < k {
		pool = k
	}

	var vecHits, kwHits []models.Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, err := e.embedder.Embed(gctx, query)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		e.mu.RLock()
		defer e.mu.RUnlock()
		vecHits, err = e.store.Search(gctx, vec, pool, f)
		return err
	})
	g.Go(func() error {
		e.mu.RLock()
		defer e.mu.RUnlock()
		kwHits = e.kw.Search(query, pool, f)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return search.Fuse(vecHits, kwHits, alpha, k), nil
}

// Answer runs a hybrid search and assembles an extractive answer with
// citations from the top hits.
func (e *Engine) Answer(ctx context.Context, query string, k int, alpha float64, maxChars int, includeScores bool, f *models.Filter) (search.Answer, error) {
	hits, err := e.SearchHybrid(ctx, query, k, alpha, f)
	if err != nil {
		return search.Answer{}, err
	}
	if maxChars <= 0 {
		maxChars = e.cfg.AnswerMaxChars
	}
	return search.BuildAnswer(hits, maxChars, includeScores), nil
}

// Documents lists ingested documents from the catalog.
func (e *Engine) Documents(ctx context.Context, offset, limit int) ([]catalog.DocumentInfo, error) {
	return e.catalog.ListDocuments(ctx, offset, limit)
}

// Reset clears the vector store, the keyword index, and the catalog, and
// restarts ID allocation. Idempotent.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.Reset(ctx); err != nil {
		return err
	}
	e.kw.Reset()
	if err := e.catalog.Reset(ctx); err != nil {
		return err
	}
	e.nextID = 1
	e.logger.Info("index reset")
	return nil
}

// Stats reports corpus counts and backend identity.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	size, err := e.store.Size(ctx)
	if err != nil {
		return Stats{}, err
	}
	docs, err := e.catalog.CountDocuments(ctx)
	if err != nil {
		return Stats{}, err
	}
	chunks, err := e.catalog.CountChunks(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Documents:   docs,
		Chunks:      chunks,
		VectorSize:  size,
		Backend:     e.store.Type(),
		EmbedderDim: e.embedder.Dimensions(),
	}
	if len(e.cfg.ArtifactPaths) > 0 {
		if n, err := utils.DiskUsageBytes(e.cfg.ArtifactPaths...); err == nil {
			st.DiskUsageBytes = &n
		}
	}
	return st, nil
}

// DefaultK returns the configured default result count.
func (e *Engine) DefaultK() int { return e.cfg.DefaultK }

// DefaultAlpha returns the configured default fusion weight.
func (e *Engine) DefaultAlpha() float64 { return e.cfg.DefaultAlpha }

// Backend returns the vector store type identifier.
func (e *Engine) Backend() string { return e.store.Type() }

// EmbedderDimensions returns the embedding dimension in use.
func (e *Engine) EmbedderDimensions() int { return e.embedder.Dimensions() }

func (e *Engine) validateQuery(query string, k int) (int, error) {
	if strings.TrimSpace(query) == "" {
		return 0, &models.ValidationError{Field: "query", Reason: "must not be empty"}
	}
	if k <= 0 {
		return 0, &models.ValidationError{Field: "k", Reason: "must be positive"}
	}
	if k > e.cfg.MaxK {
		k = e.cfg.MaxK
	}
	return k, nil
}
