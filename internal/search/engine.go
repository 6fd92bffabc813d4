package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/demongrep/demongrep/internal/embed"
	"github.com/demongrep/demongrep/internal/store"
	"golang.org/x/sync/errgroup"
)

// ErrNilDependency is returned by NewEngine when a required dependency is nil.
var ErrNilDependency = errors.New("search: nil dependency")

// ErrDimensionMismatch is returned when the query embedder's dimensions
// don't match the chunk embedder dimensions recorded in the database's
// file-metadata. Per-query retrieval degrades gracefully instead of
// surfacing this to the caller; it is exported for callers that want to
// detect the condition directly (e.g. a CLI `reindex --force` hint).
var ErrDimensionMismatch = errors.New("search: embedding dimension mismatch")

// Engine is a single-database hybrid search engine: it fuses full-text and
// dense vector retrieval with Reciprocal Rank Fusion, optionally reranks
// with a cross-encoder, and applies path-scope filtering and per-file
// grouping on the result.
type Engine struct {
	fts      store.FTSIndex
	dense    store.DenseStore
	embedder embed.Embedder
	fileMeta *store.FileMeta
	config   EngineConfig
	fusion   *RRFFusion
	reranker Reranker

	mu     sync.RWMutex
	closed bool
}

var _ SearchEngine = (*Engine)(nil)

// EngineOption configures optional Engine behavior.
type EngineOption func(*Engine)

// WithReranker attaches a cross-encoder reranker. Without this option,
// search results are returned in pure RRF order.
func WithReranker(r Reranker) EngineOption {
	return func(e *Engine) { e.reranker = r }
}

// NewEngine constructs a hybrid search engine over a single database's
// full-text index, dense store, embedder, and file-metadata map.
func NewEngine(fts store.FTSIndex, dense store.DenseStore, embedder embed.Embedder, fileMeta *store.FileMeta, config EngineConfig, opts ...EngineOption) (*Engine, error) {
	if fts == nil || dense == nil || embedder == nil || fileMeta == nil {
		return nil, ErrNilDependency
	}

	if config.RRFConstant <= 0 {
		config.RRFConstant = DefaultRRFConstant
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = DefaultConfig().DefaultLimit
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = DefaultConfig().MaxLimit
	}
	if config.RetrievalLimit <= 0 {
		config.RetrievalLimit = DefaultConfig().RetrievalLimit
	}
	if config.RerankTop <= 0 {
		config.RerankTop = DefaultRerankTop
	}
	if config.DefaultWeights == (Weights{}) {
		config.DefaultWeights = DefaultWeights()
	}

	e := &Engine{
		fts:      fts,
		dense:    dense,
		embedder: embedder,
		fileMeta: fileMeta,
		config:   config,
		fusion:   NewRRFFusionWithK(config.RRFConstant),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// docCommentMarkers are the comment-syntax prefixes stripped from each line
// of a docstring before it's folded into embedding text, across the
// language extractors this runs against (Rust ///, //!, C-family //, block
// comment *, and Python's triple-quote ").
var docCommentMarkers = []string{"///", "//!", "//", "*", "\""}

// cleanDocstring strips comment markers from each line of a docstring and
// joins the remaining text with single spaces, so a block comment collapses
// to one sentence instead of carrying its original line breaks and syntax
// into the embedding text.
func cleanDocstring(doc string) string {
	lines := strings.Split(doc, "\n")
	words := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		for _, marker := range docCommentMarkers {
			line = strings.TrimPrefix(line, marker)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		words = append(words, strings.Fields(line)...)
	}
	return strings.Join(words, " ")
}

// embeddingText builds the labeled text an embedder sees for a chunk:
// breadcrumb context joined with " > ", signature, cleaned docstring, and
// finally the chunk's own content, each under its own section label so the
// embedding model can weigh structural context separately from code.
func embeddingText(c *store.ChunkRecord) string {
	var b strings.Builder
	if len(c.Context) > 0 {
		b.WriteString("Context: ")
		b.WriteString(strings.Join(c.Context, " > "))
		b.WriteByte('\n')
	}
	if c.Signature != nil && *c.Signature != "" {
		b.WriteString("Signature: ")
		b.WriteString(*c.Signature)
		b.WriteByte('\n')
	}
	if c.Docstring != nil && *c.Docstring != "" {
		if cleaned := cleanDocstring(*c.Docstring); cleaned != "" {
			b.WriteString("Documentation: ")
			b.WriteString(cleaned)
			b.WriteByte('\n')
		}
	}
	b.WriteString("Code:\n")
	b.WriteString(c.Content)
	return b.String()
}

// Index embeds and adds chunks to both the full-text and dense indices,
// then rebuilds the dense ANN graph so the new chunks become searchable.
// For indexing many files in one pass, prefer StageChunks plus a single
// trailing Finalize call, so the ANN graph is only rebuilt once.
func (e *Engine) Index(ctx context.Context, chunks []*store.ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := e.StageChunks(ctx, chunks); err != nil {
		return err
	}
	return e.Finalize(ctx)
}

// StageChunks embeds chunks and writes them into the dense and full-text
// indices without rebuilding the dense ANN graph or committing the
// full-text index. A sync run stages every changed file's chunks this way,
// then calls Finalize once at the end of the batch.
func (e *Engine) StageChunks(ctx context.Context, chunks []*store.ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}

	ids, err := e.dense.InsertChunks(ctx, chunks)
	if err != nil {
		return fmt.Errorf("search: insert chunks: %w", err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = embeddingText(c)
	}
	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("search: embed chunks: %w", err)
	}
	if err := e.dense.SetVectors(ctx, ids, vectors); err != nil {
		return fmt.Errorf("search: set vectors: %w", err)
	}

	docs := make([]*store.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = &store.Document{
			ChunkID:        strconv.FormatUint(uint64(c.ChunkID), 10),
			Path:           c.Path,
			Content:        c.Content,
			Signature:      derefString(c.Signature),
			StringLiterals: strings.Join(c.StringLiterals, " "),
			Kind:           c.Kind,
		}
	}
	return e.fts.Index(ctx, docs)
}

// Finalize rebuilds the dense ANN graph from every staged vector and
// commits pending full-text mutations, making them visible to Search.
func (e *Engine) Finalize(ctx context.Context) error {
	if err := e.dense.BuildIndex(ctx); err != nil {
		return fmt.Errorf("search: build index: %w", err)
	}
	return e.fts.Commit()
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Delete removes chunks from both indices on a best-effort basis: a
// failure in one index doesn't prevent the attempt on the other, then
// rebuilds the dense ANN graph and commits the full-text index.
func (e *Engine) Delete(ctx context.Context, chunkIDs []uint32) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	errs := e.stageDelete(ctx, chunkIDs)
	if err := e.Finalize(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// StageDelete removes chunks from both indices without rebuilding the
// dense ANN graph or committing the full-text index. A sync run stages
// every vanished or changed file's old chunk IDs this way, then calls
// Finalize once at the end of the batch.
func (e *Engine) StageDelete(ctx context.Context, chunkIDs []uint32) error {
	return errors.Join(e.stageDelete(ctx, chunkIDs)...)
}

func (e *Engine) stageDelete(ctx context.Context, chunkIDs []uint32) []error {
	if len(chunkIDs) == 0 {
		return nil
	}

	ftsIDs := make([]string, len(chunkIDs))
	for i, id := range chunkIDs {
		ftsIDs[i] = strconv.FormatUint(uint64(id), 10)
	}

	var errs []error
	if err := e.fts.Delete(ctx, ftsIDs); err != nil {
		errs = append(errs, fmt.Errorf("full-text delete: %w", err))
	}
	if err := e.dense.DeleteChunks(ctx, chunkIDs); err != nil {
		errs = append(errs, fmt.Errorf("dense delete: %w", err))
	}
	return errs
}

// Stats returns full-text and dense store statistics.
func (e *Engine) Stats(ctx context.Context) (*EngineStats, error) {
	denseStats, err := e.dense.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("search: dense stats: %w", err)
	}
	return &EngineStats{
		FTSStats:   e.fts.Stats(),
		DenseStats: denseStats,
	}, nil
}

// Close releases the engine's own resources. It does not close the dense
// store, full-text index, or embedder, which are owned by the caller.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.reranker != nil {
		return e.reranker.Close()
	}
	return nil
}

func (e *Engine) applyDefaults(opts SearchOptions) SearchOptions {
	if opts.Limit <= 0 {
		opts.Limit = e.config.DefaultLimit
	}
	if opts.Limit > e.config.MaxLimit {
		opts.Limit = e.config.MaxLimit
	}
	return opts
}

// parallelResult carries one source's retrieval results plus whether that
// source degraded for this query.
type parallelResult struct {
	bm25              []*store.BM25Result
	vec               []*store.VectorResult
	bm25Degraded      bool
	vecDegraded       bool
	dimensionMismatch bool
}

// parallelSearch runs the full-text and dense retrievals concurrently via
// errgroup, gracefully degrading to the surviving source if one of them
// fails — a missing/unavailable full-text index degrades to vector-only
// search, and an embedder/store dimension mismatch degrades to BM25-only
// search.
func (e *Engine) parallelSearch(ctx context.Context, query string, opts SearchOptions, limit int) (*parallelResult, error) {
	result := &parallelResult{}

	g, gctx := errgroup.WithContext(ctx)

	if !opts.VectorOnly {
		g.Go(func() error {
			res, err := e.fts.Search(gctx, query, limit)
			if err != nil {
				slog.Warn("full-text search unavailable, degrading to vector-only search", slog.String("error", err.Error()))
				result.bm25Degraded = true
				return nil
			}
			result.bm25 = res
			return nil
		})
	}

	if !opts.BM25Only {
		g.Go(func() error {
			queryVec, err := e.embedder.Embed(gctx, query)
			if err != nil {
				return fmt.Errorf("embed query: %w", err)
			}
			res, err := e.dense.Search(gctx, queryVec, limit)
			if err != nil {
				if errors.Is(err, store.ErrNotIndexed) || isDimensionMismatch(err) {
					slog.Warn("vector search unavailable, degrading to BM25-only search", slog.String("error", err.Error()))
					result.vecDegraded = true
					result.dimensionMismatch = isDimensionMismatch(err)
					return nil
				}
				return fmt.Errorf("dense search: %w", err)
			}
			result.vec = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if result.bm25Degraded && result.vecDegraded {
		return nil, fmt.Errorf("search: both full-text and vector search are unavailable")
	}

	return result, nil
}

func isDimensionMismatch(err error) bool {
	var mismatch store.ErrDimensionMismatch
	return errors.As(err, &mismatch)
}

// Search executes a hybrid search: parallel retrieval, RRF fusion,
// optional cross-encoder rerank, scope filtering, truncation, and optional
// per-file grouping.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) ([]*SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*SearchResult{}, nil
	}

	opts = e.applyDefaults(opts)

	retrievalLimit := e.config.RetrievalLimit
	if opts.Limit > retrievalLimit {
		retrievalLimit = opts.Limit
	}

	parallel, err := e.parallelSearch(ctx, query, opts, retrievalLimit)
	if err != nil {
		return nil, err
	}

	weights := e.config.DefaultWeights
	if opts.Weights != nil {
		weights = *opts.Weights
	}
	effectiveBM25Only := opts.BM25Only || parallel.vecDegraded
	effectiveVectorOnly := opts.VectorOnly || parallel.bm25Degraded
	switch {
	case effectiveBM25Only:
		weights = Weights{BM25: 1.0, Semantic: 0.0}
	case effectiveVectorOnly:
		weights = Weights{BM25: 0.0, Semantic: 1.0}
	}

	fused := e.fusion.Fuse(parallel.bm25, parallel.vec, weights)

	rerankTop := e.config.RerankTop
	if opts.Limit > rerankTop {
		rerankTop = opts.Limit
	}
	reranked := false
	if e.reranker != nil && len(fused) > 0 && e.reranker.Available(ctx) {
		fused, reranked, err = e.rerankFused(ctx, query, fused, rerankTop)
		if err != nil {
			slog.Warn("cross-encoder rerank failed, falling back to RRF order", slog.String("error", err.Error()))
			reranked = false
		}
	}

	results, err := e.enrichResults(ctx, fused)
	if err != nil {
		return nil, fmt.Errorf("search: enrich results: %w", err)
	}

	if opts.AdjacentChunks > 0 {
		e.enrichAdjacent(ctx, results, opts.AdjacentChunks)
	}

	results = ApplyFilters(results, opts)

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	if opts.PerFile > 0 {
		results = GroupPerFile(results, opts.PerFile)
	}

	if opts.Explain && len(results) > 0 {
		results[0].Explain = &ExplainData{
			Query:             query,
			BM25ResultCount:   len(parallel.bm25),
			VectorResultCount: len(parallel.vec),
			Weights:           weights,
			RRFConstant:       e.fusion.K,
			BM25Only:          effectiveBM25Only,
			VectorOnly:        effectiveVectorOnly,
			DimensionMismatch: parallel.dimensionMismatch,
			Reranked:          reranked,
		}
	}

	return results, nil
}

// rerankFused sends the top rerankTop fused results through the
// cross-encoder and blends the result with their RRF scores, returning a
// re-sorted copy of fused.
func (e *Engine) rerankFused(ctx context.Context, query string, fused []*FusedResult, rerankTop int) ([]*FusedResult, bool, error) {
	top := fused
	rest := []*FusedResult(nil)
	if len(fused) > rerankTop {
		top = fused[:rerankTop]
		rest = fused[rerankTop:]
	}

	ids := make([]uint32, len(top))
	for i, r := range top {
		ids[i] = r.ChunkID
	}
	records, err := e.dense.GetChunks(ctx, ids)
	if err != nil {
		return fused, false, fmt.Errorf("load candidates for rerank: %w", err)
	}
	byID := make(map[uint32]*store.ChunkRecord, len(records))
	for _, rec := range records {
		byID[rec.ChunkID] = rec
	}

	documents := make([]string, len(top))
	rrfScores := make([]float64, len(top))
	for i, r := range top {
		if rec, ok := byID[r.ChunkID]; ok {
			documents[i] = rec.Content
		}
		rrfScores[i] = r.RRFScore
	}

	rerankResults, err := e.reranker.Rerank(ctx, query, documents, len(documents))
	if err != nil {
		return fused, false, err
	}

	rerankScores := make([]float64, len(top))
	for _, rr := range rerankResults {
		if rr.Index >= 0 && rr.Index < len(rerankScores) {
			rerankScores[rr.Index] = rr.Score
		}
	}

	blended := blendRerank(rerankScores, rrfScores)
	for i, r := range top {
		r.RRFScore = blended[i]
	}

	sort.SliceStable(top, func(i, j int) bool {
		return top[i].RRFScore > top[j].RRFScore
	})

	return append(top, rest...), true, nil
}

// enrichResults loads the full chunk record for every fused result.
func (e *Engine) enrichResults(ctx context.Context, fused []*FusedResult) ([]*SearchResult, error) {
	if len(fused) == 0 {
		return []*SearchResult{}, nil
	}

	ids := make([]uint32, len(fused))
	for i, r := range fused {
		ids[i] = r.ChunkID
	}
	records, err := e.dense.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint32]*store.ChunkRecord, len(records))
	for _, rec := range records {
		byID[rec.ChunkID] = rec
	}

	results := make([]*SearchResult, 0, len(fused))
	for _, r := range fused {
		rec, ok := byID[r.ChunkID]
		if !ok {
			continue
		}
		results = append(results, &SearchResult{
			Chunk:        rec,
			Score:        r.RRFScore,
			BM25Score:    r.BM25Score,
			VecScore:     r.VecScore,
			BM25Rank:     r.BM25Rank,
			VecRank:      r.VecRank,
			InBothLists:  r.InBothLists,
			MatchedTerms: r.MatchedTerms,
		})
	}
	return results, nil
}

// enrichAdjacent fills in AdjacentContext for each result using the
// file-metadata's per-path chunk ID ordering to find neighbors by position.
func (e *Engine) enrichAdjacent(ctx context.Context, results []*SearchResult, window int) {
	for _, r := range results {
		if r.Chunk == nil {
			continue
		}
		entry, ok := e.fileMeta.Get(r.Chunk.Path)
		if !ok || len(entry.ChunkIDs) < 2 {
			continue
		}

		pos := -1
		for i, id := range entry.ChunkIDs {
			if id == r.Chunk.ChunkID {
				pos = i
				break
			}
		}
		if pos < 0 {
			continue
		}

		beforeIDs := neighborIDs(entry.ChunkIDs, pos, -window)
		afterIDs := neighborIDs(entry.ChunkIDs, pos, window)

		if before, err := e.dense.GetChunks(ctx, beforeIDs); err == nil {
			r.AdjacentContext.Before = before
		}
		if after, err := e.dense.GetChunks(ctx, afterIDs); err == nil {
			r.AdjacentContext.After = after
		}
	}
}

// neighborIDs returns up to abs(direction) chunk IDs adjacent to pos in
// ids, ordered by proximity (closest first). direction < 0 looks before
// pos, direction > 0 looks after.
func neighborIDs(ids []uint32, pos, direction int) []uint32 {
	var out []uint32
	if direction < 0 {
		for i := pos - 1; i >= 0 && len(out) < -direction; i-- {
			out = append(out, ids[i])
		}
		return out
	}
	for i := pos + 1; i < len(ids) && len(out) < direction; i++ {
		out = append(out, ids[i])
	}
	return out
}
