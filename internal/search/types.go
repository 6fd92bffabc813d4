// Package search provides hybrid search functionality combining BM25 and semantic search.
// Results are fused using Reciprocal Rank Fusion (RRF) for robust rank-based scoring.
package search

import (
	"context"
	"time"

	"github.com/demongrep/demongrep/internal/store"
)

// SearchEngine provides hybrid search combining BM25 and semantic search
// over a single database.
type SearchEngine interface {
	// Search executes a hybrid search query and returns ranked results.
	Search(ctx context.Context, query string, opts SearchOptions) ([]*SearchResult, error)

	// Index embeds and adds chunks to both the full-text and vector indices.
	Index(ctx context.Context, chunks []*store.ChunkRecord) error

	// Delete removes chunks from both indices.
	Delete(ctx context.Context, chunkIDs []uint32) error

	// Stats returns engine statistics.
	Stats(ctx context.Context) (*EngineStats, error)

	// Close releases all resources.
	Close() error
}

// SearchOptions configures a search query.
type SearchOptions struct {
	// Limit is the maximum number of results to return (default: 10, max: 100).
	Limit int

	// Weights overrides the default BM25/semantic weights.
	Weights *Weights

	// Scopes restricts results to files within these path prefixes.
	// Multiple scopes use OR logic (matches if file is within ANY scope).
	// Empty slice means no scope filtering.
	Scopes []string

	// BM25Only forces keyword-only search, skipping semantic/vector search entirely.
	BM25Only bool

	// VectorOnly forces semantic-only search, skipping full-text search entirely.
	VectorOnly bool

	// AdjacentChunks specifies how many chunks before/after to retrieve for context.
	// 0 = disabled (default), 1 = fetch 1 before + 1 after, 2 = fetch 2 each.
	AdjacentChunks int

	// PerFile, if > 0, groups results by file and keeps only the top PerFile
	// results per path, with groups ordered by each group's max score.
	PerFile int

	// Explain enables detailed search explanation mode.
	Explain bool
}

// Weights configures the relative importance of BM25 vs semantic search.
type Weights struct {
	// BM25 is the weight for keyword search (0-1, default: 0.35).
	BM25 float64

	// Semantic is the weight for vector search (0-1, default: 0.65).
	Semantic float64
}

// DefaultWeights returns the default search weights optimized for mixed queries.
func DefaultWeights() Weights {
	return Weights{
		BM25:     0.35,
		Semantic: 0.65,
	}
}

// SearchResult represents a single search result with scores and metadata.
type SearchResult struct {
	// Chunk contains the full chunk record from the dense store.
	Chunk *store.ChunkRecord

	// Score is the combined normalized score (0-1), or the rerank-blended
	// score when a cross-encoder reranker ran.
	Score float64

	// BM25Score is the individual BM25 score (normalized).
	BM25Score float64

	// VecScore is the individual vector similarity score (0-1).
	VecScore float64

	// BM25Rank is the position in BM25 results (1-indexed, 0 if absent).
	BM25Rank int

	// VecRank is the position in vector results (1-indexed, 0 if absent).
	VecRank int

	// InBothLists indicates the result appeared in both BM25 and vector results.
	InBothLists bool

	// MatchedTerms contains the BM25 query terms that matched this result.
	MatchedTerms []string

	// AdjacentContext contains chunks before/after this result for context.
	AdjacentContext AdjacentContext

	// Explain contains detailed search decision information when opts.Explain=true.
	// Only populated on the first result to avoid duplication.
	Explain *ExplainData
}

// AdjacentContext contains surrounding chunks for context continuity.
type AdjacentContext struct {
	// Before contains chunks appearing before this one in the same file,
	// sorted by proximity (closest first).
	Before []*store.ChunkRecord

	// After contains chunks appearing after this one in the same file,
	// sorted by proximity (closest first).
	After []*store.ChunkRecord
}

// EngineStats provides statistics about the search engine.
type EngineStats struct {
	// FTSStats contains full-text index statistics.
	FTSStats *store.IndexStats

	// DenseStats contains dense vector store statistics.
	DenseStats store.DenseStats
}

// EngineConfig configures the search engine.
type EngineConfig struct {
	// DefaultLimit is the default number of results (default: 10).
	DefaultLimit int

	// MaxLimit is the maximum allowed results (default: 100).
	MaxLimit int

	// DefaultWeights are the default BM25/semantic weights.
	DefaultWeights Weights

	// RRFConstant is the RRF fusion constant k (default: 20).
	RRFConstant int

	// RetrievalLimit is how many candidates each source retrieves before
	// fusion (default: 200).
	RetrievalLimit int

	// RerankTop is how many of the fused results are sent through the
	// reranker, when one is configured (default: 50).
	RerankTop int

	// SearchTimeout is the maximum search duration (default: 5s).
	SearchTimeout time.Duration
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		DefaultLimit:   10,
		MaxLimit:       100,
		DefaultWeights: DefaultWeights(),
		RRFConstant:    DefaultRRFConstant,
		RetrievalLimit: 200,
		RerankTop:      DefaultRerankTop,
		SearchTimeout:  5 * time.Second,
	}
}

// ExplainData contains detailed search decision information, returned only
// on the first result when SearchOptions.Explain is set.
type ExplainData struct {
	// Query is the original search query.
	Query string

	// BM25ResultCount is the number of results from BM25 search.
	BM25ResultCount int

	// VectorResultCount is the number of results from vector search.
	VectorResultCount int

	// Weights are the BM25/semantic weights used for fusion.
	Weights Weights

	// RRFConstant is the RRF k value used for fusion.
	RRFConstant int

	// BM25Only indicates if vector search was skipped.
	BM25Only bool

	// VectorOnly indicates if full-text search was skipped.
	VectorOnly bool

	// DimensionMismatch indicates if vector search was disabled for this
	// query because the embedder's dimensions didn't match the open store.
	DimensionMismatch bool

	// Reranked indicates whether a cross-encoder reranker blended the
	// final scores.
	Reranked bool
}

// Range represents a text range for highlighting.
type Range struct {
	// Start is the starting character offset (0-indexed).
	Start int

	// End is the ending character offset (exclusive).
	End int
}
