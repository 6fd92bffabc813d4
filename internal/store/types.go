// Package store provides the on-disk persistence layer: a bbolt-backed
// dense vector store (HNSW graph + chunk records), a bleve-backed full-text
// store, and a gob-encoded file-metadata map.
package store

import (
	"context"
	"fmt"
)

// ChunkRecord is the stored form of a chunk.Chunk: a monotonically
// allocated ChunkID plus the chunk's own fields and an optional embedding
// vector. IDs are never reused within a database's lifetime.
type ChunkRecord struct {
	ChunkID   uint32
	Path      string
	Content   string
	StartLine int
	EndLine   int
	Kind      string

	Context        []string
	Signature      *string
	Docstring      *string
	ContextPrev    []string
	ContextNext    []string
	StringLiterals []string

	IsComplete bool
	SplitIndex *int

	Hash [32]byte

	// Vector is nil until build_index has embedded this record.
	Vector []float32
}

// DenseStats reports dense-store counters for the `index info`/`stats`
// surface.
type DenseStats struct {
	ChunkCount int
	Dimensions int
	Indexed    bool
}

// DenseStore is the single bbolt environment holding both the chunk
// metadata ("chunks" bucket) and the ANN graph snapshot ("vectors"
// bucket). Mutations flip the indexed flag to false; BuildIndex rebuilds
// the HNSW graph from the current chunk vectors and flips it back to true.
// Search fails with ErrNotIndexed while the flag is false.
type DenseStore interface {
	// InsertChunks allocates IDs for and persists new chunk records,
	// without vectors yet. Marks the store dirty (indexed=false).
	InsertChunks(ctx context.Context, chunks []*ChunkRecord) ([]uint32, error)

	// SetVectors attaches embeddings to already-inserted chunk IDs. Marks
	// the store dirty (indexed=false).
	SetVectors(ctx context.Context, chunkIDs []uint32, vectors [][]float32) error

	// BuildIndex rebuilds the in-memory HNSW graph from every chunk
	// record carrying a vector, snapshots it into the vectors bucket, and
	// flips indexed=true.
	BuildIndex(ctx context.Context) error

	// Search returns the k nearest chunk IDs to query. Fails with
	// ErrNotIndexed if the store is dirty, or ErrDimensionMismatch if
	// query's length doesn't match the store's declared dimensions.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// DeleteChunks removes chunk records and their vectors. Marks the
	// store dirty (indexed=false).
	DeleteChunks(ctx context.Context, chunkIDs []uint32) error

	// GetChunk returns a copy of the stored record, or false if absent.
	GetChunk(ctx context.Context, chunkID uint32) (*ChunkRecord, bool, error)

	// GetChunks batch-retrieves records, skipping any ID that isn't found.
	GetChunks(ctx context.Context, chunkIDs []uint32) ([]*ChunkRecord, error)

	// Stats reports chunk count, declared dimensionality, and the
	// indexed flag.
	Stats(ctx context.Context) (DenseStats, error)

	// Clear removes every record and resets the store to its initial,
	// empty, indexed state.
	Clear(ctx context.Context) error

	Close() error
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ChunkID  uint32
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// VectorStoreConfig configures the dense store's ANN graph.
type VectorStoreConfig struct {
	// Dimensions is the embedding vector length this database was opened
	// with; every inserted vector and query must match it exactly.
	Dimensions int

	// Metric is the distance metric: "cos" (cosine) or "l2" (euclidean).
	Metric string

	// M is HNSW max connections per layer (default: 16).
	M int

	// EfSearch is HNSW query-time search width (default: 20).
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for the dense store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   20,
	}
}

// ErrDimensionMismatch indicates a vector's length doesn't match the
// database's declared dimensionality.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run a forced reindex)", e.Expected, e.Got)
}

// ErrNotIndexed indicates Search was called while the store is dirty
// (chunks were inserted, embedded, or deleted since the last BuildIndex).
var ErrNotIndexed = fmt.Errorf("dense store is not indexed: call BuildIndex first")

// Document is a chunk's full-text-searchable projection: every tokenized
// field the fts store indexes and can match against.
type Document struct {
	ChunkID        string // decimal chunk_id, used as the bleve document ID
	Path           string
	Content        string
	Signature      string
	StringLiterals string // space-joined, tokenized like content
	Kind           string
}

// BM25Result represents a single full-text search hit.
type BM25Result struct {
	ChunkID      string
	Score        float64
	MatchedTerms []string
}

// IndexStats provides statistics about the full-text index.
type IndexStats struct {
	DocumentCount int
}

// BM25Config configures the full-text index's code-aware tokenizer.
type BM25Config struct {
	// StopWords is a list of words to filter out during tokenization.
	StopWords []string

	// MinTokenLength is minimum token length to index (default: 2).
	MinTokenLength int
}

// DefaultBM25Config returns default full-text index configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		StopWords:      DefaultCodeStopWords,
		MinTokenLength: 2,
	}
}

// DefaultCodeStopWords contains programming keywords filtered from the
// full-text index so they don't dominate term matching.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}

// FTSIndex provides multi-field keyword search over indexed chunks.
type FTSIndex interface {
	// Index adds or replaces documents in the index. Staged until Commit.
	Index(ctx context.Context, docs []*Document) error

	// Search matches query against content/signature/string_literals
	// (disjunction across fields, conjunction between terms within a
	// field), returning (chunk_id, score) pairs ordered by score
	// descending.
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)

	// Delete removes documents by chunk ID.
	Delete(ctx context.Context, chunkIDs []string) error

	// DeleteByPath removes every document indexed under path.
	DeleteByPath(ctx context.Context, path string) error

	// Commit makes staged mutations visible to subsequent Search calls.
	Commit() error

	// AllIDs returns every chunk ID in the index, for consistency checks.
	AllIDs() ([]string, error)

	// Stats returns index statistics.
	Stats() *IndexStats

	Close() error
}

// FileMetaEntry is the per-path record in the file-metadata map: the last
// observed modification time, the content hash at that mtime, and the
// ordered chunk IDs produced from that content.
type FileMetaEntry struct {
	MtimeNS     int64
	ContentHash [32]byte
	ChunkIDs    []uint32
}

// FileMeta is the sole owner of path -> chunk_id mappings, persisted as a
// single gob-encoded file (filemeta.bin) alongside the dense store and the
// fts directory.
type FileMeta struct {
	ModelShortName string
	Dimensions     int
	Entries        map[string]*FileMetaEntry
}

// NewFileMeta returns an empty file-metadata map pinned to the given
// embedding model identity.
func NewFileMeta(modelShortName string, dimensions int) *FileMeta {
	return &FileMeta{
		ModelShortName: modelShortName,
		Dimensions:     dimensions,
		Entries:        make(map[string]*FileMetaEntry),
	}
}
