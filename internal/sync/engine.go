// Package sync walks a project directory, chunks the files that changed
// since the last run, and brings the dense, full-text, and file-metadata
// stores up to date in a single batch.
//
// A run proceeds in three stages: discover every indexable file via
// internal/scanner, chunk and stage the ones whose mtime or content hash
// moved since the last recorded FileMeta entry, then stage deletions for
// both files removed from the filesystem and files whose prior chunks no
// longer exist in the new chunking. Only after every file has been staged
// does Run call Finalize once, so a thousand-file project costs one HNSW
// rebuild and one bleve commit, not one per file.
package sync

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"

	"github.com/demongrep/demongrep/internal/chunk"
	"github.com/demongrep/demongrep/internal/scanner"
	"github.com/demongrep/demongrep/internal/search"
	"github.com/demongrep/demongrep/internal/store"
)

// Stats summarizes one Run.
type Stats struct {
	FilesScanned  int
	FilesChanged  int
	FilesUnchanged int
	FilesDeleted  int
	ChunksInserted int
	ChunksDeleted  int
	Errors        []error
}

// Engine orchestrates a scan-chunk-embed-index pass over a project
// directory, keeping the dense store, full-text index, and file-metadata
// map consistent with the filesystem.
type Engine struct {
	Scanner      *scanner.Scanner
	Chunker      chunk.Chunker
	SearchEngine *search.Engine
	FileMeta     *store.FileMeta

	// ScanOptions controls which files Run considers; RootDir is
	// overridden per-call by Run's root argument.
	ScanOptions scanner.ScanOptions
}

// New builds an Engine. fileMeta must be the same instance passed to
// searchEngine's constructor, since both read and mutate it: search uses it
// to look up adjacent chunks, sync uses it to detect changed and vanished
// files. It is mutated in place as files are synced; callers are
// responsible for persisting it (Save) after Run returns.
func New(sc *scanner.Scanner, chunker chunk.Chunker, searchEngine *search.Engine, fileMeta *store.FileMeta, scanOpts scanner.ScanOptions) *Engine {
	return &Engine{
		Scanner:      sc,
		Chunker:      chunker,
		SearchEngine: searchEngine,
		FileMeta:     fileMeta,
		ScanOptions:  scanOpts,
	}
}

// Run walks root, chunks and indexes every changed file, deletes chunks for
// files that vanished from the filesystem, and calls Finalize exactly once
// at the end. force bypasses the mtime/hash skip so every file is
// re-chunked and re-embedded regardless of FileMeta state.
func (e *Engine) Run(ctx context.Context, root string, force bool) (*Stats, error) {
	opts := e.ScanOptions
	opts.RootDir = root

	results, err := e.Scanner.Scan(ctx, &opts)
	if err != nil {
		return nil, fmt.Errorf("sync: scan %s: %w", root, err)
	}

	stats := &Stats{}
	seen := make(map[string]struct{})

	for res := range results {
		if res.Error != nil {
			stats.Errors = append(stats.Errors, res.Error)
			continue
		}
		if res.File.ContentType != scanner.ContentTypeCode {
			continue
		}

		stats.FilesScanned++
		seen[res.File.Path] = struct{}{}

		changed, content, mtimeNS, contentHash, err := e.checkChanged(res.File, force)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Errorf("sync: read %s: %w", res.File.Path, err))
			continue
		}
		if !changed {
			stats.FilesUnchanged++
			continue
		}
		stats.FilesChanged++

		if err := e.stageFile(ctx, res.File, content, mtimeNS, contentHash, stats); err != nil {
			stats.Errors = append(stats.Errors, err)
			continue
		}
	}

	if err := e.stageVanished(ctx, seen, stats); err != nil {
		stats.Errors = append(stats.Errors, err)
	}

	if stats.ChunksInserted > 0 || stats.ChunksDeleted > 0 || stats.FilesDeleted > 0 {
		if err := e.SearchEngine.Finalize(ctx); err != nil {
			return stats, fmt.Errorf("sync: finalize: %w", err)
		}
	}

	return stats, nil
}

// checkChanged reads path's content and reports whether it differs from
// FileMeta's recorded mtime/hash for that path.
func (e *Engine) checkChanged(file *scanner.FileInfo, force bool) (changed bool, content []byte, mtimeNS int64, hash [32]byte, err error) {
	content, err = os.ReadFile(file.AbsPath)
	if err != nil {
		return false, nil, 0, [32]byte{}, err
	}
	mtimeNS = file.ModTime.UnixNano()
	hash = sha256.Sum256(content)
	if force {
		return true, content, mtimeNS, hash, nil
	}
	if e.FileMeta.Unchanged(file.Path, mtimeNS, hash) {
		return false, content, mtimeNS, hash, nil
	}
	return true, content, mtimeNS, hash, nil
}

// stageFile chunks one changed file, deletes its prior chunks, stages the
// new ones, and updates its FileMeta entry. Deletion happens before
// insertion so a file that shrinks to zero chunks doesn't leave orphans.
func (e *Engine) stageFile(ctx context.Context, file *scanner.FileInfo, content []byte, mtimeNS int64, contentHash [32]byte, stats *Stats) error {
	chunks, err := e.Chunker.Chunk(ctx, &chunk.FileInput{
		Path:     file.Path,
		Content:  content,
		Language: file.Language,
	})
	if err != nil {
		return fmt.Errorf("chunk %s: %w", file.Path, err)
	}

	if prior, ok := e.FileMeta.Get(file.Path); ok && len(prior.ChunkIDs) > 0 {
		if err := e.SearchEngine.StageDelete(ctx, prior.ChunkIDs); err != nil {
			return fmt.Errorf("stage delete for %s: %w", file.Path, err)
		}
		stats.ChunksDeleted += len(prior.ChunkIDs)
	}

	if len(chunks) == 0 {
		e.FileMeta.Set(file.Path, &store.FileMetaEntry{MtimeNS: mtimeNS, ContentHash: contentHash})
		return nil
	}

	records := make([]*store.ChunkRecord, len(chunks))
	for i, c := range chunks {
		records[i] = toChunkRecord(c)
	}

	if err := e.SearchEngine.StageChunks(ctx, records); err != nil {
		return fmt.Errorf("stage insert for %s: %w", file.Path, err)
	}

	ids := make([]uint32, len(records))
	for i, r := range records {
		ids[i] = r.ChunkID
	}
	stats.ChunksInserted += len(ids)

	e.FileMeta.Set(file.Path, &store.FileMetaEntry{
		MtimeNS:     mtimeNS,
		ContentHash: contentHash,
		ChunkIDs:    ids,
	})
	return nil
}

// stageVanished deletes chunks for every FileMeta path absent from seen,
// the set of paths this scan actually observed.
func (e *Engine) stageVanished(ctx context.Context, seen map[string]struct{}, stats *Stats) error {
	for _, path := range e.FileMeta.Paths() {
		if _, ok := seen[path]; ok {
			continue
		}
		chunkIDs := e.FileMeta.Delete(path)
		if len(chunkIDs) == 0 {
			continue
		}
		if err := e.SearchEngine.StageDelete(ctx, chunkIDs); err != nil {
			return fmt.Errorf("sync: stage delete vanished file %s: %w", path, err)
		}
		stats.ChunksDeleted += len(chunkIDs)
		stats.FilesDeleted++
		slog.Debug("sync: file removed", slog.String("path", path))
	}
	return nil
}

// toChunkRecord converts a chunk.Chunk into the store's persisted form.
// ChunkID is left zero; StageInsert assigns it.
func toChunkRecord(c *chunk.Chunk) *store.ChunkRecord {
	return &store.ChunkRecord{
		Path:           c.Path,
		Content:        c.Content,
		StartLine:      c.StartLine,
		EndLine:        c.EndLine,
		Kind:           c.Kind.String(),
		Context:        c.Context,
		Signature:      c.Signature,
		Docstring:      c.Docstring,
		ContextPrev:    c.ContextPrev,
		ContextNext:    c.ContextNext,
		StringLiterals: c.StringLiterals,
		IsComplete:     c.IsComplete,
		SplitIndex:     c.SplitIndex,
		Hash:           c.Hash,
	}
}
