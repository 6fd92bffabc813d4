package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/demongrep/demongrep/internal/chunk"
	"github.com/demongrep/demongrep/internal/config"
	"github.com/demongrep/demongrep/internal/embed"
	"github.com/demongrep/demongrep/internal/project"
	"github.com/demongrep/demongrep/internal/scanner"
	"github.com/demongrep/demongrep/internal/search"
	"github.com/demongrep/demongrep/internal/store"
	"github.com/demongrep/demongrep/internal/sync"
	"github.com/demongrep/demongrep/internal/telemetry"
)

// boltFileName is the bbolt database file holding chunks and dense vectors.
const boltFileName = "demongrep.bolt"

// ftsDirName is the bleve full-text index directory.
const ftsDirName = "fts"

// fileMetaFileName is the gob-encoded per-file change-tracking map.
const fileMetaFileName = "filemeta.bin"

// metadataFileName records which embedding model a database was built with.
const metadataFileName = "metadata.json"

// telemetryFileName is the SQLite database holding query telemetry.
const telemetryFileName = "telemetry.db"

// projectStores bundles every open handle a command needs against a single
// project's database directory. Close releases them in reverse-open order.
type projectStores struct {
	dbDir    string
	embedder embed.Embedder
	fileMeta *store.FileMeta
	fts      *store.BleveFTSIndex
	dense    *store.BoltDenseStore
	engine   *search.Engine
	metrics  *telemetry.SQLiteMetricsStore
}

func (p *projectStores) Close() error {
	var firstErr error
	var closers []func() error
	if p.metrics != nil {
		closers = append(closers, p.metrics.Close)
	}
	closers = append(closers, p.engine.Close, p.fts.Close, p.dense.Close)
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.embedder != nil {
		if err := p.embedder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// openProjectStoresOptions configures openProjectStores.
type openProjectStoresOptions struct {
	// Offline forces the static fallback embedder, skipping model downloads.
	Offline bool
	// Global opens the project's database under ~/.demongrep/stores/<hash>
	// instead of the local <root>/.demongrep.db directory.
	Global bool
	// Create creates the database directory and a fresh metadata.json when
	// one doesn't exist yet. When false, a missing database is an error.
	Create bool
}

// openProjectStoresDBDir resolves a project's database directory without
// opening any of its stores, for callers that only need the path (e.g. to
// check existence before a fuller open).
func openProjectStoresDBDir(root string, global bool) (string, error) {
	return project.Resolve(root, global)
}

// openProjectStores resolves a project's database directory and opens its
// dense store, full-text index, file-metadata map, and embedder, wiring them
// into a search engine. Callers must defer Close on the returned value.
func openProjectStores(ctx context.Context, root string, opts openProjectStoresOptions) (*projectStores, error) {
	dbDir, err := project.Resolve(root, opts.Global)
	if err != nil {
		return nil, fmt.Errorf("resolve project database: %w", err)
	}

	if _, err := os.Stat(dbDir); os.IsNotExist(err) {
		if !opts.Create {
			return nil, fmt.Errorf("no index found at %s: run 'demongrep index' first", dbDir)
		}
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	metaPath := filepath.Join(dbDir, metadataFileName)
	dbMeta, err := store.LoadDatabaseMetadata(metaPath)
	if err != nil {
		return nil, err
	}

	embedder, err := newProjectEmbedder(ctx, opts.Offline, dbMeta)
	if err != nil {
		return nil, err
	}

	dimensions := embedder.Dimensions()

	if dbMeta == nil {
		dbMeta = &store.DatabaseMetadata{
			ModelShortName: embedder.ModelName(),
			ModelName:      embedder.ModelName(),
			Dimensions:     dimensions,
			IndexedAt:      time.Now(),
		}
		if err := dbMeta.Save(metaPath); err != nil {
			_ = embedder.Close()
			return nil, fmt.Errorf("save database metadata: %w", err)
		}
	}

	fileMeta, err := store.LoadFileMeta(filepath.Join(dbDir, fileMetaFileName), dbMeta.ModelShortName, dbMeta.Dimensions)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("load file metadata: %w", err)
	}

	dense, err := store.NewBoltDenseStore(filepath.Join(dbDir, boltFileName), store.DefaultVectorStoreConfig(dbMeta.Dimensions))
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("open dense store: %w", err)
	}

	fts, err := store.NewBleveFTSIndex(filepath.Join(dbDir, ftsDirName), store.DefaultBM25Config())
	if err != nil {
		_ = dense.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("open full-text index: %w", err)
	}

	engine, err := search.NewEngine(fts, dense, embedder, fileMeta, search.DefaultConfig())
	if err != nil {
		_ = fts.Close()
		_ = dense.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("create search engine: %w", err)
	}

	metrics, err := telemetry.OpenSQLiteMetricsStore(filepath.Join(dbDir, telemetryFileName))
	if err != nil {
		_ = engine.Close()
		_ = fts.Close()
		_ = dense.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("open telemetry store: %w", err)
	}

	return &projectStores{
		dbDir:    dbDir,
		embedder: embedder,
		fileMeta: fileMeta,
		fts:      fts,
		dense:    dense,
		engine:   engine,
		metrics:  metrics,
	}, nil
}

// newProjectEmbedder picks the embedder for a project: offline always uses
// the static fallback; an existing database built with the static embedder
// keeps it; every other case uses the provider named by DEMONGREP_EMBEDDER.
func newProjectEmbedder(ctx context.Context, offline bool, dbMeta *store.DatabaseMetadata) (embed.Embedder, error) {
	if offline {
		return embed.NewStaticEmbedder768(), nil
	}
	if dbMeta != nil && dbMeta.ModelShortName == "static" {
		return embed.NewStaticEmbedder768(), nil
	}

	provider := embed.ParseProvider(os.Getenv("DEMONGREP_EMBEDDER"))
	embedCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	embedder, err := embed.NewEmbedder(embedCtx, provider, "")
	if err != nil {
		return nil, fmt.Errorf("embedder initialization failed: %w", err)
	}
	return embedder, nil
}

// newSyncEngine builds the scan-chunk-embed-index orchestrator for root,
// backed by the given project stores and scan configuration.
func newSyncEngine(stores *projectStores, root string, cfg *config.Config) (*sync.Engine, error) {
	sc, err := scanner.New()
	if err != nil {
		return nil, fmt.Errorf("create scanner: %w", err)
	}

	chunker := chunk.NewCodeChunkerWithOptions(chunk.CodeChunkerOptions{
		MaxChunkLines: cfg.Chunker.MaxLines,
		MaxChunkBytes: cfg.Chunker.MaxBytes,
		OverlapLines:  cfg.Chunker.OverlapLines,
		ContextWindow: cfg.Chunker.ContextLines,
	})

	scanOpts := scanner.ScanOptions{
		RootDir:          root,
		IncludePatterns:  cfg.Paths.Include,
		ExcludePatterns:  cfg.Paths.Exclude,
		RespectGitignore: true,
		Submodules:       &cfg.Submodules,
	}

	return sync.New(sc, chunker, stores.engine, stores.fileMeta, scanOpts), nil
}
