package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/demongrep/demongrep/internal/config"
	"github.com/demongrep/demongrep/internal/logging"
	"github.com/demongrep/demongrep/internal/project"
	"github.com/demongrep/demongrep/internal/ui"
)

func newIndexCmd() *cobra.Command {
	var (
		noTUI   bool
		resume  bool
		force   bool
		offline bool
		global  bool
		backend string
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a directory for searching",
		Long: `Index a directory to enable hybrid search over its contents.

This scans files, chunks code and documents, generates embeddings,
and builds both the full-text and vector indices for fast retrieval.

The index is incremental: an unchanged file is skipped on every run
after the first, so --resume is the default behavior, not a special
mode. Use --force to clear the existing database and rebuild from
scratch, for example after an embedding model change.

Backend Selection:
  (default)          DEMONGREP_EMBEDDER env var, defaulting to Ollama
  --backend=ollama   Use Ollama (cross-platform)
  --backend=mlx      Use MLX (Apple Silicon, ~1.7x faster)
  --backend=static    Use the offline hash-based fallback`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Set up signal handling for Ctrl+C - this ensures context cancellation
			// propagates properly so GPU operations stop when user interrupts
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			if force && resume {
				return fmt.Errorf("--force and --resume are mutually exclusive")
			}

			if backend != "" {
				os.Setenv("DEMONGREP_EMBEDDER", backend)
			}

			return runIndexWithResume(ctx, cmd, path, offline, noTUI, resume, force, global)
		},
	}

	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	cmd.Flags().BoolVar(&resume, "resume", false, "No-op: indexing is always incremental. Kept for compatibility")
	cmd.Flags().BoolVar(&force, "force", false, "Clear existing index and rebuild from scratch")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings (skip model download)")
	cmd.Flags().BoolVar(&global, "global", false, "Use the global ~/.demongrep project registry instead of a local database")
	cmd.Flags().StringVar(&backend, "backend", "", "Embedding backend: ollama (default), mlx, or static")

	return cmd
}

// runIndexWithResume clears the existing database first when force is set,
// otherwise delegates straight to runIndexWithOptions: the sync engine's
// file-metadata tracking already makes every run incremental, so resume is
// the default and only kept as a flag for command-line compatibility.
func runIndexWithResume(ctx context.Context, cmd *cobra.Command, path string, offline, noTUI, _ /* resume */, force, global bool) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}

	if force {
		dbDir, err := project.Resolve(root, global)
		if err != nil {
			return fmt.Errorf("resolve project database: %w", err)
		}
		if err := os.RemoveAll(dbDir); err != nil {
			return fmt.Errorf("failed to clear index data: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cleared existing index data, starting fresh...\n")
		slog.Info("index_force_clear", slog.String("data_dir", dbDir))
	}

	return runIndexWithOptions(ctx, cmd, path, offline, noTUI, global)
}

func runIndexWithOptions(ctx context.Context, cmd *cobra.Command, path string, offline, noTUI, global bool) error {
	// Initialize logging for CLI observability
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("failed to access path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", absPath)
	}

	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}

	uiCfg := ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(noTUI), ui.WithProjectDir(root))
	renderer := ui.NewRenderer(uiCfg)
	if err := renderer.Start(ctx); err != nil {
		slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
	}
	defer func() { _ = renderer.Stop() }()

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageScanning,
		Message: "Opening project database...",
	})

	stores, err := openProjectStores(ctx, root, openProjectStoresOptions{
		Offline: offline,
		Global:  global,
		Create:  true,
	})
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	syncEngine, err := newSyncEngine(stores, root, cfg)
	if err != nil {
		return fmt.Errorf("failed to create sync engine: %w", err)
	}

	renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageScanning,
		Message: "Scanning project...",
	})

	start := time.Now()
	stats, err := syncEngine.Run(ctx, root, false)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageIndexing,
		Message: fmt.Sprintf("Indexed %d files (%d chunks) in %.1fs", stats.FilesChanged, stats.ChunksInserted, time.Since(start).Seconds()),
	})

	if len(stats.Errors) > 0 {
		for _, indexErr := range stats.Errors {
			slog.Warn("indexing error", slog.String("error", indexErr.Error()))
		}
	}

	return nil
}
