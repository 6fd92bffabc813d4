package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/demongrep/demongrep/internal/async"
	"github.com/demongrep/demongrep/internal/config"
	"github.com/demongrep/demongrep/internal/mcp"
	"github.com/demongrep/demongrep/internal/sync"
	"github.com/demongrep/demongrep/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var (
		transport string
		addr      string
		offline   bool
		global    bool
		session   string
		debug     bool
	)

	cmd := &cobra.Command{
		Use:   "serve [path]",
		Short: "Start the MCP server",
		Long: `Start the MCP (Model Context Protocol) server, exposing search_code,
search_docs, search, and index_status tools over stdio for AI coding
assistants such as Claude Code and Cursor.

MCP requires stdout to carry only JSON-RPC frames, so all diagnostic
output during serve goes to the debug log file, never stdout.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				debugMode = true
			}

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			absPath, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("failed to resolve path: %w", err)
			}
			root, err := config.FindProjectRoot(absPath)
			if err != nil {
				root = absPath
			}

			if transport == "stdio" {
				if err := verifyStdinForMCP(); err != nil {
					slog.Warn("stdin check failed", slog.String("error", err.Error()))
				}
			}

			_ = session // reserved for future session-scoped telemetry tagging

			return runServeWithOptions(cmd.Context(), root, transport, addr, offline, global)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport protocol: stdio (default) or sse")
	cmd.Flags().StringVar(&addr, "addr", "", "Address to bind for network transports")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings (skip model download)")
	cmd.Flags().BoolVar(&global, "global", false, "Use the global ~/.demongrep project registry instead of a local database")
	cmd.Flags().StringVar(&session, "session", "", "Session identifier for telemetry correlation")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging to ~/.demongrep/logs/")

	return cmd
}

// runServe starts the MCP server against the current directory's project
// root on the given transport, using the default (non-offline, local)
// database resolution.
func runServe(ctx context.Context, transport string, _ int) error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}
	return runServeWithOptions(ctx, root, transport, "", false, false)
}

func runServeWithOptions(ctx context.Context, root, transport, addr string, offline, global bool) error {
	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	stores, err := openProjectStores(ctx, root, openProjectStoresOptions{
		Offline: offline,
		Global:  global,
		Create:  true,
	})
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	srv, err := mcp.NewServer(stores.engine, stores.fileMeta, stores.embedder, cfg, root)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer func() { _ = srv.Close() }()

	if err := srv.RegisterResources(ctx); err != nil {
		slog.Warn("failed to register resources", slog.String("error", err.Error()))
	}

	metrics := telemetry.NewQueryMetrics(stores.metrics)
	srv.SetMetrics(metrics)
	defer func() { _ = metrics.Close() }()

	progress := async.NewIndexProgress()
	srv.SetIndexProgress(progress)

	syncEngine, err := newSyncEngine(stores, root, cfg)
	if err != nil {
		return fmt.Errorf("failed to create sync engine: %w", err)
	}

	debounce, err := time.ParseDuration(cfg.Performance.WatchDebounce)
	if err != nil || debounce <= 0 {
		debounce = 300 * time.Millisecond
	}

	// The initial sync and the background watcher both run detached from
	// the server's startup: MCP requires a fast handshake, so indexing
	// catches up concurrently instead of blocking Serve.
	go func() {
		err := syncEngine.Watch(ctx, root, debounce, func(stats *sync.Stats, runErr error) {
			if runErr != nil {
				progress.SetError(runErr.Error())
				slog.Warn("sync run failed", slog.String("error", runErr.Error()))
				return
			}
			progress.SetReady()
			if stats != nil {
				slog.Debug("sync run complete",
					slog.Int("files_changed", stats.FilesChanged),
					slog.Int("chunks_inserted", stats.ChunksInserted))
			}
		})
		if err != nil && err != context.Canceled {
			slog.Error("file watcher stopped", slog.String("error", err.Error()))
		}
	}()

	return srv.Serve(ctx, transport, addr)
}

// verifyStdinForMCP checks that stdin is a pipe, not an interactive
// terminal, since MCP clients always connect via pipe and a terminal
// session would otherwise hang silently waiting for JSON-RPC frames.
func verifyStdinForMCP() error {
	info, err := os.Stdin.Stat()
	if err != nil {
		return fmt.Errorf("stdin check failed: %w", err)
	}
	if (info.Mode() & os.ModeCharDevice) != 0 {
		return fmt.Errorf("stdin is a terminal, not a pipe: MCP clients must connect via stdio pipe")
	}
	return nil
}
