package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/demongrep/demongrep/internal/config"
	"github.com/demongrep/demongrep/internal/scanner"
	"github.com/demongrep/demongrep/internal/store"
)

// DebugInfo summarizes a project's index state for troubleshooting.
type DebugInfo struct {
	ProjectRoot      string             `json:"project_root"`
	IndexPath        string             `json:"index_path"`
	FileCount        int                `json:"file_count"`
	ChunkCount       int                `json:"chunk_count"`
	Languages        map[string]float64 `json:"languages"`
	EmbedderProvider string             `json:"embedder_provider"`
	EmbedderModel    string             `json:"embedder_model"`
	Dimensions       int                `json:"dimensions"`
	IndexedAt        time.Time          `json:"indexed_at"`
	FTSDocumentCount int                `json:"fts_document_count"`
}

func newDebugCmd() *cobra.Command {
	var jsonOutput bool
	var global bool

	cmd := &cobra.Command{
		Use:   "debug [path]",
		Short: "Print detailed index diagnostics",
		Long: `Print a detailed breakdown of a project's index: file and chunk
counts, language distribution, embedder configuration, and storage layout.
Intended for troubleshooting search quality or indexing issues.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			dbDir, err := resolveDebugDBDir(root, global)
			if err != nil {
				return err
			}
			if _, statErr := os.Stat(dbDir); os.IsNotExist(statErr) {
				return fmt.Errorf("no index found at %s: run 'demongrep index' first", dbDir)
			}

			info, err := collectDebugInfo(cmd.Context(), root, dbDir)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			return renderDebugInfo(cmd, info)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&global, "global", false, "Look up the global ~/.demongrep database instead of the local one")

	return cmd
}

func resolveDebugDBDir(root string, global bool) (string, error) {
	return openProjectStoresDBDir(root, global)
}

func collectDebugInfo(ctx context.Context, root, dbDir string) (*DebugInfo, error) {
	dbMeta, err := store.LoadDatabaseMetadata(filepath.Join(dbDir, metadataFileName))
	if err != nil {
		return nil, err
	}
	if dbMeta == nil {
		dbMeta = &store.DatabaseMetadata{}
	}

	fileMeta, err := store.LoadFileMeta(filepath.Join(dbDir, fileMetaFileName), dbMeta.ModelShortName, dbMeta.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("load file metadata: %w", err)
	}

	dense, err := store.NewBoltDenseStore(filepath.Join(dbDir, boltFileName), store.DefaultVectorStoreConfig(dbMeta.Dimensions))
	if err != nil {
		return nil, fmt.Errorf("open dense store: %w", err)
	}
	defer func() { _ = dense.Close() }()

	fts, err := store.NewBleveFTSIndex(filepath.Join(dbDir, ftsDirName), store.DefaultBM25Config())
	if err != nil {
		return nil, fmt.Errorf("open full-text index: %w", err)
	}
	defer func() { _ = fts.Close() }()

	denseStats, err := dense.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("dense stats: %w", err)
	}
	ftsStats := fts.Stats()

	paths := fileMeta.Paths()
	languages := languageBreakdown(paths)

	return &DebugInfo{
		ProjectRoot:      root,
		IndexPath:        dbDir,
		FileCount:        len(paths),
		ChunkCount:       denseStats.ChunkCount,
		Languages:        languages,
		EmbedderProvider: providerForModel(dbMeta.ModelShortName),
		EmbedderModel:    dbMeta.ModelName,
		Dimensions:       dbMeta.Dimensions,
		IndexedAt:        dbMeta.IndexedAt,
		FTSDocumentCount: ftsStats.DocumentCount,
	}, nil
}

func providerForModel(modelShortName string) string {
	if modelShortName == "static" || modelShortName == "" {
		return "static"
	}
	return "hugot"
}

// languageBreakdown returns, for each detected language, the fraction of
// paths written in it.
func languageBreakdown(paths []string) map[string]float64 {
	counts := make(map[string]int)
	for _, p := range paths {
		lang := scanner.DetectLanguage(p)
		if lang == "" {
			lang = "unknown"
		}
		counts[normalizeExtension(lang)]++
	}
	result := make(map[string]float64, len(counts))
	if len(paths) == 0 {
		return result
	}
	for lang, n := range counts {
		result[lang] = float64(n) / float64(len(paths))
	}
	return result
}

func renderDebugInfo(cmd *cobra.Command, info *DebugInfo) error {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "DemonGrep Debug Info")
	fmt.Fprintln(out, strings.Repeat("=", 40))
	fmt.Fprintf(out, "Project Root: %s\n", info.ProjectRoot)
	fmt.Fprintf(out, "Index Path:   %s\n", info.IndexPath)
	fmt.Fprintf(out, "Indexed:      %s\n\n", formatAge(info.IndexedAt))

	fmt.Fprintln(out, "FILES & CHUNKS")
	fmt.Fprintf(out, "  Files:  %s\n", formatNumber(info.FileCount))
	fmt.Fprintf(out, "  Chunks: %s\n", formatNumber(info.ChunkCount))
	fmt.Fprintf(out, "  Languages: %s\n\n", formatLanguages(info.Languages))

	fmt.Fprintln(out, "EMBEDDER")
	fmt.Fprintf(out, "  Provider:   %s\n", info.EmbedderProvider)
	fmt.Fprintf(out, "  Model:      %s\n", info.EmbedderModel)
	fmt.Fprintf(out, "  Dimensions: %d\n\n", info.Dimensions)

	fmt.Fprintln(out, "BM25 INDEX")
	fmt.Fprintf(out, "  Documents: %s\n\n", formatNumber(info.FTSDocumentCount))

	fmt.Fprintln(out, "VECTOR STORE")
	fmt.Fprintf(out, "  Vectors: %s\n\n", formatNumber(info.ChunkCount))

	fmt.Fprintln(out, "STORAGE")
	fmt.Fprintf(out, "  %s\n", info.IndexPath)

	return nil
}

// formatAge renders a timestamp as a human-relative age string.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < 2*time.Minute:
		return "1 minute ago"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	case d < 2*time.Hour:
		return "1 hour ago"
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	case d < 48*time.Hour:
		return "1 day ago"
	default:
		return fmt.Sprintf("%d days ago", int(d.Hours()/24))
	}
}

// formatNumber renders an integer with thousands separators.
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	result := strings.Join(parts, ",")
	if neg {
		result = "-" + result
	}
	return result
}

// formatLanguages renders a language-share map as "lang (pct%), ..." sorted
// by descending share.
func formatLanguages(langs map[string]float64) string {
	if len(langs) == 0 {
		return "none"
	}
	type entry struct {
		lang string
		pct  float64
	}
	entries := make([]entry, 0, len(langs))
	for lang, pct := range langs {
		entries = append(entries, entry{lang, pct})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].pct != entries[j].pct {
			return entries[i].pct > entries[j].pct
		}
		return entries[i].lang < entries[j].lang
	})
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%s (%d%%)", e.lang, int(e.pct*100))
	}
	return strings.Join(parts, ", ")
}

// normalizeExtension collapses aliased language/extension names to a single
// canonical form (e.g. "tsx" and "jsx" fold into "ts"/"js").
func normalizeExtension(ext string) string {
	switch ext {
	case "tsx":
		return "ts"
	case "jsx", "mjs":
		return "js"
	case "yml":
		return "yaml"
	case "htm":
		return "html"
	default:
		return ext
	}
}
