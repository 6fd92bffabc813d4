package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/demongrep/demongrep/internal/search"
	"github.com/demongrep/demongrep/internal/store"
)

func strPtr(s string) *string { return &s }

func TestFormatSearchResults_Basic(t *testing.T) {
	results := []*search.SearchResult{
		{
			Chunk: &store.ChunkRecord{
				Path:      "internal/auth/handler.go",
				StartLine: 42,
				EndLine:   78,
				Content:   "func AuthMiddleware() {}",
				Kind:      "function",
				Context:   []string{"File: internal/auth/handler.go", "AuthMiddleware"},
				Signature: strPtr("func AuthMiddleware()"),
			},
			Score: 0.95,
		},
	}

	markdown := FormatSearchResults("authentication", results)

	assert.Contains(t, markdown, "## Search Results")
	assert.Contains(t, markdown, `"authentication"`)
	assert.Contains(t, markdown, "Found 1 result")
	assert.Contains(t, markdown, "internal/auth/handler.go:42-78")
	assert.Contains(t, markdown, "score: 0.95")
	assert.Contains(t, markdown, "```go")
	assert.Contains(t, markdown, "AuthMiddleware")
}

func TestFormatSearchResults_MultipleResults(t *testing.T) {
	results := []*search.SearchResult{
		{
			Chunk: &store.ChunkRecord{
				Path:      "file1.go",
				StartLine: 10,
				EndLine:   20,
				Content:   "func First() {}",
			},
			Score: 0.9,
		},
		{
			Chunk: &store.ChunkRecord{
				Path:      "file2.go",
				StartLine: 30,
				EndLine:   40,
				Content:   "func Second() {}",
			},
			Score: 0.8,
		},
	}

	markdown := FormatSearchResults("query", results)

	assert.Contains(t, markdown, "Found 2 results")
	assert.Contains(t, markdown, "file1.go:10-20")
	assert.Contains(t, markdown, "file2.go:30-40")
}

func TestFormatSearchResults_NoResults(t *testing.T) {
	markdown := FormatSearchResults("nothing", nil)
	assert.Contains(t, markdown, "No results found")
	assert.Contains(t, markdown, `"nothing"`)
}

func TestFormatSearchResults_NilChunksFiltered(t *testing.T) {
	results := []*search.SearchResult{
		{Chunk: nil, Score: 0.5},
		{Chunk: &store.ChunkRecord{Path: "real.go", Content: "package main"}, Score: 0.9},
	}

	markdown := FormatSearchResults("test", results)
	assert.Contains(t, markdown, "Found 1 result")
	assert.Contains(t, markdown, "real.go")
}

func TestFormatCodeResults_WithLanguageFilter(t *testing.T) {
	results := []*search.SearchResult{
		{Chunk: &store.ChunkRecord{Path: "main.go", Content: "func main() {}"}, Score: 0.9},
	}

	markdown := FormatCodeResults("main", results, "go")
	assert.Contains(t, markdown, "Language filter: `go`")
	assert.Contains(t, markdown, "## Code Search Results")
}

func TestFormatCodeResults_NoResultsWithFilter(t *testing.T) {
	markdown := FormatCodeResults("nothing", nil, "rust")
	assert.Contains(t, markdown, "in rust files")
}

func TestFormatDocsResults_MarkdownPassthrough(t *testing.T) {
	results := []*search.SearchResult{
		{Chunk: &store.ChunkRecord{Path: "README.md", Content: "# Title\n\nBody text"}, Score: 0.85},
	}

	markdown := FormatDocsResults("title", results)
	assert.Contains(t, markdown, "# Title")
	assert.NotContains(t, markdown, "```\n# Title")
}

func TestFormatDocsResults_NonMarkdownWrapped(t *testing.T) {
	results := []*search.SearchResult{
		{Chunk: &store.ChunkRecord{Path: "notes.txt", Content: "plain text"}, Score: 0.6},
	}

	markdown := FormatDocsResults("notes", results)
	assert.True(t, strings.Contains(markdown, "```\nplain text\n```"))
}

func TestToSearchResultOutput_PopulatesFields(t *testing.T) {
	r := &search.SearchResult{
		Chunk: &store.ChunkRecord{
			Path:      "pkg/foo.go",
			Content:   "func Foo() {}",
			Kind:      "function",
			Context:   []string{"File: pkg/foo.go", "Foo"},
			Signature: strPtr("func Foo()"),
		},
		Score:        0.77,
		MatchedTerms: []string{"foo"},
		InBothLists:  true,
	}

	output := ToSearchResultOutput(r)
	assert.Equal(t, "pkg/foo.go", output.FilePath)
	assert.Equal(t, "go", output.Language)
	assert.Equal(t, "function", output.SymbolType)
	assert.Equal(t, "Foo", output.Symbol)
	assert.Equal(t, "func Foo()", output.Signature)
	assert.Contains(t, output.MatchReason, "found in both keyword and semantic search")
}

func TestToSearchResultOutput_NilChunk(t *testing.T) {
	output := ToSearchResultOutput(&search.SearchResult{})
	assert.Equal(t, SearchResultOutput{}, output)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 10, clampLimit(0, 10, 1, 50))
	assert.Equal(t, 10, clampLimit(-5, 10, 1, 50))
	assert.Equal(t, 50, clampLimit(1000, 10, 1, 50))
	assert.Equal(t, 25, clampLimit(25, 10, 1, 50))
}
