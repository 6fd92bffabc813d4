package mcp

import (
	"fmt"
	"strings"

	"github.com/demongrep/demongrep/internal/scanner"
	"github.com/demongrep/demongrep/internal/search"
)

// FormatSearchResults formats generic search results as markdown.
func FormatSearchResults(query string, results []*search.SearchResult) string {
	validResults := filterValidResults(results)

	if len(validResults) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Search Results for \"%s\"\n\n", query))
	sb.WriteString(fmt.Sprintf("Found %d result", len(validResults)))
	if len(validResults) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range validResults {
		formatResult(&sb, i+1, r)
	}

	return sb.String()
}

// FormatCodeResults formats code-specific results with syntax highlighting.
func FormatCodeResults(query string, results []*search.SearchResult, langFilter string) string {
	validResults := filterValidResults(results)

	if len(validResults) == 0 {
		msg := fmt.Sprintf("No code results found for \"%s\"", query)
		if langFilter != "" {
			msg += fmt.Sprintf(" in %s files", langFilter)
		}
		return msg
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Code Search Results for \"%s\"\n\n", query))
	if langFilter != "" {
		sb.WriteString(fmt.Sprintf("Language filter: `%s`\n\n", langFilter))
	}
	sb.WriteString(fmt.Sprintf("Found %d result", len(validResults)))
	if len(validResults) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range validResults {
		formatResult(&sb, i+1, r)
	}

	return sb.String()
}

// FormatDocsResults formats documentation results preserving section hierarchy.
func FormatDocsResults(query string, results []*search.SearchResult) string {
	validResults := filterValidResults(results)

	if len(validResults) == 0 {
		return fmt.Sprintf("No documentation found for \"%s\"", query)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Documentation Results for \"%s\"\n\n", query))
	sb.WriteString(fmt.Sprintf("Found %d result", len(validResults)))
	if len(validResults) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range validResults {
		formatDocsResult(&sb, i+1, r)
	}

	return sb.String()
}

// filterByLanguageAndKind narrows results to a detected language and/or
// chunk kind. Empty arguments skip the corresponding check. The store has
// no indexed language or kind column, so this is applied to the results a
// query already returned rather than pushed into the search itself.
func filterByLanguageAndKind(results []*search.SearchResult, language, kind string) []*search.SearchResult {
	if language == "" && kind == "" {
		return results
	}
	filtered := make([]*search.SearchResult, 0, len(results))
	for _, r := range results {
		if r == nil || r.Chunk == nil {
			continue
		}
		if language != "" && scanner.DetectLanguage(r.Chunk.Path) != language {
			continue
		}
		if kind != "" && r.Chunk.Kind != kind {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

// filterByContentType narrows results to files scanner would classify as
// the given content type, e.g. ContentTypeMarkdown for documentation search.
func filterByContentType(results []*search.SearchResult, want scanner.ContentType) []*search.SearchResult {
	filtered := make([]*search.SearchResult, 0, len(results))
	for _, r := range results {
		if r == nil || r.Chunk == nil {
			continue
		}
		lang := scanner.DetectLanguage(r.Chunk.Path)
		if scanner.DetectContentType(lang) == want {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// filterValidResults removes results with nil chunks.
func filterValidResults(results []*search.SearchResult) []*search.SearchResult {
	valid := make([]*search.SearchResult, 0, len(results))
	for _, r := range results {
		if r != nil && r.Chunk != nil {
			valid = append(valid, r)
		}
	}
	return valid
}

// formatResult formats a single generic result.
func formatResult(sb *strings.Builder, num int, r *search.SearchResult) {
	if r.Chunk == nil {
		return
	}

	fmt.Fprintf(sb, "### %d. %s:%d-%d (score: %.2f)\n",
		num,
		r.Chunk.Path,
		r.Chunk.StartLine,
		r.Chunk.EndLine,
		r.Score,
	)

	if r.Chunk.Signature != nil && *r.Chunk.Signature != "" {
		fmt.Fprintf(sb, "**Signature:** `%s`\n\n", *r.Chunk.Signature)
	} else if len(r.Chunk.Context) > 0 {
		fmt.Fprintf(sb, "**Context:** %s\n\n", strings.Join(r.Chunk.Context, " > "))
	}

	lang := scanner.DetectLanguage(r.Chunk.Path)
	if lang == "" {
		lang = "text"
	}
	fmt.Fprintf(sb, "```%s\n%s\n```\n\n", lang, r.Chunk.Content)
}

// formatDocsResult formats a documentation result preserving structure.
func formatDocsResult(sb *strings.Builder, num int, r *search.SearchResult) {
	if r.Chunk == nil {
		return
	}

	fmt.Fprintf(sb, "### %d. %s (score: %.2f)\n\n",
		num,
		r.Chunk.Path,
		r.Score,
	)

	lang := scanner.DetectLanguage(r.Chunk.Path)
	if lang == "markdown" {
		sb.WriteString(r.Chunk.Content)
		sb.WriteString("\n\n---\n\n")
	} else {
		fmt.Fprintf(sb, "```\n%s\n```\n\n", r.Chunk.Content)
	}
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, min, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}

// ToSearchResultOutput converts a search result to the enhanced output format.
func ToSearchResultOutput(r *search.SearchResult) SearchResultOutput {
	if r == nil || r.Chunk == nil {
		return SearchResultOutput{}
	}

	output := SearchResultOutput{
		FilePath:     r.Chunk.Path,
		Content:      r.Chunk.Content,
		Score:        r.Score,
		Language:     scanner.DetectLanguage(r.Chunk.Path),
		MatchedTerms: r.MatchedTerms,
		InBothLists:  r.InBothLists,
	}

	if r.Chunk.Signature != nil {
		output.Signature = *r.Chunk.Signature
	}
	if len(r.Chunk.Context) > 1 {
		output.Symbol = r.Chunk.Context[len(r.Chunk.Context)-1]
	}
	output.SymbolType = r.Chunk.Kind

	output.MatchReason = generateMatchReason(r)

	return output
}

// generateMatchReason creates a human-readable explanation of why a result matched.
func generateMatchReason(r *search.SearchResult) string {
	if r == nil || r.Chunk == nil {
		return ""
	}

	var parts []string

	if len(r.Chunk.Context) > 1 {
		parts = append(parts, fmt.Sprintf("%s '%s'", r.Chunk.Kind, r.Chunk.Context[len(r.Chunk.Context)-1]))
	}
	if r.Chunk.Docstring != nil && *r.Chunk.Docstring != "" {
		docLine := *r.Chunk.Docstring
		if idx := strings.Index(docLine, "\n"); idx > 0 {
			docLine = docLine[:idx]
		}
		if len(docLine) > 50 {
			docLine = docLine[:47] + "..."
		}
		parts = append(parts, fmt.Sprintf("documented as: %s", docLine))
	}

	if len(r.MatchedTerms) > 0 {
		terms := r.MatchedTerms
		if len(terms) > 5 {
			terms = terms[:5]
		}
		parts = append(parts, fmt.Sprintf("matched: %s", strings.Join(terms, ", ")))
	}

	if r.InBothLists {
		parts = append(parts, "found in both keyword and semantic search")
	}

	if len(parts) == 0 {
		return "matched content"
	}

	return strings.Join(parts, "; ")
}
