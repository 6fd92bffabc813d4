package chunk

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Size defaults for the AST-aware chunker.
const (
	DefaultMaxChunkLines = 120
	DefaultMaxChunkBytes = 2000
	DefaultOverlapLines  = 15
)

// CodeChunkerOptions configures the code chunker behavior.
type CodeChunkerOptions struct {
	MaxChunkLines int // maximum lines per chunk before splitting
	MaxChunkBytes int // maximum content size in bytes before splitting
	OverlapLines  int // overlap between split windows
	ContextWindow int // lines of ContextPrev/ContextNext to capture
}

// CodeChunker implements the gap-tracking, AST-aware chunking algorithm:
// definitions become their own chunks via tree-sitter classification,
// uncovered gaps between definitions become Block chunks, and anything
// oversized is split into overlapping, headered parts.
type CodeChunker struct {
	parser   *Parser
	registry *LanguageRegistry
	options  CodeChunkerOptions
}

// NewCodeChunker creates a new code chunker with default options.
func NewCodeChunker() *CodeChunker {
	return NewCodeChunkerWithOptions(CodeChunkerOptions{})
}

// NewCodeChunkerWithOptions creates a new code chunker with custom options.
func NewCodeChunkerWithOptions(opts CodeChunkerOptions) *CodeChunker {
	if opts.MaxChunkLines == 0 {
		opts.MaxChunkLines = DefaultMaxChunkLines
	}
	if opts.MaxChunkBytes == 0 {
		opts.MaxChunkBytes = DefaultMaxChunkBytes
	}
	if opts.OverlapLines == 0 {
		opts.OverlapLines = DefaultOverlapLines
	}
	if opts.ContextWindow == 0 {
		opts.ContextWindow = DefaultContextWindow
	}

	registry := DefaultRegistry()
	return &CodeChunker{
		parser:   NewParserWithRegistry(registry),
		registry: registry,
		options:  opts,
	}
}

// Close releases chunker resources.
func (c *CodeChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// SupportedExtensions returns file extensions this chunker handles with its
// AST-aware path.
func (c *CodeChunker) SupportedExtensions() []string {
	return c.registry.SupportedExtensions()
}

// Chunk splits a file into semantic chunks.
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	extractor, ok := ExtractorFor(c.registry, file.Language)
	if !ok {
		return c.splitAll(c.fallbackChunk(file.Path, string(file.Content))), nil
	}

	tree, err := c.parser.Parse(ctx, file.Content, file.Language)
	if err != nil || tree == nil || tree.Root == nil {
		return c.splitAll(c.fallbackChunk(file.Path, string(file.Content))), nil
	}

	source := file.Content
	gaps := newGapTracker(string(source))

	var definitionChunks []*Chunk
	fileContext := []string{fmt.Sprintf("File: %s", file.Path)}
	c.visitNode(tree.Root, source, extractor, fileContext, file.Path, &definitionChunks, gaps)

	gapChunks := gaps.extractGaps(file.Path)

	all := append(definitionChunks, gapChunks...)
	sortChunksByStartLine(all)

	sourceLines := strings.Split(string(source), "\n")
	c.populateContextWindows(all, sourceLines)

	var final []*Chunk
	for _, ch := range all {
		final = append(final, c.splitIfNeeded(ch)...)
	}

	return final, nil
}

func sortChunksByStartLine(chunks []*Chunk) {
	for i := 1; i < len(chunks); i++ {
		for j := i; j > 0 && chunks[j].StartLine < chunks[j-1].StartLine; j-- {
			chunks[j], chunks[j-1] = chunks[j-1], chunks[j]
		}
	}
}

// visitNode recursively walks the AST, turning definition nodes into chunks
// and marking their line ranges covered in gapTracker so leftover gaps can
// be extracted afterward.
func (c *CodeChunker) visitNode(n *Node, source []byte, extractor Extractor, contextStack []string, path string, chunks *[]*Chunk, gaps *gapTracker) {
	kind, isDefinition := extractor.Classify(n.Type)

	if !isDefinition {
		for _, child := range n.Children {
			c.visitNode(child, source, extractor, contextStack, path, chunks, gaps)
		}
		return
	}

	startLine := int(n.StartPoint.Row)
	endLine := int(n.EndPoint.Row) + 1
	gaps.markCovered(startLine, endLine-1)

	name, hasName := extractor.ExtractName(n, source)
	if !hasName {
		for _, child := range n.Children {
			c.visitNode(child, source, extractor, contextStack, path, chunks, gaps)
		}
		return
	}

	label := fmt.Sprintf("%s: %s", kind, name)
	newContext := append(append([]string{}, contextStack...), label)

	content := n.GetContent(source)

	ch := &Chunk{
		Path:      path,
		Content:   content,
		StartLine: startLine,
		EndLine:   endLine,
		Kind:      kind,
		Context:   newContext,

		IsComplete:     true,
		StringLiterals: ExtractStringLiterals(content),
	}
	if sig, ok := extractor.ExtractSignature(n, source, kind); ok {
		ch.Signature = &sig
	}
	if doc, ok := extractor.ExtractDocstring(n, source); ok {
		ch.Docstring = &doc
	}
	ch.ComputeHash()

	*chunks = append(*chunks, ch)

	for _, child := range n.Children {
		c.visitNode(child, source, extractor, newContext, path, chunks, gaps)
	}
}

// populateContextWindows fills ContextPrev/ContextNext from the raw source
// lines surrounding each chunk, skipping windows that are entirely blank.
func (c *CodeChunker) populateContextWindows(chunks []*Chunk, sourceLines []string) {
	total := len(sourceLines)
	window := c.options.ContextWindow

	for _, ch := range chunks {
		if ch.StartLine > 0 && window > 0 {
			prevStart := ch.StartLine - window
			if prevStart < 0 {
				prevStart = 0
			}
			if prevStart < ch.StartLine && ch.StartLine <= total {
				prev := sourceLines[prevStart:ch.StartLine]
				if !allBlank(prev) {
					ch.ContextPrev = prev
				}
			}
		}

		if ch.EndLine < total && window > 0 {
			nextEnd := ch.EndLine + window
			if nextEnd > total {
				nextEnd = total
			}
			if ch.EndLine < nextEnd {
				next := sourceLines[ch.EndLine:nextEnd]
				if !allBlank(next) {
					ch.ContextNext = next
				}
			}
		}
	}
}

func allBlank(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}

// fallbackChunk produces a sliding window of Block chunks for unsupported
// languages or parse failures.
func (c *CodeChunker) fallbackChunk(path, content string) []*Chunk {
	lines := strings.Split(content, "\n")
	stride := c.options.MaxChunkLines - c.options.OverlapLines
	if stride < 1 {
		stride = 1
	}

	fileContext := []string{fmt.Sprintf("File: %s", path)}

	var chunks []*Chunk
	for i := 0; i < len(lines); i += stride {
		end := i + c.options.MaxChunkLines
		if end > len(lines) {
			end = len(lines)
		}
		slice := lines[i:end]
		if len(slice) == 0 {
			break
		}
		text := strings.Join(slice, "\n")
		ch := &Chunk{
			Path:           path,
			Content:        text,
			StartLine:      i,
			EndLine:        end,
			Kind:           KindBlock,
			Context:        fileContext,
			IsComplete:     true,
			StringLiterals: ExtractStringLiterals(text),
		}
		ch.ComputeHash()
		chunks = append(chunks, ch)
		if end == len(lines) {
			break
		}
	}
	return chunks
}

// splitIfNeeded splits a chunk whose line count exceeds MaxChunkLines or
// whose byte size exceeds MaxChunkBytes into overlapping parts, each
// prefixed with a "Part i/N" header in the language-appropriate comment
// style. A single oversize line with MaxChunkLines=1 still goes through
// this path: it comes out as one part marked incomplete at split index 0,
// since there's nowhere else to split without losing the line itself.
func (c *CodeChunker) splitIfNeeded(chunk *Chunk) []*Chunk {
	if chunk == nil {
		return nil
	}
	lines := strings.Split(chunk.Content, "\n")
	if len(lines) <= c.options.MaxChunkLines && len(chunk.Content) <= c.options.MaxChunkBytes {
		return []*Chunk{chunk}
	}

	stride := c.options.MaxChunkLines - c.options.OverlapLines
	if stride < 1 {
		stride = 1
	}

	commentPrefix := "//"
	if lang, ok := c.registry.GetByExtension(extOf(chunk.Path)); ok && lang.Name == "python" {
		commentPrefix = "#"
	}

	var parts []*Chunk
	for i := 0; i < len(lines); i += stride {
		end := i + c.options.MaxChunkLines
		if end > len(lines) {
			end = len(lines)
		}
		slice := lines[i:end]
		if len(slice) == 0 {
			break
		}

		idx := len(parts)
		part := &Chunk{
			Path:           chunk.Path,
			Content:        strings.Join(slice, "\n"),
			StartLine:      chunk.StartLine + i,
			EndLine:        chunk.StartLine + end,
			Kind:           chunk.Kind,
			Context:        chunk.Context,
			StringLiterals: ExtractStringLiterals(strings.Join(slice, "\n")),
			IsComplete:     false,
			SplitIndex:     intPtr(idx),
		}
		if idx == 0 {
			part.Docstring = chunk.Docstring
		}
		part.Signature = chunk.Signature
		parts = append(parts, part)

		if end == len(lines) {
			break
		}
	}

	total := len(parts)
	for _, part := range parts {
		label := "(continued)"
		if part.Signature != nil {
			label = *part.Signature
		}
		header := fmt.Sprintf("%s [Part %d/%d] %s\n", commentPrefix, *part.SplitIndex+1, total, label)
		part.Content = header + part.Content
		part.ComputeHash()
	}

	return parts
}

// splitAll applies splitIfNeeded to every chunk in order.
func (c *CodeChunker) splitAll(chunks []*Chunk) []*Chunk {
	var out []*Chunk
	for _, ch := range chunks {
		out = append(out, c.splitIfNeeded(ch)...)
	}
	return out
}

func intPtr(i int) *int {
	return &i
}

func extOf(path string) string {
	if idx := strings.LastIndexByte(path, '.'); idx != -1 {
		return path[idx:]
	}
	return ""
}

// gapTracker records which source lines are covered by a definition chunk
// so the remaining lines can be extracted as Block chunks.
type gapTracker struct {
	lines   []string
	covered []bool
}

func newGapTracker(content string) *gapTracker {
	lines := strings.Split(content, "\n")
	return &gapTracker{
		lines:   lines,
		covered: make([]bool, len(lines)),
	}
}

func (g *gapTracker) markCovered(startLine, endLine int) {
	if endLine >= len(g.covered) {
		endLine = len(g.covered) - 1
	}
	for i := startLine; i <= endLine; i++ {
		if i >= 0 && i < len(g.covered) {
			g.covered[i] = true
		}
	}
}

func (g *gapTracker) extractGaps(path string) []*Chunk {
	var gaps []*Chunk
	fileContext := []string{fmt.Sprintf("File: %s", path)}

	gapStart := -1
	for i, isCovered := range g.covered {
		if !isCovered {
			if gapStart == -1 {
				gapStart = i
			}
			continue
		}
		if gapStart != -1 {
			if ch := g.buildGapChunk(path, fileContext, gapStart, i); ch != nil {
				gaps = append(gaps, ch)
			}
			gapStart = -1
		}
	}
	if gapStart != -1 {
		if ch := g.buildGapChunk(path, fileContext, gapStart, len(g.lines)); ch != nil {
			gaps = append(gaps, ch)
		}
	}

	return gaps
}

func (g *gapTracker) buildGapChunk(path string, fileContext []string, start, end int) *Chunk {
	content := strings.Join(g.lines[start:end], "\n")
	if strings.TrimSpace(content) == "" {
		return nil
	}
	ch := &Chunk{
		Path:           path,
		Content:        content,
		StartLine:      start,
		EndLine:        end,
		Kind:           KindBlock,
		Context:        fileContext,
		IsComplete:     true,
		StringLiterals: ExtractStringLiterals(content),
	}
	ch.ComputeHash()
	return ch
}

var stringLiteralPattern = regexp.MustCompile("(`[^`]*`)|(\"(?:[^\"\\\\]|\\\\.)*\")|('(?:[^'\\\\]|\\\\.)*')")

// maxStringLiteralLength excludes literals unlikely to be identifying
// terms: long encoded blobs, base64 payloads, and the like.
const maxStringLiteralLength = 100

// ExtractStringLiterals returns the deduplicated set of non-blank string
// literals shorter than maxStringLiteralLength found in content, in first-
// seen order. It is a pure function of content (I4): callers never pass
// anything else in.
func ExtractStringLiterals(content string) []string {
	matches := stringLiteralPattern.FindAllString(content, -1)
	if matches == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	literals := make([]string, 0, len(matches))
	for _, m := range matches {
		if len(m) < 2 {
			continue
		}
		lit := m[1 : len(m)-1]
		if strings.TrimSpace(lit) == "" || len(lit) >= maxStringLiteralLength {
			continue
		}
		if _, ok := seen[lit]; ok {
			continue
		}
		seen[lit] = struct{}{}
		literals = append(literals, lit)
	}
	return literals
}
