package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkFile(t *testing.T, path, language, content string) []*Chunk {
	t.Helper()
	c := NewCodeChunker()
	defer c.Close()
	chunks, err := c.Chunk(context.Background(), &FileInput{
		Path:     path,
		Content:  []byte(content),
		Language: language,
	})
	require.NoError(t, err)
	return chunks
}

func findChunkByKind(chunks []*Chunk, kind ChunkKind) *Chunk {
	for _, c := range chunks {
		if c.Kind == kind {
			return c
		}
	}
	return nil
}

func chunkNames(chunks []*Chunk) []string {
	names := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Context) > 0 {
			names = append(names, c.Context[len(c.Context)-1])
		}
	}
	return names
}

// ============================================================================
// Definition extraction
// ============================================================================

func TestCodeChunker_GoFile_ExtractsFunctionAndTypeChunks(t *testing.T) {
	source := `package main

// Hello prints a greeting
func Hello() {
	fmt.Println("Hello")
}

type Calculator struct {
	value int
}

func (c *Calculator) Multiply(x int) int {
	return c.value * x
}
`
	chunks := chunkFile(t, "main.go", "go", source)

	names := chunkNames(chunks)
	assert.Contains(t, names, "function: Hello")
	assert.Contains(t, names, "type_alias: Calculator")
	assert.Contains(t, names, "method: Multiply")

	for _, c := range chunks {
		assert.Equal(t, "main.go", c.Path)
		assert.True(t, c.IsComplete)
		assert.Equal(t, "File: main.go", c.Context[0])
	}
}

func TestCodeChunker_PythonFile_RestoresDocstringFromBody(t *testing.T) {
	source := `class Dog:
    """A dog class"""
    def bark(self):
        print("Woof!")
`
	chunks := chunkFile(t, "animals.py", "python", source)

	classChunk := findChunkByKind(chunks, KindClass)
	require.NotNil(t, classChunk)
	require.NotNil(t, classChunk.Docstring)
	assert.Equal(t, "A dog class", *classChunk.Docstring)
}

// ============================================================================
// Gap / Block chunk extraction
// ============================================================================

func TestCodeChunker_UncoveredLinesBecomeBlockChunks(t *testing.T) {
	source := `package main

import "fmt"

func main() {
	fmt.Println("hi")
}
`
	chunks := chunkFile(t, "main.go", "go", source)

	blockChunk := findChunkByKind(chunks, KindBlock)
	require.NotNil(t, blockChunk, "import statement should surface as a gap Block chunk")
	assert.Contains(t, blockChunk.Content, "import")
}

func TestCodeChunker_CoversNoLineMoreThanOnce(t *testing.T) {
	source := `package main

func a() {
	x := 1
	_ = x
}

func b() {
	y := 2
	_ = y
}
`
	chunks := chunkFile(t, "main.go", "go", source)

	covered := make(map[int]int)
	for _, c := range chunks {
		if !c.IsComplete {
			continue // split parts overlap by design
		}
		for line := c.StartLine; line < c.EndLine; line++ {
			covered[line]++
		}
	}
	totalLines := len(strings.Split(source, "\n"))
	for i := 0; i < totalLines; i++ {
		if covered[i] > 1 {
			t.Fatalf("line %d covered by %d chunks, want at most 1", i, covered[i])
		}
	}
}

// ============================================================================
// Context breadcrumbs (I3) and context windows
// ============================================================================

func TestCodeChunker_NestedDefinition_BuildsBreadcrumbContext(t *testing.T) {
	source := `package main

type Calculator struct {
	value int
}

func (c *Calculator) Multiply(x int) int {
	return c.value * x
}
`
	chunks := chunkFile(t, "calc.go", "go", source)

	method := findChunkByKind(chunks, KindMethod)
	require.NotNil(t, method)
	assert.Equal(t, "File: calc.go", method.Context[0])
	assert.Len(t, method.Context, 2)
	assert.Equal(t, "method: Multiply", method.Context[1])
}

func TestCodeChunker_PopulatesContextPrevAndNext(t *testing.T) {
	source := `package main

// leading comment one
// leading comment two
func first() {
	x := 1
	_ = x
}

// trailing comment
func second() {
	y := 2
	_ = y
}
`
	chunks := chunkFile(t, "main.go", "go", source)

	var second *Chunk
	for _, c := range chunks {
		if len(c.Context) > 0 && c.Context[len(c.Context)-1] == "function: second" {
			second = c
		}
	}
	require.NotNil(t, second)
	assert.NotEmpty(t, second.ContextPrev)
}

func TestCodeChunker_BlankSurroundingLines_LeaveContextWindowsEmpty(t *testing.T) {
	source := "package main\n\n\n\nfunc lonely() {\n\tx := 1\n\t_ = x\n}\n"
	chunks := chunkFile(t, "main.go", "go", source)

	fn := findChunkByKind(chunks, KindFunction)
	require.NotNil(t, fn)
	assert.Nil(t, fn.ContextPrev, "all-blank preceding window should not populate ContextPrev")
}

// ============================================================================
// Oversized chunk splitting
// ============================================================================

func TestCodeChunker_OversizedFunction_SplitsWithPartHeaders(t *testing.T) {
	var body strings.Builder
	body.WriteString("package main\n\nfunc big() {\n")
	for i := 0; i < 200; i++ {
		body.WriteString("\tx := 1\n\t_ = x\n")
	}
	body.WriteString("}\n")

	chunks := chunkFile(t, "big.go", "go", body.String())

	var parts []*Chunk
	for _, c := range chunks {
		if c.Kind == KindFunction {
			parts = append(parts, c)
		}
	}
	require.True(t, len(parts) > 1, "oversized function should be split into multiple parts")

	for i, p := range parts {
		assert.False(t, p.IsComplete)
		require.NotNil(t, p.SplitIndex)
		assert.Equal(t, i, *p.SplitIndex)
		assert.True(t, strings.HasPrefix(p.Content, "// [Part "))
	}
}

func TestCodeChunker_SplitParts_UsePythonCommentPrefix(t *testing.T) {
	var body strings.Builder
	body.WriteString("def big():\n")
	for i := 0; i < 200; i++ {
		body.WriteString("    x = 1\n")
	}

	chunks := chunkFile(t, "big.py", "python", body.String())

	var parts []*Chunk
	for _, c := range chunks {
		if c.Kind == KindFunction {
			parts = append(parts, c)
		}
	}
	require.True(t, len(parts) > 1)
	assert.True(t, strings.HasPrefix(parts[0].Content, "# [Part "))
}

func TestCodeChunker_SplitParts_OnlyFirstPartKeepsDocstring(t *testing.T) {
	var body strings.Builder
	body.WriteString("// Big does a lot of work\nfunc big() {\n")
	for i := 0; i < 200; i++ {
		body.WriteString("\tx := 1\n\t_ = x\n")
	}
	body.WriteString("}\n")
	source := "package main\n\n" + body.String()

	chunks := chunkFile(t, "big.go", "go", source)

	var parts []*Chunk
	for _, c := range chunks {
		if c.Kind == KindFunction {
			parts = append(parts, c)
		}
	}
	require.True(t, len(parts) > 1)
	require.NotNil(t, parts[0].Docstring)
	assert.Equal(t, "Big does a lot of work", *parts[0].Docstring)
	for _, p := range parts[1:] {
		assert.Nil(t, p.Docstring)
	}
}

// ============================================================================
// Fallback chunking for unsupported languages / parse failures
// ============================================================================

func TestCodeChunker_UnsupportedLanguage_FallsBackToSlidingWindow(t *testing.T) {
	lines := make([]string, 0, 300)
	for i := 0; i < 300; i++ {
		lines = append(lines, "line of elixir code")
	}
	source := strings.Join(lines, "\n")

	chunks := chunkFile(t, "module.ex", "elixir", source)

	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Equal(t, KindBlock, c.Kind)
	}
}

// ============================================================================
// Purity invariants (I2 hash, I4 string literals)
// ============================================================================

func TestExtractStringLiterals_IsPureFunctionOfContent(t *testing.T) {
	content := `package main

func f() {
	a := "hello"
	b := ` + "`raw string`" + `
	c := 'x'
}
`
	literals := ExtractStringLiterals(content)

	assert.Contains(t, literals, "hello")
	assert.Contains(t, literals, "raw string")
	assert.Contains(t, literals, "x")
}

func TestChunk_ComputeHash_DependsOnlyOnContent(t *testing.T) {
	a := &Chunk{Path: "a.go", Content: "same content", StartLine: 0, EndLine: 1}
	b := &Chunk{Path: "b.go", Content: "same content", StartLine: 10, EndLine: 20}

	a.ComputeHash()
	b.ComputeHash()

	assert.Equal(t, a.Hash, b.Hash)
}

func TestChunk_ComputeHash_DiffersOnContent(t *testing.T) {
	a := &Chunk{Content: "content one"}
	b := &Chunk{Content: "content two"}

	a.ComputeHash()
	b.ComputeHash()

	assert.NotEqual(t, a.Hash, b.Hash)
}

// ============================================================================
// Chunker options / lifecycle
// ============================================================================

func TestNewCodeChunkerWithOptions_AppliesDefaultsWhenZero(t *testing.T) {
	c := NewCodeChunkerWithOptions(CodeChunkerOptions{})
	defer c.Close()

	assert.Equal(t, DefaultMaxChunkLines, c.options.MaxChunkLines)
	assert.Equal(t, DefaultOverlapLines, c.options.OverlapLines)
	assert.Equal(t, DefaultContextWindow, c.options.ContextWindow)
}

func TestCodeChunker_SupportedExtensions_IncludesRegisteredLanguages(t *testing.T) {
	c := NewCodeChunker()
	defer c.Close()

	exts := c.SupportedExtensions()
	assert.Contains(t, exts, ".go")
	assert.Contains(t, exts, ".py")
	assert.Contains(t, exts, ".ts")
}
