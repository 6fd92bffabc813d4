package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFTSIndex(t *testing.T) *BleveFTSIndex {
	t.Helper()
	idx, err := NewBleveFTSIndex("", DefaultBM25Config())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestBleveFTSIndex_Search_MatchesOnContent(t *testing.T) {
	// Given: an index with one document about authentication
	idx := newTestFTSIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, []*Document{
		{ChunkID: "1", Path: "auth.go", Content: "func validateToken(token string) bool { return true }"},
	}))

	// When: searching for a content term
	results, err := idx.Search(ctx, "validateToken", 10)

	// Then: the document is found
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1", results[0].ChunkID)
}

func TestBleveFTSIndex_Search_MatchesAcrossFieldsInDisjunction(t *testing.T) {
	// Given: two documents, one matching only by signature, one only by a
	// string literal
	idx := newTestFTSIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, []*Document{
		{ChunkID: "1", Path: "a.go", Content: "unrelated body", Signature: "func computeChecksum(data []byte) uint32"},
		{ChunkID: "2", Path: "b.go", Content: "unrelated body", StringLiterals: "checksum mismatch detected"},
	}))

	// When: searching for "checksum"
	results, err := idx.Search(ctx, "checksum", 10)

	// Then: both documents match, one via signature and one via string
	// literals
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, r := range results {
		ids[r.ChunkID] = true
	}
	assert.True(t, ids["1"])
	assert.True(t, ids["2"])
}

func TestBleveFTSIndex_Search_RequiresAllTermsWithinAField(t *testing.T) {
	// Given: a document whose content has "parse" but not "error", and one
	// with both
	idx := newTestFTSIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, []*Document{
		{ChunkID: "1", Path: "a.go", Content: "parse the input stream"},
		{ChunkID: "2", Path: "b.go", Content: "parse failed with an error here"},
	}))

	// When: searching for both terms together
	results, err := idx.Search(ctx, "parse error", 10)

	// Then: only the document containing both terms in the same field
	// matches
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "2", results[0].ChunkID)
}

func TestBleveFTSIndex_Search_EmptyQuery_ReturnsNoResults(t *testing.T) {
	// Given: a populated index
	idx := newTestFTSIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, []*Document{{ChunkID: "1", Content: "hello world"}}))

	// When: searching with a blank query
	results, err := idx.Search(ctx, "   ", 10)

	// Then: no results, no error
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBleveFTSIndex_Search_SanitizesAndRetriesOnUnparseableQuery(t *testing.T) {
	// Given: a document containing a token the query also contains
	idx := newTestFTSIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, []*Document{
		{ChunkID: "1", Content: "func computeHash(v []byte) uint32"},
	}))

	// When: searching with a query containing characters outside the
	// tokenizer's alphabet
	results, err := idx.Search(ctx, "computeHash(v)!!", 10)

	// Then: the sanitized retry still finds the match
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestBleveFTSIndex_Delete_RemovesDocument(t *testing.T) {
	// Given: two indexed documents
	idx := newTestFTSIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, []*Document{
		{ChunkID: "1", Content: "alpha function"},
		{ChunkID: "2", Content: "beta function"},
	}))

	// When: deleting one
	require.NoError(t, idx.Delete(ctx, []string{"1"}))

	// Then: only the other remains
	ids, err := idx.AllIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids)
}

func TestBleveFTSIndex_DeleteByPath_RemovesAllDocumentsUnderPath(t *testing.T) {
	// Given: three documents, two under the same path
	idx := newTestFTSIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, []*Document{
		{ChunkID: "1", Path: "a.go", Content: "one"},
		{ChunkID: "2", Path: "a.go", Content: "two"},
		{ChunkID: "3", Path: "b.go", Content: "three"},
	}))

	// When: deleting by path
	require.NoError(t, idx.DeleteByPath(ctx, "a.go"))

	// Then: only the document under the other path survives
	ids, err := idx.AllIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, ids)
}

func TestBleveFTSIndex_Stats_ReportsDocumentCount(t *testing.T) {
	// Given: an index with two documents
	idx := newTestFTSIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, []*Document{
		{ChunkID: "1", Content: "one"},
		{ChunkID: "2", Content: "two"},
	}))

	// When: reading stats
	stats := idx.Stats()

	// Then: the count matches
	assert.Equal(t, 2, stats.DocumentCount)
}

func TestBleveFTSIndex_Search_IgnoresCodeStopWords(t *testing.T) {
	// Given: a document containing a stop word and a distinguishing term
	idx := newTestFTSIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, []*Document{
		{ChunkID: "1", Content: "func uniqueMarkerName() { return }"},
	}))

	// When: searching for the stop word "func" alone
	results, err := idx.Search(ctx, "func", 10)

	// Then: the stop word contributes no match on its own
	require.NoError(t, err)
	assert.Empty(t, results)
}
