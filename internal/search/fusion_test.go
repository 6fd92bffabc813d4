package search

import (
	"testing"

	"github.com/demongrep/demongrep/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRRFFusion_DefaultsToK20(t *testing.T) {
	f := NewRRFFusion()
	assert.Equal(t, 20, f.K)
}

func TestNewRRFFusionWithK_RejectsNonPositiveK(t *testing.T) {
	assert.Equal(t, 20, NewRRFFusionWithK(0).K)
	assert.Equal(t, 20, NewRRFFusionWithK(-5).K)
	assert.Equal(t, 40, NewRRFFusionWithK(40).K)
}

func TestRRFFusion_Fuse_EmptyInputs_ReturnsEmptySlice(t *testing.T) {
	f := NewRRFFusion()
	results := f.Fuse(nil, nil, DefaultWeights())
	require.NotNil(t, results)
	assert.Empty(t, results)
}

func TestRRFFusion_Fuse_MissingFromOneList_ContributesZero(t *testing.T) {
	f := NewRRFFusionWithK(20)

	bm25 := []*store.BM25Result{{ChunkID: "1", Score: 5.0}}
	vec := []*store.VectorResult{{ChunkID: 2, Score: 0.9}}

	results := f.Fuse(bm25, vec, Weights{BM25: 0.5, Semantic: 0.5})

	require.Len(t, results, 2)
	byID := map[uint32]*FusedResult{}
	for _, r := range results {
		byID[r.ChunkID] = r
	}
	assert.False(t, byID[1].InBothLists)
	assert.Equal(t, 0, byID[1].VecRank)
	assert.False(t, byID[2].InBothLists)
	assert.Equal(t, 0, byID[2].BM25Rank)
}

func TestRRFFusion_Fuse_DocumentInBothLists_MarkedAndScoresCombined(t *testing.T) {
	f := NewRRFFusionWithK(20)

	bm25 := []*store.BM25Result{{ChunkID: "1", Score: 3.0}}
	vec := []*store.VectorResult{{ChunkID: 1, Score: 0.8}}

	results := f.Fuse(bm25, vec, Weights{BM25: 0.5, Semantic: 0.5})

	require.Len(t, results, 1)
	assert.True(t, results[0].InBothLists)
	assert.Equal(t, 1, results[0].BM25Rank)
	assert.Equal(t, 1, results[0].VecRank)
}

func TestRRFFusion_Fuse_SortsByRRFScoreDescending(t *testing.T) {
	f := NewRRFFusionWithK(20)

	bm25 := []*store.BM25Result{
		{ChunkID: "1", Score: 1.0},
		{ChunkID: "2", Score: 1.0},
		{ChunkID: "3", Score: 1.0},
	}

	results := f.Fuse(bm25, nil, Weights{BM25: 1.0, Semantic: 0.0})

	require.Len(t, results, 3)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].RRFScore, results[i].RRFScore)
	}
	// earlier BM25 rank must win when only rank differs
	assert.Equal(t, uint32(1), results[0].ChunkID)
}

func TestRRFFusion_Fuse_TiesBreakDeterministically(t *testing.T) {
	f := NewRRFFusionWithK(20)

	bm25 := []*store.BM25Result{
		{ChunkID: "1", Score: 9.0},
		{ChunkID: "2", Score: 1.0},
	}
	vec := []*store.VectorResult{
		{ChunkID: 2, Score: 0.1},
	}

	results := f.Fuse(bm25, vec, Weights{BM25: 1.0, Semantic: 0.0})

	require.Len(t, results, 2)
	ids := []uint32{results[0].ChunkID, results[1].ChunkID}
	assert.ElementsMatch(t, []uint32{1, 2}, ids)
}

func TestRRFFusion_Fuse_IgnoresUnparseableBM25ChunkID(t *testing.T) {
	f := NewRRFFusionWithK(20)

	bm25 := []*store.BM25Result{{ChunkID: "not-a-number", Score: 5.0}}

	results := f.Fuse(bm25, nil, DefaultWeights())

	assert.Empty(t, results)
}

func TestRRFFusion_Fuse_PreservesMatchedTerms(t *testing.T) {
	f := NewRRFFusionWithK(20)

	bm25 := []*store.BM25Result{{ChunkID: "1", Score: 4.0, MatchedTerms: []string{"parse", "error"}}}

	results := f.Fuse(bm25, nil, Weights{BM25: 1.0, Semantic: 0.0})

	require.Len(t, results, 1)
	assert.Equal(t, []string{"parse", "error"}, results[0].MatchedTerms)
}

func TestRRFFusion_Fuse_NormalizesTopScoreToOne(t *testing.T) {
	f := NewRRFFusionWithK(20)

	bm25 := []*store.BM25Result{
		{ChunkID: "1", Score: 5.0},
		{ChunkID: "2", Score: 4.0},
	}

	results := f.Fuse(bm25, nil, Weights{BM25: 1.0, Semantic: 0.0})

	require.NotEmpty(t, results)
	assert.Equal(t, 1.0, results[0].RRFScore)
}

func TestRRFFusion_Fuse_RRFScoreIncreasesAsRankImproves(t *testing.T) {
	// P7: moving a document to a better rank in either list never
	// decreases its RRF score, holding the other list fixed.
	f := NewRRFFusionWithK(20)

	worseRank := f.Fuse([]*store.BM25Result{
		{ChunkID: "9", Score: 1.0},
		{ChunkID: "1", Score: 1.0},
	}, nil, Weights{BM25: 1.0, Semantic: 0.0})

	betterRank := f.Fuse([]*store.BM25Result{
		{ChunkID: "1", Score: 1.0},
		{ChunkID: "9", Score: 1.0},
	}, nil, Weights{BM25: 1.0, Semantic: 0.0})

	var worseScore, betterScore float64
	for _, r := range worseRank {
		if r.ChunkID == 1 {
			worseScore = r.RRFScore
		}
	}
	for _, r := range betterRank {
		if r.ChunkID == 1 {
			betterScore = r.RRFScore
		}
	}
	assert.GreaterOrEqual(t, betterScore, worseScore)
}
