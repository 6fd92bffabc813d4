package search

import "math"

// RerankWeight and RRFWeight are the score-blending weights applied when a
// cross-encoder reranker is available: final = RerankWeight*rerank_norm +
// RRFWeight*rrf_norm.
const (
	RerankWeight = 0.575
	RRFWeight    = 0.425
)

// DefaultRerankTop is how many of the top RRF-fused results get sent
// through the reranker when one is configured.
const DefaultRerankTop = 50

// sigmoid normalizes an unbounded cross-encoder score to (0, 1).
func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// minMaxNormalize scales values into [0, 1] using the set's own min/max.
// A degenerate (zero-range) set maps every value to 0.
func minMaxNormalize(values []float64) []float64 {
	normalized := make([]float64, len(values))
	if len(values) == 0 {
		return normalized
	}

	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	span := max - min
	if span < 0.0001 {
		span = 0.0001
	}

	for i, v := range values {
		normalized[i] = (v - min) / span
	}
	return normalized
}

// blendRerank combines cross-encoder rerank scores with the RRF scores they
// were computed over, in index-aligned order, and returns the blended
// scores in the same order (not yet sorted).
func blendRerank(rerankScores []float64, rrfScores []float64) []float64 {
	sigmoided := make([]float64, len(rerankScores))
	for i, s := range rerankScores {
		sigmoided[i] = sigmoid(s)
	}
	normalizedRRF := minMaxNormalize(rrfScores)

	blended := make([]float64, len(rerankScores))
	for i := range blended {
		blended[i] = RerankWeight*sigmoided[i] + RRFWeight*normalizedRRF[i]
	}
	return blended
}
