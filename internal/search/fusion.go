// Package search combines vector and keyword result lists into a single
// hybrid ranking and builds extractive answers from the top hits.
package search

import (
	"sort"

	"github.com/quarrydb/quarry/internal/models"
)

// Fuse merges a vector result list and a keyword result list into one ranking.
// Each side's scores are min-max normalized to [0,1] over the candidates that
// side returned; a candidate absent from a side contributes 0 for that side.
// The fused score is alpha*vector + (1-alpha)*keyword. Ties break by ascending
// chunk ID, and at most k hits are returned.
func Fuse(vecHits, kwHits []models.Hit, alpha float64, k int) []models.Hit {
	if k <= 0 {
		return nil
	}
	vecNorm := normalize(vecHits)
	kwNorm := normalize(kwHits)

	candidates := make(map[int64]models.Hit, len(vecHits)+len(kwHits))
	for _, h := range vecHits {
		candidates[h.ChunkID] = h
	}
	for _, h := range kwHits {
		if _, seen := candidates[h.ChunkID]; !seen {
			candidates[h.ChunkID] = h
		}
	}

	fused := make([]models.Hit, 0, len(candidates))
	for id, h := range candidates {
		h.Score = alpha*vecNorm[id] + (1-alpha)*kwNorm[id]
		fused = append(fused, h)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ChunkID < fused[j].ChunkID
	})
	if len(fused) > k {
		fused = fused[:k]
	}
	return fused
}

// normalize min-max scales one side's scores. A single candidate, or a list
// whose scores are all equal, maps every present candidate to 1.0.
func normalize(hits []models.Hit) map[int64]float64 {
	norm := make(map[int64]float64, len(hits))
	if len(hits) == 0 {
		return norm
	}
	lo, hi := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		if h.Score < lo {
			lo = h.Score
		}
		if h.Score > hi {
			hi = h.Score
		}
	}
	span := hi - lo
	for _, h := range hits {
		if span == 0 {
			norm[h.ChunkID] = 1.0
		} else {
			norm[h.ChunkID] = (h.Score - lo) / span
		}
	}
	return norm
}
