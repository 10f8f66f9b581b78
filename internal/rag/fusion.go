package rag

import "sort"

// FusedCandidate is one chunk after reciprocal rank fusion.
type FusedCandidate struct {
	ChunkID   int64
	RRFScore  float64
	ListCount int
}

// FuseRanks runs reciprocal rank fusion over ranked chunk-id lists:
// rrf_score(c) = sum over lists of 1/(k + rank), rank 1-based, absent
// lists contributing nothing. Ties break by list membership count,
// then ascending chunk id. Returns the top limit candidates.
func FuseRanks(lists [][]int64, k int, limit int) []FusedCandidate {
	if k <= 0 {
		k = 60
	}

	scores := make(map[int64]*FusedCandidate)
	for _, list := range lists {
		seen := make(map[int64]bool, len(list))
		for rank, chunkID := range list {
			// Duplicate ids within one list keep their best rank.
			if seen[chunkID] {
				continue
			}
			seen[chunkID] = true

			c, ok := scores[chunkID]
			if !ok {
				c = &FusedCandidate{ChunkID: chunkID}
				scores[chunkID] = c
			}
			c.RRFScore += 1.0 / float64(k+rank+1)
			c.ListCount++
		}
	}

	fused := make([]FusedCandidate, 0, len(scores))
	for _, c := range scores {
		fused = append(fused, *c)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].RRFScore != fused[j].RRFScore {
			return fused[i].RRFScore > fused[j].RRFScore
		}
		if fused[i].ListCount != fused[j].ListCount {
			return fused[i].ListCount > fused[j].ListCount
		}
		return fused[i].ChunkID < fused[j].ChunkID
	})

	if limit > 0 && len(fused) > limit {
		fused = fused[:limit]
	}
	return fused
}
