package rag

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseRanksScoring(t *testing.T) {
	lists := [][]int64{
		{1, 2, 3},
		{2, 1},
	}
	fused := FuseRanks(lists, 60, 0)
	require.Len(t, fused, 3)

	byID := make(map[int64]FusedCandidate)
	for _, c := range fused {
		byID[c.ChunkID] = c
	}

	assert.InDelta(t, 1.0/61+1.0/62, byID[1].RRFScore, 1e-9)
	assert.InDelta(t, 1.0/62+1.0/61, byID[2].RRFScore, 1e-9)
	assert.InDelta(t, 1.0/63, byID[3].RRFScore, 1e-9)
	assert.Equal(t, 2, byID[1].ListCount)
	assert.Equal(t, 1, byID[3].ListCount)
}

func TestFuseRanksTieBreaks(t *testing.T) {
	// Chunks 1 and 2 have identical scores; 1 appears in two lists.
	lists := [][]int64{
		{1, 9},
		{1},
		{2},
		{2},
	}
	fused := FuseRanks(lists, 60, 0)
	require.NotEmpty(t, fused)
	assert.InDelta(t, fused[0].RRFScore, fused[1].RRFScore, 1e-12)
	// Equal list counts here, so ascending chunk id decides.
	assert.Equal(t, int64(1), fused[0].ChunkID)
	assert.Equal(t, int64(2), fused[1].ChunkID)
}

func TestFuseRanksAscendingIDOnFullTie(t *testing.T) {
	fused := FuseRanks([][]int64{{7}, {5}}, 60, 0)
	require.Len(t, fused, 2)
	assert.Equal(t, int64(5), fused[0].ChunkID)
	assert.Equal(t, int64(7), fused[1].ChunkID)
}

func TestFuseRanksLimit(t *testing.T) {
	fused := FuseRanks([][]int64{{1, 2, 3, 4, 5}}, 60, 3)
	assert.Len(t, fused, 3)
	assert.Equal(t, int64(1), fused[0].ChunkID)
}

func TestFuseRanksDuplicateWithinList(t *testing.T) {
	// A duplicate id inside one list counts once, at its best rank.
	fused := FuseRanks([][]int64{{4, 4, 4}}, 60, 0)
	require.Len(t, fused, 1)
	assert.InDelta(t, 1.0/61, fused[0].RRFScore, 1e-12)
	assert.Equal(t, 1, fused[0].ListCount)
}

// Permuting which list equal-ranked items come from must not change
// the fused output set.
func TestFuseRanksPermutationStability(t *testing.T) {
	a := FuseRanks([][]int64{{1, 2}, {3, 4}}, 60, 4)
	b := FuseRanks([][]int64{{3, 4}, {1, 2}}, 60, 4)

	idsOf := func(cs []FusedCandidate) map[int64]float64 {
		out := make(map[int64]float64)
		for _, c := range cs {
			out[c.ChunkID] = c.RRFScore
		}
		return out
	}
	setA, setB := idsOf(a), idsOf(b)
	require.Equal(t, len(setA), len(setB))
	for id, score := range setA {
		other, ok := setB[id]
		require.True(t, ok)
		assert.True(t, math.Abs(score-other) < 1e-12)
	}
}
