package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerr "github.com/DominikGorecki/psychrag-sub002/internal/errors"
	"github.com/DominikGorecki/psychrag-sub002/internal/store"
)

func fullyPopulatedQuery() *store.Query {
	return &store.Query{
		ID:                "q1",
		OriginalQuery:     "what is working memory",
		ExpandedQueries:   []string{"define working memory"},
		EmbeddingOriginal: []float32{1, 0},
		EmbeddingsMQE:     [][]float32{{0, 1}},
		EmbeddingHyde:     []float32{1, 1},
		VectorStatus:      store.VectorStatusVec,
		State:             store.StateAnswered,
		RetrievedContext:  []store.RetrievedChunk{{ChunkID: 1}},
		CleanRetrievalContext: []store.ConsolidatedGroup{
			{ChunkIDs: []int64{1}, WorkID: 1},
		},
	}
}

func TestTransitionBackToRetrievedClearsConsolidation(t *testing.T) {
	q := fullyPopulatedQuery()
	transition(q, store.StateRetrieved)

	assert.Equal(t, store.StateRetrieved, q.State)
	assert.Nil(t, q.CleanRetrievalContext)
	assert.NotNil(t, q.RetrievedContext)
	assert.NotNil(t, q.EmbeddingOriginal)
}

func TestTransitionBackToEmbeddedClearsRetrieval(t *testing.T) {
	q := fullyPopulatedQuery()
	transition(q, store.StateEmbedded)

	assert.Nil(t, q.CleanRetrievalContext)
	assert.Nil(t, q.RetrievedContext)
	assert.NotNil(t, q.EmbeddingOriginal)
	assert.Equal(t, store.VectorStatusVec, q.VectorStatus)
}

func TestTransitionBackToExpandedClearsEmbeddings(t *testing.T) {
	q := fullyPopulatedQuery()
	transition(q, store.StateExpanded)

	assert.Nil(t, q.EmbeddingOriginal)
	assert.Nil(t, q.EmbeddingsMQE)
	assert.Nil(t, q.EmbeddingHyde)
	assert.Equal(t, store.VectorStatusNone, q.VectorStatus)
	// The expansion itself survives.
	assert.NotEmpty(t, q.ExpandedQueries)
}

func TestTransitionForwardClearsNothing(t *testing.T) {
	q := fullyPopulatedQuery()
	q.State = store.StateConsolidated
	transition(q, store.StateAnswered)

	assert.NotNil(t, q.RetrievedContext)
	assert.NotNil(t, q.CleanRetrievalContext)
}

func TestRequireMinState(t *testing.T) {
	q := &store.Query{ID: "q1", State: store.StateCreated}
	err := requireMinState(q, store.StateExpanded)
	require.Error(t, err)
	assert.True(t, ragerr.HasCode(err, ragerr.ErrCodePrecondition))

	q.State = store.StateAnswered
	assert.NoError(t, requireMinState(q, store.StateExpanded))
}

func TestRequireVectors(t *testing.T) {
	q := &store.Query{ID: "q1", State: store.StateCreated, VectorStatus: store.VectorStatusNone}
	err := requireVectors(q)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector_status = vec")

	q.VectorStatus = store.VectorStatusVec
	err = requireVectors(q)
	require.Error(t, err) // still no original embedding

	q.EmbeddingOriginal = []float32{1}
	assert.NoError(t, requireVectors(q))
}
