package rag

import (
	"fmt"

	ragerr "github.com/DominikGorecki/psychrag-sub002/internal/errors"
	"github.com/DominikGorecki/psychrag-sub002/internal/store"
)

// transition moves the query to the given state and clears every
// derived field strictly downstream of it. Moving backward (re-running
// an earlier stage) therefore invalidates later outputs; Results are
// append-only history and are never touched.
func transition(q *store.Query, to store.QueryState) {
	q.State = to

	if to.Order() < store.StateConsolidated.Order() {
		q.CleanRetrievalContext = nil
	}
	if to.Order() < store.StateRetrieved.Order() {
		q.RetrievedContext = nil
	}
	if to.Order() < store.StateEmbedded.Order() {
		q.EmbeddingOriginal = nil
		q.EmbeddingsMQE = nil
		q.EmbeddingHyde = nil
		q.VectorStatus = store.VectorStatusNone
	}
}

// requireMinState rejects a stage whose precondition state has not
// been reached. Re-running a stage from a later state is allowed;
// transition then clears the downstream fields.
func requireMinState(q *store.Query, min store.QueryState) error {
	if q.State.Order() < min.Order() {
		return ragerr.Precondition(
			fmt.Sprintf("query %s is in state %q, needs at least %q", q.ID, q.State, min))
	}
	return nil
}

// requireVectors rejects retrieval when the query embeddings are not
// usable, including the vec_err case left behind by a failed embed.
func requireVectors(q *store.Query) error {
	if q.VectorStatus != store.VectorStatusVec {
		return ragerr.Precondition(
			fmt.Sprintf("vector_status = vec (query %s has %q)", q.ID, q.VectorStatus))
	}
	if len(q.EmbeddingOriginal) == 0 {
		return ragerr.Precondition(
			fmt.Sprintf("query %s has no original embedding", q.ID))
	}
	return nil
}
