package rag

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/DominikGorecki/psychrag-sub002/internal/embed"
	"github.com/DominikGorecki/psychrag-sub002/internal/store"
)

// EmbedQuery embeds the original query, each expansion, and the
// hypothetical answer, then persists the vectors with a single write.
// Blank inputs are skipped with their embedding left null. A failure
// partway through records vec_err and keeps whatever vectors were
// produced; the error is returned to the caller.
func (p *Pipeline) EmbedQuery(ctx context.Context, queryID string) (*store.Query, error) {
	q, err := p.queries.GetQuery(ctx, queryID)
	if err != nil {
		return nil, err
	}
	if err := requireMinState(q, store.StateExpanded); err != nil {
		return nil, err
	}

	transition(q, store.StateExpanded)
	embedErr := p.embedInto(ctx, q)

	if embedErr != nil {
		q.VectorStatus = store.VectorStatusError
	} else {
		q.VectorStatus = store.VectorStatusVec
		transition(q, store.StateEmbedded)
	}
	q.UpdatedAt = time.Now().UTC()

	if err := p.queries.UpdateQuery(ctx, q); err != nil {
		return nil, err
	}
	if embedErr != nil {
		slog.Error("query embedding failed", "query_id", q.ID, "error", embedErr)
		return q, embedErr
	}

	slog.Info("query embedded",
		"query_id", q.ID,
		"mqe_vectors", len(q.EmbeddingsMQE),
		"hyde", len(q.EmbeddingHyde) > 0)
	return q, nil
}

// embedInto fills the query's embedding fields in place, stopping at
// the first failure so partial vectors remain for debugging.
func (p *Pipeline) embedInto(ctx context.Context, q *store.Query) error {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.EmbedTimeout)
	defer cancel()

	vec, err := p.embedder.Embed(callCtx, q.OriginalQuery)
	if err != nil {
		return err
	}
	q.EmbeddingOriginal = vec

	expansions := make([]string, 0, len(q.ExpandedQueries))
	for _, e := range q.ExpandedQueries {
		if strings.TrimSpace(e) != "" {
			expansions = append(expansions, e)
		}
	}
	if len(expansions) > 0 {
		vecs, err := p.embedder.EmbedBatch(callCtx, expansions)
		if err != nil {
			return err
		}
		q.EmbeddingsMQE = vecs
	} else {
		q.EmbeddingsMQE = nil
	}

	if strings.TrimSpace(q.HydeAnswer) != "" {
		vec, err := p.embedder.Embed(callCtx, q.HydeAnswer)
		if err != nil {
			return err
		}
		q.EmbeddingHyde = vec
	} else {
		q.EmbeddingHyde = nil
	}
	return nil
}

// queryVectors returns the query's present, non-zero embeddings in
// dense fan-out order: original, each MQE, hyde.
func queryVectors(q *store.Query) [][]float32 {
	vectors := make([][]float32, 0, len(q.EmbeddingsMQE)+2)
	if len(q.EmbeddingOriginal) > 0 && !embed.IsZero(q.EmbeddingOriginal) {
		vectors = append(vectors, q.EmbeddingOriginal)
	}
	for _, v := range q.EmbeddingsMQE {
		if len(v) > 0 && !embed.IsZero(v) {
			vectors = append(vectors, v)
		}
	}
	if len(q.EmbeddingHyde) > 0 && !embed.IsZero(q.EmbeddingHyde) {
		vectors = append(vectors, q.EmbeddingHyde)
	}
	return vectors
}
