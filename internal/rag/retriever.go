package rag

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	ragerr "github.com/DominikGorecki/psychrag-sub002/internal/errors"
	"github.com/DominikGorecki/psychrag-sub002/internal/store"
)

// Retrieve runs hybrid retrieval for an embedded query: parallel
// dense searches per query variant plus lexical searches, max-pooled
// per modality, fused with RRF, then reranked with entity and intent
// boosts. The surviving candidates are persisted as the query's
// retrieved context; any stale consolidated context is cleared.
//
// A single failed search degrades to an empty list. Only the case
// where every list comes back empty is surfaced, as a no-candidates
// pipeline error.
func (p *Pipeline) Retrieve(ctx context.Context, queryID string) (*store.Query, error) {
	q, err := p.queries.GetQuery(ctx, queryID)
	if err != nil {
		return nil, err
	}
	if err := requireVectors(q); err != nil {
		return nil, err
	}

	denseLists, lexicalLists := p.fanOutSearches(ctx, q)

	pooledDense := maxPoolDense(denseLists)
	pooledLexical := maxPoolLexical(lexicalLists)

	if len(pooledDense) == 0 && len(pooledLexical) == 0 {
		transition(q, store.StateRetrieved)
		q.RetrievedContext = []store.RetrievedChunk{}
		q.UpdatedAt = time.Now().UTC()
		if err := p.queries.UpdateQuery(ctx, q); err != nil {
			return nil, err
		}
		slog.Warn("retrieval produced no candidates", "query_id", q.ID)
		return q, ragerr.New(ragerr.ErrCodeNoCandidates,
			"no candidates from any search list", nil)
	}

	fused := FuseRanks([][]int64{pooledDense, pooledLexical}, p.cfg.RRFConstant, p.cfg.KFuse)

	retrieved, err := p.rerankFused(ctx, q, fused)
	if err != nil {
		return nil, err
	}

	transition(q, store.StateRetrieved)
	q.RetrievedContext = retrieved
	q.UpdatedAt = time.Now().UTC()
	if err := p.queries.UpdateQuery(ctx, q); err != nil {
		return nil, err
	}

	slog.Info("query retrieved",
		"query_id", q.ID,
		"dense_lists", len(denseLists),
		"lexical_lists", len(lexicalLists),
		"fused", len(fused),
		"kept", len(retrieved))
	return q, nil
}

// fanOutSearches runs every dense and lexical search in parallel and
// collects the per-variant hit lists. Individual failures log and
// yield an empty list.
func (p *Pipeline) fanOutSearches(ctx context.Context, q *store.Query) ([][]store.DenseResult, [][]store.LexicalResult) {
	vectors := queryVectors(q)
	lexicalQueries := append([]string{q.OriginalQuery}, q.ExpandedQueries...)

	denseLists := make([][]store.DenseResult, len(vectors))
	lexicalLists := make([][]store.LexicalResult, len(lexicalQueries))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for i, vec := range vectors {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, p.cfg.DenseTimeout)
			defer cancel()
			hits, err := p.dense.Search(callCtx, vec, p.cfg.DenseLimit)
			if err != nil {
				slog.Warn("dense search failed, treating list as empty",
					"query_id", q.ID, "variant", i, "error", err)
				return nil
			}
			mu.Lock()
			denseLists[i] = hits
			mu.Unlock()
			return nil
		})
	}

	for i, text := range lexicalQueries {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, p.cfg.LexicalTimeout)
			defer cancel()
			hits, err := p.lexical.Search(callCtx, text, p.cfg.LexicalLimit)
			if err != nil {
				slog.Warn("lexical search failed, treating list as empty",
					"query_id", q.ID, "variant", i, "error", err)
				return nil
			}
			mu.Lock()
			lexicalLists[i] = hits
			mu.Unlock()
			return nil
		})
	}

	// Goroutines never return errors; Wait is a join.
	_ = g.Wait()
	return denseLists, lexicalLists
}

// maxPoolDense merges dense variant lists: each chunk keeps its best
// similarity across lists, and the pooled list is re-ranked by that
// pooled similarity, ties by ascending chunk id.
func maxPoolDense(lists [][]store.DenseResult) []int64 {
	best := make(map[int64]float64)
	for _, list := range lists {
		for _, hit := range list {
			if s, ok := best[hit.ChunkID]; !ok || hit.Similarity > s {
				best[hit.ChunkID] = hit.Similarity
			}
		}
	}
	return rankByScore(best)
}

// maxPoolLexical merges lexical lists by the same rule on rank score.
func maxPoolLexical(lists [][]store.LexicalResult) []int64 {
	best := make(map[int64]float64)
	for _, list := range lists {
		for _, hit := range list {
			if s, ok := best[hit.ChunkID]; !ok || hit.RankScore > s {
				best[hit.ChunkID] = hit.RankScore
			}
		}
	}
	return rankByScore(best)
}

func rankByScore(best map[int64]float64) []int64 {
	ids := make([]int64, 0, len(best))
	for id := range best {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if best[ids[i]] != best[ids[j]] {
			return best[ids[i]] > best[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}

// rerankFused loads chunk records for the fused candidates, scores
// them with the cross-encoder, applies boosts, and keeps the top
// K_rerank. On reranker failure the RRF order stands in, with
// rerank_score set to rrf_score and boosts still applied.
func (p *Pipeline) rerankFused(ctx context.Context, q *store.Query, fused []FusedCandidate) ([]store.RetrievedChunk, error) {
	ids := make([]int64, len(fused))
	for i, c := range fused {
		ids[i] = c.ChunkID
	}

	chunks, err := p.gateway.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	parents, err := p.gateway.GetParentChunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	candidates := make([]*rerankCandidate, 0, len(fused))
	for _, fc := range fused {
		chunk, ok := chunks[fc.ChunkID]
		if !ok {
			// Index can briefly outrun the metadata store.
			slog.Warn("fused candidate missing from store", "chunk_id", fc.ChunkID)
			continue
		}
		cand := &rerankCandidate{Chunk: chunk, RRFScore: fc.RRFScore}
		if parent, ok := parents[fc.ChunkID]; ok {
			cand.ParentLevel = parent.Level
		}
		candidates = append(candidates, cand)
	}
	if len(candidates) == 0 {
		return []store.RetrievedChunk{}, nil
	}

	p.scoreCandidates(ctx, q, candidates)

	for _, c := range candidates {
		c.EntityBoost = entityBoost(q.Entities, c.Chunk.Content, p.cfg.EntityBeta)
		c.IntentBoost = intentBoost(q.Intent, c, q.Entities, p.cfg.IntentBeta)
	}
	sortReranked(candidates)

	if len(candidates) > p.cfg.KRerank {
		candidates = candidates[:p.cfg.KRerank]
	}

	retrieved := make([]store.RetrievedChunk, 0, len(candidates))
	for _, c := range candidates {
		retrieved = append(retrieved, store.RetrievedChunk{
			ChunkID:            c.Chunk.ID,
			WorkID:             c.Chunk.WorkID,
			ParentID:           c.Chunk.ParentID,
			Content:            c.Chunk.Content,
			HeadingBreadcrumbs: c.Chunk.HeadingBreadcrumbs,
			StartLine:          c.Chunk.StartLine,
			EndLine:            c.Chunk.EndLine,
			Level:              c.Chunk.Level,
			RRFScore:           c.RRFScore,
			RerankScore:        c.RerankScore,
			EntityBoost:        c.EntityBoost,
			IntentBoost:        c.IntentBoost,
			FinalScore:         c.finalScore(),
		})
	}
	return retrieved, nil
}

// scoreCandidates fills RerankScore from the cross-encoder, falling
// back to the RRF score when no reranker is wired or the call fails.
func (p *Pipeline) scoreCandidates(ctx context.Context, q *store.Query, candidates []*rerankCandidate) {
	fallback := func() {
		for _, c := range candidates {
			c.RerankScore = c.RRFScore
		}
	}
	if p.reranker == nil {
		fallback()
		return
	}

	docs := make([]RerankDocument, len(candidates))
	for i, c := range candidates {
		docs[i] = RerankDocument{ChunkID: c.Chunk.ID, Text: c.Chunk.Content}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.RerankTimeout)
	defer cancel()
	scores, err := p.reranker.Score(callCtx, q.OriginalQuery, docs)
	if err != nil {
		slog.Warn("rerank failed, falling back to fusion order",
			"query_id", q.ID, "error", err)
		fallback()
		return
	}
	for i, c := range candidates {
		c.RerankScore = scores[i]
	}
}
