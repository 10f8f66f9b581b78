// Package rag implements the staged query pipeline: expansion,
// embedding, hybrid retrieval, consolidation, prompt augmentation,
// and answering. Every stage is gated by the query state machine and
// persists its output with a single atomic write.
package rag

import (
	"context"

	"github.com/DominikGorecki/psychrag-sub002/internal/config"
	"github.com/DominikGorecki/psychrag-sub002/internal/embed"
	"github.com/DominikGorecki/psychrag-sub002/internal/llm"
	"github.com/DominikGorecki/psychrag-sub002/internal/store"
)

// DenseSearcher performs approximate nearest-neighbor search over the
// chunk vector index. Hits already satisfy the retrieval eligibility
// filter (parent_id non-null, vector_status = vec).
type DenseSearcher interface {
	Search(ctx context.Context, query []float32, limit int) ([]store.DenseResult, error)
}

// LexicalSearcher performs BM25-ranked full-text search over chunk
// content with the same eligibility filter.
type LexicalSearcher interface {
	Search(ctx context.Context, queryText string, limit int) ([]store.LexicalResult, error)
}

var (
	_ DenseSearcher   = (*store.DenseIndex)(nil)
	_ LexicalSearcher = (*store.LexicalIndex)(nil)
)

// Pipeline wires the stages to their collaborators. Pipelines are
// safe for concurrent queries; no state is shared between queries
// beyond the stores.
type Pipeline struct {
	gateway   store.Gateway
	queries   store.QueryStore
	templates store.TemplateStore
	dense     DenseSearcher
	lexical   LexicalSearcher
	embedder  embed.Embedder
	generator llm.Client
	reranker  Reranker
	cfg       config.RetrievalConfig
}

// NewPipeline creates a pipeline with the given collaborators.
// A nil reranker falls back to RRF ordering; the same fallback is
// taken when the reranker returns an error.
func NewPipeline(
	gateway store.Gateway,
	queries store.QueryStore,
	templates store.TemplateStore,
	dense DenseSearcher,
	lexical LexicalSearcher,
	embedder embed.Embedder,
	generator llm.Client,
	reranker Reranker,
	cfg config.RetrievalConfig,
) *Pipeline {
	return &Pipeline{
		gateway:   gateway,
		queries:   queries,
		templates: templates,
		dense:     dense,
		lexical:   lexical,
		embedder:  embedder,
		generator: generator,
		reranker:  reranker,
		cfg:       cfg,
	}
}
