package rag

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	ragerr "github.com/DominikGorecki/psychrag-sub002/internal/errors"
	"github.com/DominikGorecki/psychrag-sub002/internal/llm"
	"github.com/DominikGorecki/psychrag-sub002/internal/store"
)

// Answer builds the augmented prompt, invokes the generative model at
// the given tier, and persists the response as a new Result. The
// query moves to state answered; earlier Results are kept.
func (p *Pipeline) Answer(ctx context.Context, queryID string, topN int, tier llm.Tier) (*store.Result, error) {
	q, err := p.queries.GetQuery(ctx, queryID)
	if err != nil {
		return nil, err
	}
	if q.VectorStatus == store.VectorStatusError {
		return nil, ragerr.Precondition(
			"query " + q.ID + " has a failed embedding, re-run the embed stage first")
	}

	prompt, _, err := p.buildPromptFor(ctx, q, topN)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.GenerateTimeout)
	defer cancel()
	if tier == "" {
		tier = llm.TierFull
	}
	response, err := p.generator.Generate(callCtx, llm.GenerateRequest{Prompt: prompt, Tier: tier})
	if err != nil {
		return nil, err
	}

	return p.persistResult(ctx, q, response)
}

// AnswerManual persists a caller-supplied response as a Result
// without invoking the model. The query must still have context to
// answer from, mirroring the generated path.
func (p *Pipeline) AnswerManual(ctx context.Context, queryID, responseText string) (*store.Result, error) {
	if strings.TrimSpace(responseText) == "" {
		return nil, ragerr.New(ragerr.ErrCodeInvalidInput, "response text is empty", nil)
	}
	q, err := p.queries.GetQuery(ctx, queryID)
	if err != nil {
		return nil, err
	}
	if err := requireMinState(q, store.StateRetrieved); err != nil {
		return nil, err
	}
	return p.persistResult(ctx, q, responseText)
}

func (p *Pipeline) persistResult(ctx context.Context, q *store.Query, responseText string) (*store.Result, error) {
	now := time.Now().UTC()
	result := &store.Result{
		ID:           uuid.NewString(),
		QueryID:      q.ID,
		ResponseText: responseText,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := p.queries.CreateResult(ctx, result); err != nil {
		return nil, err
	}

	transition(q, store.StateAnswered)
	q.UpdatedAt = now
	if err := p.queries.UpdateQuery(ctx, q); err != nil {
		return nil, err
	}

	slog.Info("query answered", "query_id", q.ID, "result_id", result.ID,
		"response_chars", len(responseText))
	return result, nil
}
