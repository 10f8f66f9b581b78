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

// Expand runs query expansion: one generative call producing
// paraphrases, a hypothetical answer, an intent class, and entities,
// then persists a new Query in state expanded. Parse failures retry
// once at temperature zero; a second failure degrades to an
// unexpanded query flagged with a parse warning rather than failing
// the request.
func (p *Pipeline) Expand(ctx context.Context, originalQuery string, tier llm.Tier) (*store.Query, error) {
	originalQuery = strings.TrimSpace(originalQuery)
	if originalQuery == "" {
		return nil, ragerr.New(ragerr.ErrCodeInvalidInput, "query text is empty", nil)
	}
	if tier == "" {
		tier = llm.TierFull
	}

	prompt, err := fillTemplate(p.resolveTemplate(ctx, TagQueryExpansion),
		map[string]string{"query": originalQuery})
	if err != nil {
		return nil, err
	}

	parsed, warned, err := p.expandWithRetry(ctx, prompt, tier)
	if err != nil {
		return nil, err
	}

	return p.createExpandedQuery(ctx, originalQuery, parsed, warned)
}

// ExpandManual parses a caller-supplied expansion response instead of
// calling the model. The same degradation rules apply.
func (p *Pipeline) ExpandManual(ctx context.Context, originalQuery, response string) (*store.Query, error) {
	originalQuery = strings.TrimSpace(originalQuery)
	if originalQuery == "" {
		return nil, ragerr.New(ragerr.ErrCodeInvalidInput, "query text is empty", nil)
	}

	parsed, err := ParseExpansion(response)
	warned := false
	if err != nil {
		slog.Warn("manual expansion response unparseable, degrading",
			"error", err)
		parsed = ParsedExpansion{Intent: store.IntentUnknown}
		warned = true
	}
	return p.createExpandedQuery(ctx, originalQuery, parsed, warned)
}

// expandWithRetry calls the model, reattempting once at temperature
// zero when the first response fails to parse.
func (p *Pipeline) expandWithRetry(ctx context.Context, prompt string, tier llm.Tier) (ParsedExpansion, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.GenerateTimeout)
	defer cancel()

	response, err := p.generator.Generate(callCtx, llm.GenerateRequest{
		Prompt: prompt,
		Tier:   tier,
	})
	if err != nil {
		return ParsedExpansion{}, false, err
	}

	parsed, parseErr := ParseExpansion(response)
	if parseErr == nil {
		return parsed, false, nil
	}

	slog.Warn("expansion parse failed, retrying at temperature 0", "error", parseErr)
	zero := 0.0
	response, err = p.generator.Generate(callCtx, llm.GenerateRequest{
		Prompt:      prompt,
		Tier:        tier,
		Temperature: &zero,
	})
	if err != nil {
		return ParsedExpansion{}, false, err
	}

	parsed, parseErr = ParseExpansion(response)
	if parseErr == nil {
		return parsed, false, nil
	}

	slog.Warn("expansion parse failed twice, degrading to unexpanded query", "error", parseErr)
	return ParsedExpansion{Intent: store.IntentUnknown}, true, nil
}

func (p *Pipeline) createExpandedQuery(ctx context.Context, originalQuery string, parsed ParsedExpansion, warned bool) (*store.Query, error) {
	now := time.Now().UTC()
	q := &store.Query{
		ID:              uuid.NewString(),
		OriginalQuery:   originalQuery,
		ExpandedQueries: parsed.Expanded,
		HydeAnswer:      parsed.Hyde,
		Intent:          parsed.Intent,
		Entities:        parsed.Entities,
		VectorStatus:    store.VectorStatusNone,
		State:           store.StateExpanded,
		ParseWarning:    warned,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if q.Intent == "" {
		q.Intent = store.IntentUnknown
	}
	if err := p.queries.CreateQuery(ctx, q); err != nil {
		return nil, err
	}

	slog.Info("query expanded",
		"query_id", q.ID,
		"expansions", len(q.ExpandedQueries),
		"entities", len(q.Entities),
		"intent", q.Intent,
		"parse_warning", q.ParseWarning)
	return q, nil
}
