package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	ragerr "github.com/DominikGorecki/psychrag-sub002/internal/errors"
	"github.com/DominikGorecki/psychrag-sub002/internal/store"
)

// Function tags of the templates the pipeline resolves at runtime.
const (
	TagRagAugmentation = "rag_augmentation"
	TagQueryExpansion  = "query_expansion"
)

// fallbackAugmentation is used when no active rag_augmentation
// template exists in the store.
const fallbackAugmentation = `You are an assistant answering questions about academic works in psychology.

Answer the question using the numbered sources below. Cite every claim drawn
from a source with its [S#] label; the label maps to (work_id, start_line,
end_line) in the source header. Clearly separate claims supported by the
sources from any general-knowledge additions, and mark the latter as such.
Shape the answer for a question of type {intent}.

Key entities: {entities_str}

Sources:
{contexts}

Question: {query}

Answer:`

// fallbackExpansion is used when no active query_expansion template
// exists in the store.
const fallbackExpansion = `You are a query analyst for a psychology literature search system.

Analyze the user question below and respond with a single JSON object with
exactly these fields:
- "expanded_queries": 3 to 5 paraphrases emphasizing different terminology
- "hyde_answer": a one-paragraph hypothetical answer, as if quoted from a textbook
- "intent": one of DEFINITION, MECHANISM, COMPARISON, APPLICATION, STUDY_DETAIL, CRITIQUE
- "entities": the key named concepts, constructs, and proper nouns in the question

Respond with the JSON object only, no prose around it.

Question: {query}`

var placeholderPattern = regexp.MustCompile(`\{([a-z_][a-z0-9_]*)\}`)

// resolveTemplate returns the active template content for the tag,
// falling back to the compiled-in default when none is active.
func (p *Pipeline) resolveTemplate(ctx context.Context, tag string) string {
	if p.templates != nil {
		if t, err := p.templates.ActiveTemplate(ctx, tag); err == nil {
			return t.TemplateContent
		}
	}
	switch tag {
	case TagQueryExpansion:
		return fallbackExpansion
	default:
		return fallbackAugmentation
	}
}

// fillTemplate substitutes {name} placeholders. Every placeholder the
// template references must be supplied.
func fillTemplate(template string, vars map[string]string) (string, error) {
	var missing []string
	filled := placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := vars[name]; ok {
			return v
		}
		missing = append(missing, name)
		return m
	})
	if len(missing) > 0 {
		return "", ragerr.New(ragerr.ErrCodeInvalidInput,
			fmt.Sprintf("template references unsupplied variables: %s", strings.Join(missing, ", ")), nil)
	}
	return filled, nil
}

// promptSource is one selected context group, normalized from either
// consolidated groups or raw retrieved chunks.
type promptSource struct {
	WorkID    int64
	StartLine int
	EndLine   int
	Content   string
}

// BuildPrompt formats the query's top-N evidence into numbered source
// blocks and fills the rag_augmentation template. It is a pure
// function of the query record and never invokes the model.
func (p *Pipeline) BuildPrompt(ctx context.Context, queryID string, topN int) (string, int, error) {
	q, err := p.queries.GetQuery(ctx, queryID)
	if err != nil {
		return "", 0, err
	}
	return p.buildPromptFor(ctx, q, topN)
}

func (p *Pipeline) buildPromptFor(ctx context.Context, q *store.Query, topN int) (string, int, error) {
	if err := requireMinState(q, store.StateRetrieved); err != nil {
		return "", 0, err
	}
	if topN <= 0 {
		topN = p.cfg.TopN
	}

	sources := selectSources(q, topN)
	if len(sources) == 0 {
		return "", 0, ragerr.Precondition(
			fmt.Sprintf("query %s has no retrieval context to augment with", q.ID))
	}

	blocks := make([]string, 0, len(sources))
	titles := map[int64]string{}
	for i, src := range sources {
		title, ok := titles[src.WorkID]
		if !ok {
			title = p.workTitle(ctx, src.WorkID)
			titles[src.WorkID] = title
		}
		blocks = append(blocks, formatSourceBlock(i+1, title, src))
	}

	intent := string(q.Intent)
	if intent == "" {
		intent = string(store.IntentUnknown)
	}
	entitiesStr := "(none)"
	if len(q.Entities) > 0 {
		entitiesStr = strings.Join(q.Entities, ", ")
	}

	prompt, err := fillTemplate(p.resolveTemplate(ctx, TagRagAugmentation), map[string]string{
		"query":        q.OriginalQuery,
		"contexts":     strings.Join(blocks, "\n\n"),
		"intent":       intent,
		"entities_str": entitiesStr,
	})
	if err != nil {
		return "", 0, err
	}
	return prompt, len(sources), nil
}

// selectSources prefers the consolidated context and falls back to
// raw retrieved chunks, preserving each list's stored order.
func selectSources(q *store.Query, topN int) []promptSource {
	var sources []promptSource
	if len(q.CleanRetrievalContext) > 0 {
		for _, g := range q.CleanRetrievalContext {
			sources = append(sources, promptSource{
				WorkID:    g.WorkID,
				StartLine: g.StartLine,
				EndLine:   g.EndLine,
				Content:   g.Content,
			})
		}
	} else {
		for _, rc := range q.RetrievedContext {
			sources = append(sources, promptSource{
				WorkID:    rc.WorkID,
				StartLine: rc.StartLine,
				EndLine:   rc.EndLine,
				Content:   rc.Content,
			})
		}
	}
	if len(sources) > topN {
		sources = sources[:topN]
	}
	return sources
}

func (p *Pipeline) workTitle(ctx context.Context, workID int64) string {
	if p.gateway != nil {
		if w, err := p.gateway.GetWork(ctx, workID); err == nil {
			return w.Title
		}
	}
	return fmt.Sprintf("work %d", workID)
}

// formatSourceBlock renders one numbered source block. The first
// non-blank content line becomes the header; the remainder, stripped
// of leading and trailing blank lines, becomes the body.
func formatSourceBlock(index int, workTitle string, src promptSource) string {
	firstLine, rest := splitFirstLine(src.Content)
	header := fmt.Sprintf("[S%d] Source: %s -- %s | (work_id=%d, start_line=%d, end_line=%d)",
		index, workTitle, firstLine, src.WorkID, src.StartLine, src.EndLine)
	return header + "\nText:\n" + rest
}

// splitFirstLine returns the first non-blank line and the remaining
// content with the line, one immediately following blank line, and
// surrounding blank lines stripped.
func splitFirstLine(content string) (string, string) {
	lines := strings.Split(content, "\n")
	first := ""
	idx := -1
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			first = strings.TrimSpace(line)
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", ""
	}
	rest := lines[idx+1:]
	if len(rest) > 0 && strings.TrimSpace(rest[0]) == "" {
		rest = rest[1:]
	}
	joined := strings.Trim(strings.Join(rest, "\n"), "\n")
	return first, strings.TrimRight(joined, " \t")
}
