package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerr "github.com/DominikGorecki/psychrag-sub002/internal/errors"
	"github.com/DominikGorecki/psychrag-sub002/internal/store"
)

func TestParseExpansionPlainJSON(t *testing.T) {
	parsed, err := ParseExpansion(`{
		"expanded_queries": ["Define working memory", "What does working memory mean"],
		"hyde_answer": "Working memory is a limited-capacity system.",
		"intent": "DEFINITION",
		"entities": ["working memory", "Working Memory", "Baddeley"]
	}`)
	require.NoError(t, err)

	assert.Len(t, parsed.Expanded, 2)
	assert.Equal(t, "Working memory is a limited-capacity system.", parsed.Hyde)
	assert.Equal(t, store.IntentDefinition, parsed.Intent)
	// Case-insensitive dedupe keeps the first casing.
	assert.Equal(t, []string{"working memory", "Baddeley"}, parsed.Entities)
}

func TestParseExpansionFencedJSON(t *testing.T) {
	parsed, err := ParseExpansion("Here is the analysis:\n```json\n" +
		`{"expanded": ["q1"], "hyde": "h", "intent": "mechanism", "entities": ["x"]}` +
		"\n```\nHope that helps!")
	require.NoError(t, err)

	assert.Equal(t, []string{"q1"}, parsed.Expanded)
	assert.Equal(t, store.IntentMechanism, parsed.Intent)
}

func TestParseExpansionJSONSurroundedByProse(t *testing.T) {
	parsed, err := ParseExpansion(
		`Sure! {"expanded_queries": ["alpha"], "intent": "COMPARISON", "entities": []} Done.`)
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha"}, parsed.Expanded)
	assert.Equal(t, store.IntentComparison, parsed.Intent)
}

func TestParseExpansionLabeledSections(t *testing.T) {
	parsed, err := ParseExpansion(`EXPANDED QUERIES:
1. What is cognitive load
2) Cognitive load explained
- Effects of cognitive load

HYDE:
Cognitive load refers to working memory demand.
It grows with task complexity.

INTENT: DEFINITION

ENTITIES: cognitive load, working memory, Cognitive Load`)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"What is cognitive load",
		"Cognitive load explained",
		"Effects of cognitive load",
	}, parsed.Expanded)
	assert.Contains(t, parsed.Hyde, "working memory demand")
	assert.Contains(t, parsed.Hyde, "task complexity")
	assert.Equal(t, store.IntentDefinition, parsed.Intent)
	assert.Equal(t, []string{"cognitive load", "working memory"}, parsed.Entities)
}

func TestParseExpansionUnknownIntent(t *testing.T) {
	parsed, err := ParseExpansion(`{"expanded": ["q"], "intent": "SOMETHING_ELSE"}`)
	require.NoError(t, err)
	assert.Equal(t, store.IntentUnknown, parsed.Intent)
}

func TestParseExpansionFailure(t *testing.T) {
	_, err := ParseExpansion("I am not sure what you are asking about. Could you clarify?")
	require.Error(t, err)
	assert.True(t, ragerr.HasCode(err, ragerr.ErrCodeParseWarning))
}

func TestParseExpansionEmptyJSONFallsThrough(t *testing.T) {
	// Structurally valid JSON with no usable content is a failure.
	_, err := ParseExpansion(`{"something": "else"}`)
	require.Error(t, err)
}
