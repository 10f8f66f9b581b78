package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerr "github.com/DominikGorecki/psychrag-sub002/internal/errors"
)

func TestQueryLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	parent := int64(10)

	q := &Query{
		ID:              "q-1",
		OriginalQuery:   "what is working memory",
		ExpandedQueries: []string{"define working memory", "working memory capacity"},
		HydeAnswer:      "a hypothetical answer",
		Intent:          IntentDefinition,
		Entities:        []string{"working memory"},
		VectorStatus:    VectorStatusNone,
		State:           StateExpanded,
	}
	require.NoError(t, s.CreateQuery(ctx, q))

	got, err := s.GetQuery(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, q.OriginalQuery, got.OriginalQuery)
	assert.Equal(t, q.ExpandedQueries, got.ExpandedQueries)
	assert.Equal(t, q.HydeAnswer, got.HydeAnswer)
	assert.Equal(t, IntentDefinition, got.Intent)
	assert.Equal(t, StateExpanded, got.State)
	assert.Nil(t, got.EmbeddingOriginal)
	assert.Nil(t, got.RetrievedContext)

	got.EmbeddingOriginal = []float32{0.1, 0.2}
	got.EmbeddingsMQE = [][]float32{{0.3, 0.4}, {0.5, 0.6}}
	got.EmbeddingHyde = []float32{0.7, 0.8}
	got.VectorStatus = VectorStatusVec
	got.State = StateEmbedded
	got.RetrievedContext = []RetrievedChunk{
		{ChunkID: 1, WorkID: 1, ParentID: &parent, Content: "text",
			StartLine: 1, EndLine: 5, Level: LevelChunk,
			RRFScore: 0.03, RerankScore: 0.9, FinalScore: 0.95},
	}
	got.CleanRetrievalContext = []ConsolidatedGroup{
		{ChunkIDs: []int64{1, 2}, ParentID: &parent, WorkID: 1, Content: "merged",
			StartLine: 1, EndLine: 9, Score: 0.95, HeadingChain: []string{"Intro"}},
	}
	require.NoError(t, s.UpdateQuery(ctx, got))

	reloaded, err := s.GetQuery(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, reloaded.EmbeddingOriginal)
	assert.Len(t, reloaded.EmbeddingsMQE, 2)
	assert.Equal(t, VectorStatusVec, reloaded.VectorStatus)
	require.Len(t, reloaded.RetrievedContext, 1)
	require.NotNil(t, reloaded.RetrievedContext[0].ParentID)
	assert.Equal(t, parent, *reloaded.RetrievedContext[0].ParentID)
	assert.InDelta(t, 0.95, reloaded.RetrievedContext[0].FinalScore, 1e-9)
	require.Len(t, reloaded.CleanRetrievalContext, 1)
	assert.Equal(t, []int64{1, 2}, reloaded.CleanRetrievalContext[0].ChunkIDs)
	assert.Equal(t, []string{"Intro"}, reloaded.CleanRetrievalContext[0].HeadingChain)
}

func TestGetQueryNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetQuery(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, ragerr.HasCode(err, ragerr.ErrCodeNotFound))
}

func TestUpdateQueryNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateQuery(context.Background(), &Query{ID: "missing"})
	require.Error(t, err)
	assert.True(t, ragerr.HasCode(err, ragerr.ErrCodeNotFound))
}

func TestListQueriesLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateQuery(ctx, &Query{ID: id, OriginalQuery: "q", State: StateCreated}))
	}

	queries, err := s.ListQueries(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, queries, 2)
}

func TestResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateQuery(ctx, &Query{ID: "q-1", OriginalQuery: "q", State: StateCreated}))

	require.NoError(t, s.CreateResult(ctx, &Result{ID: "r-1", QueryID: "q-1", ResponseText: "first answer"}))
	require.NoError(t, s.CreateResult(ctx, &Result{ID: "r-2", QueryID: "q-1", ResponseText: "second answer"}))

	results, err := s.ListResults(ctx, "q-1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "r-1", results[0].ID)
	assert.Equal(t, "second answer", results[1].ResponseText)
}

func TestChunkRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveWork(ctx, &Work{ID: 1, Title: "W"}))

	parent := int64(10)
	chunks := []*Chunk{
		{ID: 10, WorkID: 1, Level: LevelH2, Content: "## Heading",
			StartLine: 1, EndLine: 50, VectorStatus: VectorStatusNone},
		{ID: 1, WorkID: 1, ParentID: &parent, Level: LevelChunk, Content: "body text",
			HeadingBreadcrumbs: "Heading", StartLine: 2, EndLine: 10,
			VectorStatus: VectorStatusVec, Embedding: []float32{0.5, -0.5, 1.0}},
	}
	require.NoError(t, s.SaveChunks(ctx, chunks))

	c, err := s.GetChunk(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, c.ParentID)
	assert.Equal(t, parent, *c.ParentID)
	assert.Equal(t, LevelChunk, c.Level)
	assert.Equal(t, []float32{0.5, -0.5, 1.0}, c.Embedding)

	h, err := s.GetChunk(ctx, 10)
	require.NoError(t, err)
	assert.Nil(t, h.ParentID)
	assert.Nil(t, h.Embedding)

	_, err = s.GetChunk(ctx, 99)
	require.Error(t, err)
	assert.True(t, ragerr.HasCode(err, ragerr.ErrCodeNotFound))

	byID, err := s.GetChunks(ctx, []int64{1, 10, 99})
	require.NoError(t, err)
	assert.Len(t, byID, 2)

	parents, err := s.GetParentChunks(ctx, []int64{1, 10})
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, int64(10), parents[1].ID)
}

func TestEligibleChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveWork(ctx, &Work{ID: 1, Title: "W"}))

	parent := int64(10)
	require.NoError(t, s.SaveChunks(ctx, []*Chunk{
		// Heading: no parent, excluded.
		{ID: 10, WorkID: 1, Level: LevelH2, StartLine: 1, EndLine: 50, VectorStatus: VectorStatusVec},
		// Eligible.
		{ID: 1, WorkID: 1, ParentID: &parent, Level: LevelChunk, StartLine: 2, EndLine: 10,
			VectorStatus: VectorStatusVec, Embedding: []float32{1, 0}},
		// Not yet embedded, excluded.
		{ID: 2, WorkID: 1, ParentID: &parent, Level: LevelChunk, StartLine: 11, EndLine: 20,
			VectorStatus: VectorStatusToVec},
	}))

	chunks, err := s.EligibleChunks(ctx)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, int64(1), chunks[0].ID)
}

func TestListWorks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveWork(ctx, &Work{ID: 2, Title: "Second", Year: 2001}))
	require.NoError(t, s.SaveWork(ctx, &Work{ID: 1, Title: "First", Authors: "Baddeley"}))

	works, err := s.ListWorks(ctx)
	require.NoError(t, err)
	require.Len(t, works, 2)
	assert.Equal(t, "First", works[0].Title)
	assert.Equal(t, "Second", works[1].Title)
}

func TestTemplateVersioningAndActivation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1 := &PromptTemplate{FunctionTag: "rag_augmentation", Title: "v1", TemplateContent: "one {query}", IsActive: true}
	require.NoError(t, s.CreateTemplate(ctx, v1))
	assert.Equal(t, 1, v1.Version)

	v2 := &PromptTemplate{FunctionTag: "rag_augmentation", Title: "v2", TemplateContent: "two {query}", IsActive: true}
	require.NoError(t, s.CreateTemplate(ctx, v2))
	assert.Equal(t, 2, v2.Version)

	// Creating an active v2 deactivated v1.
	active, err := s.ActiveTemplate(ctx, "rag_augmentation")
	require.NoError(t, err)
	assert.Equal(t, v2.ID, active.ID)

	all, err := s.ListTemplates(ctx, "rag_augmentation")
	require.NoError(t, err)
	require.Len(t, all, 2)
	activeCount := 0
	for _, tpl := range all {
		if tpl.IsActive {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)

	// Re-activating v1 deactivates v2.
	require.NoError(t, s.ActivateTemplate(ctx, v1.ID))
	active, err = s.ActiveTemplate(ctx, "rag_augmentation")
	require.NoError(t, err)
	assert.Equal(t, v1.ID, active.ID)
}

func TestTemplateInactiveCreateKeepsActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1 := &PromptTemplate{FunctionTag: "query_expansion", TemplateContent: "one", IsActive: true}
	require.NoError(t, s.CreateTemplate(ctx, v1))
	v2 := &PromptTemplate{FunctionTag: "query_expansion", TemplateContent: "two", IsActive: false}
	require.NoError(t, s.CreateTemplate(ctx, v2))

	active, err := s.ActiveTemplate(ctx, "query_expansion")
	require.NoError(t, err)
	assert.Equal(t, v1.ID, active.ID)
}

func TestActiveTemplateNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ActiveTemplate(context.Background(), "no_such_tag")
	require.Error(t, err)
	assert.True(t, ragerr.HasCode(err, ragerr.ErrCodeNotFound))
}

func TestActivateTemplateNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.ActivateTemplate(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, ragerr.HasCode(err, ragerr.ErrCodeNotFound))
}

func TestRagConfigUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRagConfig(ctx, "default", `{"k_fuse":30}`))
	got, err := s.LoadRagConfig(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, `{"k_fuse":30}`, got)

	require.NoError(t, s.SaveRagConfig(ctx, "default", `{"k_fuse":50}`))
	got, err = s.LoadRagConfig(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, `{"k_fuse":50}`, got)

	_, err = s.LoadRagConfig(ctx, "missing")
	require.Error(t, err)
	assert.True(t, ragerr.HasCode(err, ragerr.ErrCodeNotFound))
}

func TestVectorCodec(t *testing.T) {
	v := []float32{0.0, 1.5, -2.25}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
	assert.Nil(t, encodeVector(nil))
	assert.Nil(t, decodeVector(nil))
	assert.Nil(t, decodeVector([]byte{1, 2, 3})) // not a multiple of 4
}
