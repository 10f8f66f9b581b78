package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DominikGorecki/psychrag-sub002/internal/config"
	"github.com/DominikGorecki/psychrag-sub002/internal/embed"
	ragerr "github.com/DominikGorecki/psychrag-sub002/internal/errors"
	"github.com/DominikGorecki/psychrag-sub002/internal/llm"
	"github.com/DominikGorecki/psychrag-sub002/internal/rag"
	"github.com/DominikGorecki/psychrag-sub002/internal/store"
)

// --- in-memory doubles -------------------------------------------------

type memGateway struct {
	works  map[int64]*store.Work
	chunks map[int64]*store.Chunk
	slices map[string]string
}

func newMemGateway() *memGateway {
	return &memGateway{
		works:  map[int64]*store.Work{},
		chunks: map[int64]*store.Chunk{},
		slices: map[string]string{},
	}
}

func (g *memGateway) GetWork(_ context.Context, id int64) (*store.Work, error) {
	if w, ok := g.works[id]; ok {
		return w, nil
	}
	return nil, ragerr.NotFound("work", fmt.Sprint(id))
}

func (g *memGateway) GetChunk(_ context.Context, id int64) (*store.Chunk, error) {
	if c, ok := g.chunks[id]; ok {
		return c, nil
	}
	return nil, ragerr.NotFound("chunk", fmt.Sprint(id))
}

func (g *memGateway) GetChunks(_ context.Context, ids []int64) (map[int64]*store.Chunk, error) {
	out := map[int64]*store.Chunk{}
	for _, id := range ids {
		if c, ok := g.chunks[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (g *memGateway) GetParentChunks(_ context.Context, childIDs []int64) (map[int64]*store.Chunk, error) {
	out := map[int64]*store.Chunk{}
	for _, id := range childIDs {
		c, ok := g.chunks[id]
		if !ok || c.ParentID == nil {
			continue
		}
		if p, ok := g.chunks[*c.ParentID]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (g *memGateway) GetSlice(workID int64, start, end int) (string, bool) {
	s, ok := g.slices[fmt.Sprintf("%d:%d:%d", workID, start, end)]
	return s, ok
}

func (g *memGateway) ReadSanitizedSlice(_ context.Context, workID int64, start, end int) (string, error) {
	if s, ok := g.GetSlice(workID, start, end); ok {
		return s, nil
	}
	return strings.Repeat("sanitized line content here padding words. ", 10), nil
}

type memQueryStore struct {
	mu      sync.Mutex
	queries map[string]*store.Query
	results map[string][]*store.Result
}

func newMemQueryStore() *memQueryStore {
	return &memQueryStore{queries: map[string]*store.Query{}, results: map[string][]*store.Result{}}
}

func (s *memQueryStore) CreateQuery(_ context.Context, q *store.Query) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *q
	s.queries[q.ID] = &cp
	return nil
}

func (s *memQueryStore) GetQuery(_ context.Context, id string) (*store.Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queries[id]
	if !ok {
		return nil, ragerr.NotFound("query", id)
	}
	cp := *q
	return &cp, nil
}

func (s *memQueryStore) UpdateQuery(_ context.Context, q *store.Query) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queries[q.ID]; !ok {
		return ragerr.NotFound("query", q.ID)
	}
	cp := *q
	s.queries[q.ID] = &cp
	return nil
}

func (s *memQueryStore) ListQueries(_ context.Context, limit int) ([]*store.Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*store.Query{}
	for _, q := range s.queries {
		cp := *q
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memQueryStore) CreateResult(_ context.Context, r *store.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.results[r.QueryID] = append(s.results[r.QueryID], &cp)
	return nil
}

func (s *memQueryStore) ListResults(_ context.Context, queryID string) ([]*store.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*store.Result{}, s.results[queryID]...), nil
}

type memTemplateStore struct{}

func (memTemplateStore) ActiveTemplate(_ context.Context, tag string) (*store.PromptTemplate, error) {
	return nil, ragerr.NotFound("prompt_template", tag)
}
func (memTemplateStore) ListTemplates(context.Context, string) ([]*store.PromptTemplate, error) {
	return nil, nil
}
func (memTemplateStore) CreateTemplate(_ context.Context, t *store.PromptTemplate) error {
	t.ID = 1
	t.Version = 1
	return nil
}
func (memTemplateStore) ActivateTemplate(context.Context, int64) error { return nil }

type scriptedLLM struct {
	response string
}

func (s *scriptedLLM) Generate(context.Context, llm.GenerateRequest) (string, error) {
	return s.response, nil
}
func (s *scriptedLLM) Available(context.Context) bool { return true }
func (s *scriptedLLM) Close() error                   { return nil }

type memDense struct{ hits []store.DenseResult }

func (d *memDense) Search(context.Context, []float32, int) ([]store.DenseResult, error) {
	return d.hits, nil
}

type memLexical struct{ hits []store.LexicalResult }

func (l *memLexical) Search(context.Context, string, int) ([]store.LexicalResult, error) {
	return l.hits, nil
}

// --- fixture -----------------------------------------------------------

type apiFixture struct {
	gw     *memGateway
	qs     *memQueryStore
	llm    *scriptedLLM
	dense  *memDense
	lex    *memLexical
	server *Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		gw:    newMemGateway(),
		qs:    newMemQueryStore(),
		llm:   &scriptedLLM{response: `{"expanded": ["paraphrase one"], "hyde": "a plausible answer", "intent": "DEFINITION", "entities": ["working memory"]}`},
		dense: &memDense{},
		lex:   &memLexical{},
	}
	cfg := config.Default().Retrieval
	cfg.Dimensions = 8
	pipeline := rag.NewPipeline(f.gw, f.qs, memTemplateStore{}, f.dense, f.lex,
		embed.NewStaticEmbedder(8), f.llm, nil, cfg)
	f.server = NewServer(":0", pipeline, f.qs, memTemplateStore{}, nil, nil)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (f *apiFixture) seedCorpus() {
	parent := int64(100)
	f.gw.works[1] = &store.Work{ID: 1, Title: "Cognition"}
	f.gw.chunks[100] = &store.Chunk{ID: 100, WorkID: 1, Level: store.LevelH2,
		Content: "## Section\n\n" + strings.Repeat("parent body text. ", 30), StartLine: 1, EndLine: 100}
	f.gw.chunks[1] = &store.Chunk{ID: 1, WorkID: 1, ParentID: &parent, Level: store.LevelChunk,
		Content: strings.Repeat("chunk one text. ", 10), StartLine: 1, EndLine: 60}
	f.dense.hits = []store.DenseResult{{ChunkID: 1, Similarity: 0.9}}
	f.lex.hits = []store.LexicalResult{{ChunkID: 1, RankScore: 5.0}}
}

// runToRetrieved drives a query through expansion, embed, retrieve.
func (f *apiFixture) runToRetrieved(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/rag/expansion/run",
		map[string]any{"original_query": "What is working memory?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	queryID := decode(t, rec)["query_id"].(string)

	rec = f.do(t, http.MethodPost, "/rag/queries/"+queryID+"/embed", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "vec", decode(t, rec)["vector_status"])

	rec = f.do(t, http.MethodPost, "/rag/queries/"+queryID+"/retrieve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return queryID
}

// --- tests -------------------------------------------------------------

func TestFullPipelineOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	f.seedCorpus()

	queryID := f.runToRetrieved(t)

	rec := f.do(t, http.MethodPost, "/rag/queries/"+queryID+"/consolidate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["original_count"])
	assert.EqualValues(t, 1, body["consolidated_count"])

	rec = f.do(t, http.MethodGet, "/rag/queries/"+queryID+"/augment/prompt?top_n=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Contains(t, body["prompt"].(string), "[S1]")
	assert.EqualValues(t, 1, body["context_count"])

	f.llm.response = "Working memory is a limited-capacity system [S1]."
	rec = f.do(t, http.MethodPost, "/rag/queries/"+queryID+"/augment/run",
		map[string]any{"top_n": 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decode(t, rec)
	assert.NotEmpty(t, body["result_id"])
	assert.Contains(t, body["response_text"].(string), "[S1]")

	rec = f.do(t, http.MethodGet, "/rag/queries/"+queryID+"/results", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	results := decode(t, rec)["results"].([]any)
	assert.Len(t, results, 1)

	rec = f.do(t, http.MethodGet, "/rag/queries/"+queryID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "answered", body["state"])
}

func TestExpansionRunValidation(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/rag/expansion/run", map[string]any{"original_query": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExpansionManual(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/rag/expansion/manual", map[string]any{
		"original_query": "what is attention",
		"llm_response":   `{"expanded": ["define attention"], "intent": "DEFINITION"}`,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.NotEmpty(t, body["query_id"])
	assert.Equal(t, false, body["parse_warning"])
}

func TestUnknownQueryIs404(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/rag/queries/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ragerr.ErrCodeNotFound, decode(t, rec)["code"])
}

func TestRetrieveBeforeEmbedIs409(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/rag/expansion/run",
		map[string]any{"original_query": "question"})
	require.Equal(t, http.StatusOK, rec.Code)
	queryID := decode(t, rec)["query_id"].(string)

	rec = f.do(t, http.MethodPost, "/rag/queries/"+queryID+"/retrieve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, ragerr.ErrCodePrecondition, body["code"])
	assert.Contains(t, body["error"].(string), "vector_status = vec")
}

func TestRetrieveNoCandidatesIs200(t *testing.T) {
	f := newAPIFixture(t)
	// No corpus seeded: searches return nothing.
	rec := f.do(t, http.MethodPost, "/rag/expansion/run",
		map[string]any{"original_query": "question"})
	require.Equal(t, http.StatusOK, rec.Code)
	queryID := decode(t, rec)["query_id"].(string)

	rec = f.do(t, http.MethodPost, "/rag/queries/"+queryID+"/embed", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/rag/queries/"+queryID+"/retrieve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode(t, rec)["chunks_retrieved"])
}

func TestAugmentPromptBadTopN(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/rag/queries/x/augment/prompt?top_n=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAugmentManualPersistsResult(t *testing.T) {
	f := newAPIFixture(t)
	f.seedCorpus()
	queryID := f.runToRetrieved(t)

	rec := f.do(t, http.MethodPost, "/rag/queries/"+queryID+"/augment/manual",
		map[string]any{"response_text": "pasted answer"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode(t, rec)["result_id"])
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestListQueries(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/rag/expansion/run",
		map[string]any{"original_query": "question"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/rag/queries/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	queries := decode(t, rec)["queries"].([]any)
	assert.Len(t, queries, 1)
}
