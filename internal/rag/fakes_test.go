package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"

	ragerr "github.com/DominikGorecki/psychrag-sub002/internal/errors"
	"github.com/DominikGorecki/psychrag-sub002/internal/llm"
	"github.com/DominikGorecki/psychrag-sub002/internal/store"
)

// fakeGateway serves works, chunks, and sanitized slices from maps.
type fakeGateway struct {
	works  map[int64]*store.Work
	chunks map[int64]*store.Chunk
	slices map[string]string // "workID:start:end" -> content
	stale  map[int64]bool    // workID -> simulate stale source
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		works:  make(map[int64]*store.Work),
		chunks: make(map[int64]*store.Chunk),
		slices: make(map[string]string),
		stale:  make(map[int64]bool),
	}
}

func (g *fakeGateway) addWork(id int64, title string) {
	g.works[id] = &store.Work{ID: id, Title: title}
}

func (g *fakeGateway) addChunk(c *store.Chunk) {
	g.chunks[c.ID] = c
}

func (g *fakeGateway) setSlice(workID int64, start, end int, content string) {
	g.slices[fmt.Sprintf("%d:%d:%d", workID, start, end)] = content
}

func (g *fakeGateway) GetWork(_ context.Context, id int64) (*store.Work, error) {
	w, ok := g.works[id]
	if !ok {
		return nil, ragerr.NotFound("work", fmt.Sprint(id))
	}
	return w, nil
}

func (g *fakeGateway) GetChunk(_ context.Context, id int64) (*store.Chunk, error) {
	c, ok := g.chunks[id]
	if !ok {
		return nil, ragerr.NotFound("chunk", fmt.Sprint(id))
	}
	return c, nil
}

func (g *fakeGateway) GetChunks(_ context.Context, ids []int64) (map[int64]*store.Chunk, error) {
	out := make(map[int64]*store.Chunk)
	for _, id := range ids {
		if c, ok := g.chunks[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (g *fakeGateway) GetParentChunks(_ context.Context, childIDs []int64) (map[int64]*store.Chunk, error) {
	out := make(map[int64]*store.Chunk)
	for _, id := range childIDs {
		c, ok := g.chunks[id]
		if !ok || c.ParentID == nil {
			continue
		}
		if parent, ok := g.chunks[*c.ParentID]; ok {
			out[id] = parent
		}
	}
	return out, nil
}

func (g *fakeGateway) ReadSanitizedSlice(_ context.Context, workID int64, startLine, endLine int) (string, error) {
	if g.stale[workID] {
		return "", ragerr.StaleSource(fmt.Sprintf("work-%d.md", workID), nil)
	}
	if content, ok := g.slices[fmt.Sprintf("%d:%d:%d", workID, startLine, endLine)]; ok {
		return content, nil
	}
	// Deterministic synthetic lines when no explicit slice is set.
	lines := make([]string, 0, endLine-startLine+1)
	for i := startLine; i <= endLine; i++ {
		lines = append(lines, fmt.Sprintf("work %d line %d content", workID, i))
	}
	return strings.Join(lines, "\n"), nil
}

var _ store.Gateway = (*fakeGateway)(nil)

// fakeQueryStore keeps queries and results in memory.
type fakeQueryStore struct {
	mu      sync.Mutex
	queries map[string]*store.Query
	results map[string][]*store.Result
}

func newFakeQueryStore() *fakeQueryStore {
	return &fakeQueryStore{
		queries: make(map[string]*store.Query),
		results: make(map[string][]*store.Result),
	}
}

func (s *fakeQueryStore) CreateQuery(_ context.Context, q *store.Query) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *q
	s.queries[q.ID] = &cp
	return nil
}

func (s *fakeQueryStore) GetQuery(_ context.Context, id string) (*store.Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queries[id]
	if !ok {
		return nil, ragerr.NotFound("query", id)
	}
	cp := *q
	return &cp, nil
}

func (s *fakeQueryStore) UpdateQuery(_ context.Context, q *store.Query) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queries[q.ID]; !ok {
		return ragerr.NotFound("query", q.ID)
	}
	cp := *q
	s.queries[q.ID] = &cp
	return nil
}

func (s *fakeQueryStore) ListQueries(_ context.Context, limit int) ([]*store.Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.Query, 0, len(s.queries))
	for _, q := range s.queries {
		cp := *q
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeQueryStore) CreateResult(_ context.Context, r *store.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.results[r.QueryID] = append(s.results[r.QueryID], &cp)
	return nil
}

func (s *fakeQueryStore) ListResults(_ context.Context, queryID string) ([]*store.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*store.Result{}, s.results[queryID]...), nil
}

var _ store.QueryStore = (*fakeQueryStore)(nil)

// fakeTemplateStore resolves templates from a map; empty means the
// compiled-in fallbacks apply.
type fakeTemplateStore struct {
	active map[string]*store.PromptTemplate
}

func newFakeTemplateStore() *fakeTemplateStore {
	return &fakeTemplateStore{active: make(map[string]*store.PromptTemplate)}
}

func (s *fakeTemplateStore) ActiveTemplate(_ context.Context, tag string) (*store.PromptTemplate, error) {
	t, ok := s.active[tag]
	if !ok {
		return nil, ragerr.NotFound("prompt_template", tag)
	}
	return t, nil
}

func (s *fakeTemplateStore) ListTemplates(context.Context, string) ([]*store.PromptTemplate, error) {
	return nil, nil
}

func (s *fakeTemplateStore) CreateTemplate(_ context.Context, t *store.PromptTemplate) error {
	s.active[t.FunctionTag] = t
	return nil
}

func (s *fakeTemplateStore) ActivateTemplate(context.Context, int64) error { return nil }

var _ store.TemplateStore = (*fakeTemplateStore)(nil)

// fakeLLM replays scripted responses and records requests.
type fakeLLM struct {
	mu        sync.Mutex
	responses []string
	requests  []llm.GenerateRequest
	err       error
}

func (f *fakeLLM) Generate(_ context.Context, req llm.GenerateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", fmt.Errorf("fakeLLM: no scripted response left")
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

func (f *fakeLLM) Available(context.Context) bool { return true }

func (f *fakeLLM) Close() error { return nil }

var _ llm.Client = (*fakeLLM)(nil)

// fakeDense returns a fixed hit list for every search.
type fakeDense struct {
	hits []store.DenseResult
	err  error
}

func (f *fakeDense) Search(context.Context, []float32, int) ([]store.DenseResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]store.DenseResult{}, f.hits...), nil
}

// fakeLexical returns a fixed hit list for every search.
type fakeLexical struct {
	hits []store.LexicalResult
	err  error
}

func (f *fakeLexical) Search(context.Context, string, int) ([]store.LexicalResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]store.LexicalResult{}, f.hits...), nil
}

// fakeReranker scores documents by chunk id.
type fakeReranker struct {
	scores map[int64]float64
	err    error
}

func (f *fakeReranker) Score(_ context.Context, _ string, docs []RerankDocument) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float64, len(docs))
	for i, d := range docs {
		out[i] = f.scores[d.ChunkID]
	}
	return out, nil
}

func (f *fakeReranker) Close() error { return nil }
