package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	ragerr "github.com/DominikGorecki/psychrag-sub002/internal/errors"
	"github.com/DominikGorecki/psychrag-sub002/internal/llm"
	"github.com/DominikGorecki/psychrag-sub002/internal/store"
)

func tierFromFlag(useFull bool) llm.Tier {
	if useFull {
		return llm.TierFull
	}
	return llm.TierLight
}

func (s *Server) handleExpansionRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OriginalQuery string `json:"original_query"`
		UseFullModel  *bool  `json:"use_full_model"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	tier := llm.TierFull
	if body.UseFullModel != nil {
		tier = tierFromFlag(*body.UseFullModel)
	}
	q, err := s.pipeline.Expand(r.Context(), body.OriginalQuery, tier)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query_id":         q.ID,
		"expanded_queries": orEmptyStrings(q.ExpandedQueries),
		"hyde_answer":      q.HydeAnswer,
		"intent":           q.Intent,
		"entities":         orEmptyStrings(q.Entities),
		"parse_warning":    q.ParseWarning,
	})
}

func (s *Server) handleExpansionManual(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OriginalQuery string `json:"original_query"`
		LLMResponse   string `json:"llm_response"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	q, err := s.pipeline.ExpandManual(r.Context(), body.OriginalQuery, body.LLMResponse)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query_id":      q.ID,
		"parse_warning": q.ParseWarning,
	})
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	q, err := s.pipeline.EmbedQuery(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		// vec_err is already recorded on the query; the caller sees
		// the propagated failure.
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vector_status": q.VectorStatus})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	q, err := s.pipeline.Retrieve(r.Context(), chi.URLParam(r, "id"))
	if err != nil && !ragerr.HasCode(err, ragerr.ErrCodeNoCandidates) {
		writeError(w, err)
		return
	}
	// NoCandidates is an empty outcome, not a failure.
	writeJSON(w, http.StatusOK, map[string]any{
		"chunks_retrieved": len(q.RetrievedContext),
	})
}

func (s *Server) handleConsolidate(w http.ResponseWriter, r *http.Request) {
	q, warnings, err := s.pipeline.Consolidate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"original_count":     len(q.RetrievedContext),
		"consolidated_count": len(q.CleanRetrievalContext),
		"warnings":           orEmptyStrings(warnings),
	})
}

func (s *Server) handleAugmentPrompt(w http.ResponseWriter, r *http.Request) {
	topN := 0
	if raw := r.URL.Query().Get("top_n"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, ragerr.New(ragerr.ErrCodeInvalidInput, "top_n must be a positive integer", nil))
			return
		}
		topN = n
	}

	prompt, count, err := s.pipeline.BuildPrompt(r.Context(), chi.URLParam(r, "id"), topN)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"prompt":        prompt,
		"context_count": count,
	})
}

func (s *Server) handleAugmentRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TopN         int   `json:"top_n"`
		UseFullModel *bool `json:"use_full_model"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	tier := llm.TierFull
	if body.UseFullModel != nil {
		tier = tierFromFlag(*body.UseFullModel)
	}
	result, err := s.pipeline.Answer(r.Context(), chi.URLParam(r, "id"), body.TopN, tier)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result_id":     result.ID,
		"response_text": result.ResponseText,
	})
}

func (s *Server) handleAugmentManual(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TopN         int    `json:"top_n"`
		ResponseText string `json:"response_text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.pipeline.AnswerManual(r.Context(), chi.URLParam(r, "id"), body.ResponseText)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result_id": result.ID})
}

func (s *Server) handleGetQuery(w http.ResponseWriter, r *http.Request) {
	q, err := s.queries.GetQuery(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, querySnapshot(q))
}

func (s *Server) handleListQueries(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	queries, err := s.queries.ListQueries(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(queries))
	for _, q := range queries {
		out = append(out, map[string]any{
			"query_id":       q.ID,
			"original_query": q.OriginalQuery,
			"state":          q.State,
			"vector_status":  q.VectorStatus,
			"created_at":     q.CreatedAt,
			"updated_at":     q.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": out})
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	queryID := chi.URLParam(r, "id")
	if _, err := s.queries.GetQuery(r.Context(), queryID); err != nil {
		writeError(w, err)
		return
	}
	results, err := s.queries.ListResults(r.Context(), queryID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(results))
	for _, res := range results {
		out = append(out, map[string]any{
			"result_id":     res.ID,
			"response_text": res.ResponseText,
			"created_at":    res.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) handleListWorks(w http.ResponseWriter, r *http.Request) {
	if s.works == nil {
		writeJSON(w, http.StatusOK, map[string]any{"works": []any{}})
		return
	}
	works, err := s.works.ListWorks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(works))
	for _, work := range works {
		out = append(out, map[string]any{
			"work_id": work.ID,
			"title":   work.Title,
			"authors": work.Authors,
			"year":    work.Year,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"works": out})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.available != nil {
		body["services"] = s.available(r.Context())
	}
	writeJSON(w, http.StatusOK, body)
}

// querySnapshot is the full query view. Embeddings are summarized by
// dimension rather than dumped.
func querySnapshot(q *store.Query) map[string]any {
	mqeDims := make([]int, len(q.EmbeddingsMQE))
	for i, v := range q.EmbeddingsMQE {
		mqeDims[i] = len(v)
	}
	return map[string]any{
		"query_id":                q.ID,
		"original_query":          q.OriginalQuery,
		"expanded_queries":        orEmptyStrings(q.ExpandedQueries),
		"hyde_answer":             q.HydeAnswer,
		"intent":                  q.Intent,
		"entities":                orEmptyStrings(q.Entities),
		"vector_status":           q.VectorStatus,
		"state":                   q.State,
		"parse_warning":           q.ParseWarning,
		"embedding_original_dims": len(q.EmbeddingOriginal),
		"embeddings_mqe_dims":     mqeDims,
		"embedding_hyde_dims":     len(q.EmbeddingHyde),
		"retrieved_context":       q.RetrievedContext,
		"clean_retrieval_context": q.CleanRetrievalContext,
		"created_at":              q.CreatedAt,
		"updated_at":              q.UpdatedAt,
	}
}

func orEmptyStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
