package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	ragerr "github.com/DominikGorecki/psychrag-sub002/internal/errors"
	"github.com/DominikGorecki/psychrag-sub002/internal/store"
)

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("function_tag")
	templates, err := s.templates.ListTemplates(r.Context(), tag)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(templates))
	for _, t := range templates {
		out = append(out, map[string]any{
			"id":           t.ID,
			"function_tag": t.FunctionTag,
			"version":      t.Version,
			"title":        t.Title,
			"is_active":    t.IsActive,
			"created_at":   t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": out})
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FunctionTag     string `json:"function_tag"`
		Title           string `json:"title"`
		TemplateContent string `json:"template_content"`
		Activate        bool   `json:"activate"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(body.FunctionTag) == "" || strings.TrimSpace(body.TemplateContent) == "" {
		writeError(w, ragerr.New(ragerr.ErrCodeInvalidInput,
			"function_tag and template_content are required", nil))
		return
	}

	now := time.Now().UTC()
	t := &store.PromptTemplate{
		FunctionTag:     body.FunctionTag,
		Title:           body.Title,
		TemplateContent: body.TemplateContent,
		IsActive:        body.Activate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.templates.CreateTemplate(r.Context(), t); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        t.ID,
		"version":   t.Version,
		"is_active": t.IsActive,
	})
}

func (s *Server) handleActivateTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, ragerr.New(ragerr.ErrCodeInvalidInput, "template id must be an integer", nil))
		return
	}
	if err := s.templates.ActivateTemplate(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "is_active": true})
}
