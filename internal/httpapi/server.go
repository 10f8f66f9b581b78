package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DominikGorecki/psychrag-sub002/internal/rag"
	"github.com/DominikGorecki/psychrag-sub002/internal/store"
)

// WorkLister lists ingested works for the browse endpoint.
type WorkLister interface {
	ListWorks(ctx context.Context) ([]*store.Work, error)
}

// Availability reports reachability of the external model services.
type Availability func(ctx context.Context) map[string]bool

// Server serves the query-pipeline HTTP surface.
type Server struct {
	pipeline  *rag.Pipeline
	queries   store.QueryStore
	templates store.TemplateStore
	works     WorkLister
	available Availability
	router    chi.Router
	http      *http.Server
}

// NewServer builds the router. works and available may be nil; the
// corresponding endpoints then report empty data.
func NewServer(addr string, pipeline *rag.Pipeline, queries store.QueryStore, templates store.TemplateStore, works WorkLister, available Availability) *Server {
	s := &Server{
		pipeline:  pipeline,
		queries:   queries,
		templates: templates,
		works:     works,
		available: available,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/rag", func(r chi.Router) {
		r.Post("/expansion/run", s.handleExpansionRun)
		r.Post("/expansion/manual", s.handleExpansionManual)

		r.Route("/queries", func(r chi.Router) {
			r.Get("/", s.handleListQueries)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetQuery)
				r.Post("/embed", s.handleEmbed)
				r.Post("/retrieve", s.handleRetrieve)
				r.Post("/consolidate", s.handleConsolidate)
				r.Get("/augment/prompt", s.handleAugmentPrompt)
				r.Post("/augment/run", s.handleAugmentRun)
				r.Post("/augment/manual", s.handleAugmentManual)
				r.Get("/results", s.handleListResults)
			})
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Post("/{id}/activate", s.handleActivateTemplate)
		})

		r.Get("/works", s.handleListWorks)
	})

	s.router = r
	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

// ListenAndServe blocks until the context is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// requestLogger logs one line per request with status and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	})
}
