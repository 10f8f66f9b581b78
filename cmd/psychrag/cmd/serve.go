package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/DominikGorecki/psychrag-sub002/internal/config"
	"github.com/DominikGorecki/psychrag-sub002/internal/embed"
	"github.com/DominikGorecki/psychrag-sub002/internal/httpapi"
	"github.com/DominikGorecki/psychrag-sub002/internal/llm"
	"github.com/DominikGorecki/psychrag-sub002/internal/logging"
	"github.com/DominikGorecki/psychrag-sub002/internal/rag"
	"github.com/DominikGorecki/psychrag-sub002/internal/store"
)

func newServeCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the query-pipeline HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), offline)
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Use deterministic hash embeddings (no model service)")
	return cmd
}

func runServe(ctx context.Context, offline bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if debugMode {
		level = "debug"
	}
	cleanup, err := logging.SetupDefault(logging.Config{
		Level:         level,
		FilePath:      cfg.Logging.FilePath,
		WriteToStderr: true,
	})
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Storage.IndexDir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	// One server owns the indexes at a time.
	lock := store.NewIndexLock(cfg.Storage.IndexDir)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire index lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("index dir %s is locked by another psychrag process", cfg.Storage.IndexDir)
	}
	defer func() { _ = lock.Unlock() }()

	db, err := store.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	// Persist the active retrieval preset so stored queries can be
	// interpreted against the settings they ran with.
	if presetJSON, err := cfg.RetrievalJSON(); err == nil {
		if err := db.SaveRagConfig(ctx, config.DefaultPreset, presetJSON); err != nil {
			slog.Warn("could not persist retrieval preset", "error", err)
		}
	}

	dense, err := store.BuildDenseIndex(ctx, db, store.DenseIndexConfig{
		Dimensions: cfg.Retrieval.Dimensions,
	})
	if err != nil {
		return err
	}
	defer func() { _ = dense.Close() }()
	slog.Info("dense index ready", "vectors", dense.Count())

	lexical, err := store.NewLexicalIndex(filepath.Join(cfg.Storage.IndexDir, "lexical.bleve"))
	if err != nil {
		return err
	}
	defer func() { _ = lexical.Close() }()
	indexed, err := lexical.Fill(ctx, db)
	if err != nil {
		return err
	}
	slog.Info("lexical index ready", "indexed", indexed)

	embedder := buildEmbedder(ctx, cfg, offline)
	defer func() { _ = embedder.Close() }()

	generator := llm.NewOllamaClient(llm.OllamaConfig{
		Host:       cfg.LLM.Host,
		FullModel:  cfg.LLM.FullModel,
		LightModel: cfg.LLM.LightModel,
		Timeout:    cfg.Retrieval.GenerateTimeout,
	})
	defer func() { _ = generator.Close() }()

	var reranker rag.Reranker
	if cfg.Reranker.URL != "" {
		r := rag.NewHTTPReranker(rag.HTTPRerankerConfig{
			URL:     cfg.Reranker.URL,
			Model:   cfg.Reranker.Model,
			Timeout: cfg.Retrieval.RerankTimeout,
		})
		defer func() { _ = r.Close() }()
		reranker = r
	} else {
		slog.Info("no reranker configured, retrieval uses fusion order")
	}

	pipeline := rag.NewPipeline(db, db, db, dense, lexical, embedder, generator, reranker, cfg.Retrieval)

	available := func(ctx context.Context) map[string]bool {
		return map[string]bool{
			"embedder":  embedder.Available(ctx),
			"generator": generator.Available(ctx),
		}
	}
	server := httpapi.NewServer(cfg.Server.Addr, pipeline, db, db, db, available)

	slog.Info("psychrag serving",
		"addr", cfg.Server.Addr,
		"db", cfg.Storage.DBPath,
		"embedder", embedder.ModelName())
	return server.ListenAndServe(ctx)
}

// buildEmbedder wires the embedding stack: Ollama behind an LRU
// cache, or deterministic hash embeddings in offline mode or when the
// service is unreachable at startup.
func buildEmbedder(ctx context.Context, cfg *config.Config, offline bool) embed.Embedder {
	if offline {
		slog.Info("offline mode, using static embeddings")
		return embed.NewStaticEmbedder(cfg.Retrieval.Dimensions)
	}

	ollama := embed.NewOllamaEmbedder(embed.OllamaConfig{
		Host:       cfg.Embedder.Host,
		Model:      cfg.Embedder.Model,
		Dimensions: cfg.Retrieval.Dimensions,
		BatchSize:  cfg.Embedder.BatchSize,
		Timeout:    cfg.Retrieval.EmbedTimeout,
	})
	if !ollama.Available(ctx) {
		slog.Warn("embedding service unreachable, falling back to static embeddings",
			"host", cfg.Embedder.Host)
		_ = ollama.Close()
		return embed.NewStaticEmbedder(cfg.Retrieval.Dimensions)
	}
	return embed.NewCachedEmbedder(ollama, cfg.Embedder.CacheSize)
}
