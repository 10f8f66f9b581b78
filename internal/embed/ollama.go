package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	ragerr "github.com/DominikGorecki/psychrag-sub002/internal/errors"
)

// OllamaConfig configures the Ollama embedding client.
type OllamaConfig struct {
	Host       string        // e.g. http://localhost:11434
	Model      string        // e.g. nomic-embed-text
	Dimensions int           // expected dimension D; 0 = trust the model
	BatchSize  int           // texts per request
	Timeout    time.Duration // per-call deadline
}

// OllamaEmbedder generates embeddings via Ollama's /api/embed endpoint.
// Safe for concurrent use.
type OllamaEmbedder struct {
	client *http.Client
	config OllamaConfig
	retry  ragerr.RetryConfig

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder creates a new Ollama embedder.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}

	// No client-level timeout: per-request context deadlines control
	// cancellation so the retry loop owns the clock.
	return &OllamaEmbedder{
		client: &http.Client{},
		config: cfg,
		retry:  ragerr.DefaultRetryConfig(),
	}
}

// Embed generates the embedding for a single text.
// Empty input returns the zero vector without a network call.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.config.Dimensions), nil
	}
	vectors, err := e.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts, order preserved.
// Empty entries map to zero vectors without hitting the model.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))

	// Collect the non-empty texts, batching requests.
	nonEmpty := make([]int, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			results[i] = make([]float32, e.config.Dimensions)
			continue
		}
		nonEmpty = append(nonEmpty, i)
	}

	for start := 0; start < len(nonEmpty); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(nonEmpty) {
			end = len(nonEmpty)
		}
		batch := make([]string, 0, end-start)
		for _, idx := range nonEmpty[start:end] {
			batch = append(batch, texts[idx])
		}

		vectors, err := e.embedWithRetry(ctx, batch)
		if err != nil {
			return nil, err
		}
		for j, idx := range nonEmpty[start:end] {
			results[idx] = vectors[j]
		}
	}

	return results, nil
}

// embedWithRetry performs one embed call with transient-error retries.
func (e *OllamaEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	return ragerr.RetryWithResult(ctx, e.retry, func() ([][]float32, error) {
		return e.doEmbed(ctx, texts)
	})
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Input: input})
	if err != nil {
		return nil, ragerr.Permanent("marshal embed request", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, ragerr.Permanent("build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ragerr.Transient("embedding service unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("embed status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		return nil, classifyHTTPStatus(resp.StatusCode, err)
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, ragerr.Transient("decode embed response", err)
	}

	if len(result.Embeddings) != len(texts) {
		return nil, ragerr.Permanent(
			fmt.Sprintf("embed count mismatch: sent %d texts, got %d vectors", len(texts), len(result.Embeddings)), nil)
	}
	for _, v := range result.Embeddings {
		if len(v) != e.config.Dimensions {
			return nil, ragerr.New(ragerr.ErrCodeDimensionMismatch,
				fmt.Sprintf("model returned dimension %d, expected %d", len(v), e.config.Dimensions), nil)
		}
	}

	return result.Embeddings, nil
}

// classifyHTTPStatus maps status codes to transient (5xx, 429) or
// permanent (other 4xx) errors.
func classifyHTTPStatus(status int, err error) error {
	if status >= 500 || status == http.StatusTooManyRequests {
		return ragerr.Transient(err.Error(), err)
	}
	return ragerr.Permanent(err.Error(), err)
}

// Dimensions returns the embedding dimension D.
func (e *OllamaEmbedder) Dimensions() int { return e.config.Dimensions }

// ModelName returns the model identifier.
func (e *OllamaEmbedder) ModelName() string { return e.config.Model }

// Available checks reachability of the Ollama endpoint.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close releases resources.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}
