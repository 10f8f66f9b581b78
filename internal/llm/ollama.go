// Package llm provides the generative model client used for query
// expansion and answer generation.
package llm

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

// Tier selects the generative model size.
type Tier string

const (
	// TierFull is the large model used for expansion and answering.
	TierFull Tier = "FULL"
	// TierLight is the small fast model for auxiliary generation.
	TierLight Tier = "LIGHT"
)

// GenerateRequest is one generation call.
type GenerateRequest struct {
	Prompt string
	Tier   Tier
	// Temperature overrides the model default when non-nil.
	// The expander retries parse failures at temperature 0.
	Temperature *float64
}

// Client invokes the generative model.
// Implementations are safe for concurrent use.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	Available(ctx context.Context) bool
	Close() error
}

// OllamaConfig configures the Ollama generation client.
type OllamaConfig struct {
	Host       string
	FullModel  string
	LightModel string
	Timeout    time.Duration // per-call deadline
}

// OllamaClient generates text via Ollama's /api/generate endpoint.
type OllamaClient struct {
	client *http.Client
	config OllamaConfig
	retry  ragerr.RetryConfig

	mu     sync.RWMutex
	closed bool
}

var _ Client = (*OllamaClient)(nil)

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaClient creates a new generation client.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OllamaClient{
		client: &http.Client{},
		config: cfg,
		retry:  ragerr.DefaultRetryConfig(),
	}
}

// Generate produces a completion for the prompt at the given tier.
func (c *OllamaClient) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return "", fmt.Errorf("llm client is closed")
	}
	c.mu.RUnlock()

	if strings.TrimSpace(req.Prompt) == "" {
		return "", ragerr.New(ragerr.ErrCodeInvalidInput, "empty prompt", nil)
	}

	return ragerr.RetryWithResult(ctx, c.retry, func() (string, error) {
		return c.doGenerate(ctx, req)
	})
}

func (c *OllamaClient) doGenerate(ctx context.Context, req GenerateRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	model := c.config.FullModel
	if req.Tier == TierLight {
		model = c.config.LightModel
	}

	body := ollamaGenerateRequest{
		Model:  model,
		Prompt: req.Prompt,
		Stream: false,
	}
	if req.Temperature != nil {
		body.Options = map[string]any{"temperature": *req.Temperature}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", ragerr.Permanent("marshal generate request", err)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost,
		c.config.Host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", ragerr.Permanent("build generate request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", ragerr.Transient("generative service unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("generate status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", ragerr.Transient(err.Error(), err)
		}
		return "", ragerr.Permanent(err.Error(), err)
	}

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", ragerr.Transient("decode generate response", err)
	}
	return result.Response, nil
}

// Available checks reachability of the Ollama endpoint.
func (c *OllamaClient) Available(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, c.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close releases resources.
func (c *OllamaClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.client.CloseIdleConnections()
	return nil
}
