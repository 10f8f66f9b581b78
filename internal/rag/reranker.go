package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	ragerr "github.com/DominikGorecki/psychrag-sub002/internal/errors"
	"github.com/DominikGorecki/psychrag-sub002/internal/store"
)

// RerankDocument is one candidate passed to the cross-encoder.
type RerankDocument struct {
	ChunkID int64
	Text    string
}

// Reranker scores (query, document) pairs with a cross-encoder.
// Scores come back normalized to [0, 1], parallel to the input.
type Reranker interface {
	Score(ctx context.Context, query string, docs []RerankDocument) ([]float64, error)
	Close() error
}

// HTTPRerankerConfig configures the cross-encoder service client.
type HTTPRerankerConfig struct {
	URL     string // scoring endpoint, e.g. http://localhost:8787/rerank
	Model   string // optional model name forwarded to the service
	Timeout time.Duration
}

// HTTPReranker scores pairs against a cross-encoder service that
// returns raw logits. Logits are squashed to [0, 1] with the logistic
// function.
type HTTPReranker struct {
	client *http.Client
	config HTTPRerankerConfig
}

var _ Reranker = (*HTTPReranker)(nil)

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// NewHTTPReranker creates a reranker client for the given service.
func NewHTTPReranker(cfg HTTPRerankerConfig) *HTTPReranker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &HTTPReranker{client: &http.Client{}, config: cfg}
}

// Score sends one batch scoring request and returns logistic-squashed
// scores parallel to docs.
func (r *HTTPReranker) Score(ctx context.Context, query string, docs []RerankDocument) ([]float64, error) {
	if len(docs) == 0 {
		return []float64{}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	body, err := json.Marshal(rerankRequest{Model: r.config.Model, Query: query, Documents: texts})
	if err != nil {
		return nil, ragerr.Permanent("marshal rerank request", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, r.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, ragerr.Permanent("build rerank request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ragerr.Transient("reranker service unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("rerank status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, ragerr.Transient(err.Error(), err)
		}
		return nil, ragerr.Permanent(err.Error(), err)
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, ragerr.Transient("decode rerank response", err)
	}
	if len(result.Scores) != len(docs) {
		return nil, ragerr.Permanent(
			fmt.Sprintf("rerank count mismatch: sent %d documents, got %d scores", len(docs), len(result.Scores)), nil)
	}

	scores := make([]float64, len(result.Scores))
	for i, logit := range result.Scores {
		scores[i] = logistic(logit)
	}
	return scores, nil
}

// Close releases resources.
func (r *HTTPReranker) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

func logistic(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// rerankCandidate carries everything boost computation needs.
type rerankCandidate struct {
	Chunk       *store.Chunk
	RRFScore    float64
	RerankScore float64
	EntityBoost float64
	IntentBoost float64
	ParentLevel store.Level
}

func (c *rerankCandidate) finalScore() float64 {
	return c.RerankScore + c.EntityBoost + c.IntentBoost
}

// entityBoost scores the fraction of query entities appearing in the
// text as case-insensitive whole words, scaled by beta.
func entityBoost(entities []string, text string, beta float64) float64 {
	if len(entities) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	matched := 0
	for _, e := range entities {
		if matchWholeWord(lower, strings.ToLower(e)) {
			matched++
		}
	}
	return beta * float64(matched) / float64(len(entities))
}

func matchWholeWord(haystackLower, needleLower string) bool {
	if needleLower == "" {
		return false
	}
	pattern, err := regexp.Compile(`\b` + regexp.QuoteMeta(needleLower) + `\b`)
	if err != nil {
		return false
	}
	return pattern.MatchString(haystackLower)
}

var mechanismCues = []string{"because", "results in", "mechanism"}

var definitionCues = []string{"is defined as", "refers to"}

// intentBoost adds beta when the chunk text carries cues matching the
// query intent. APPLICATION, STUDY_DETAIL, and CRITIQUE carry no
// implicit cue yet.
func intentBoost(intent store.Intent, c *rerankCandidate, entities []string, beta float64) float64 {
	lower := strings.ToLower(c.Chunk.Content)
	switch intent {
	case store.IntentDefinition:
		for _, cue := range definitionCues {
			if strings.Contains(lower, cue) {
				return beta
			}
		}
		if c.Chunk.Level == store.LevelH1 || c.ParentLevel == store.LevelH1 {
			return beta
		}
	case store.IntentMechanism:
		for _, cue := range mechanismCues {
			if strings.Contains(lower, cue) {
				return beta
			}
		}
	case store.IntentComparison:
		if entitiesCooccur(lower, entities, 200) {
			return beta
		}
	}
	return 0
}

// entitiesCooccur reports whether any two distinct entities both
// occur within window characters of each other.
func entitiesCooccur(textLower string, entities []string, window int) bool {
	type hit struct {
		entity int
		pos    int
	}
	var hits []hit
	for i, e := range entities {
		needle := strings.ToLower(e)
		if needle == "" {
			continue
		}
		offset := 0
		for {
			idx := strings.Index(textLower[offset:], needle)
			if idx < 0 {
				break
			}
			hits = append(hits, hit{entity: i, pos: offset + idx})
			offset += idx + 1
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	for i := 1; i < len(hits); i++ {
		if hits[i].entity != hits[i-1].entity && hits[i].pos-hits[i-1].pos <= window {
			return true
		}
	}
	return false
}

// sortReranked orders candidates by descending final score, breaking
// ties by descending rerank score, then ascending chunk id.
func sortReranked(candidates []*rerankCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		fi, fj := candidates[i].finalScore(), candidates[j].finalScore()
		if fi != fj {
			return fi > fj
		}
		if candidates[i].RerankScore != candidates[j].RerankScore {
			return candidates[i].RerankScore > candidates[j].RerankScore
		}
		return candidates[i].Chunk.ID < candidates[j].Chunk.ID
	})
}
