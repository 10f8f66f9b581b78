package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
)

// StaticEmbedder generates deterministic hash-based embeddings with
// no external dependencies. Used in tests and as a degraded fallback
// when no embedding service is reachable: retrieval stays functional
// with reduced semantic quality.
type StaticEmbedder struct {
	dims int
}

var _ Embedder = (*StaticEmbedder)(nil)

// tokenPattern matches alphanumeric sequences.
var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewStaticEmbedder creates a static embedder with the given dimension.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed generates a deterministic embedding for a single text.
// Empty input maps to the zero vector.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vector := make([]float32, e.dims)

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return vector, nil
	}

	tokens := tokenPattern.FindAllString(strings.ToLower(trimmed), -1)
	for _, token := range tokens {
		vector[hashToIndex(token, e.dims)] += 1.0
	}
	// Character trigrams smooth over morphology differences.
	joined := strings.Join(tokens, " ")
	for i := 0; i+3 <= len(joined); i++ {
		vector[hashToIndex(joined[i:i+3], e.dims)] += 0.3
	}

	return normalizeVector(vector), nil
}

// EmbedBatch generates embeddings for multiple texts, order preserved.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int { return e.dims }

// ModelName returns the static model identifier.
func (e *StaticEmbedder) ModelName() string { return "static-hash" }

// Available always returns true.
func (e *StaticEmbedder) Available(_ context.Context) bool { return true }

// Close is a no-op.
func (e *StaticEmbedder) Close() error { return nil }

// hashToIndex maps a token to a vector index via FNV-1a.
func hashToIndex(s string, dims int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(dims))
}
