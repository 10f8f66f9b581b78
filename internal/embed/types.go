// Package embed maps text to fixed-dimension dense vectors through an
// external embedding model.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultDimensions is the embedding dimension for the default model.
	DefaultDimensions = 768

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// MaxBatchSize caps batch requests to prevent memory exhaustion.
	MaxBatchSize = 256

	// DefaultTimeout is the per-call deadline for embedding requests.
	DefaultTimeout = 30 * time.Second
)

// Embedder generates vector embeddings for text.
// Implementations are safe for parallel calls.
type Embedder interface {
	// Embed generates the embedding for a single text.
	// Empty input maps to a zero-norm vector; callers should skip
	// empty inputs (see IsZero).
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, order preserved.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension D.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// IsZero reports whether a vector has zero norm. Embedders map empty
// input to the zero vector, which is invalid for retrieval.
func IsZero(v []float32) bool {
	for _, val := range v {
		if val != 0 {
			return false
		}
	}
	return true
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
