package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	ragerr "github.com/DominikGorecki/psychrag-sub002/internal/errors"
)

// DenseIndexConfig configures the HNSW dense index.
type DenseIndexConfig struct {
	// Dimensions is the embedding dimension D.
	Dimensions int

	// M is HNSW max connections per layer (default: 16).
	M int

	// EfSearch is HNSW query-time search width (default: 64).
	EfSearch int
}

// DefaultDenseIndexConfig returns sensible HNSW defaults.
func DefaultDenseIndexConfig(dimensions int) DenseIndexConfig {
	return DenseIndexConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   64,
	}
}

// DenseIndex performs approximate nearest-neighbor search over chunk
// embeddings using coder/hnsw with cosine distance.
//
// Retrieval eligibility (parent_id non-null, vector_status = vec) is
// enforced at build time: only eligible chunks are admitted, so every
// hit satisfies the filter predicate.
type DenseIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config DenseIndexConfig
	ids    map[uint64]bool // admitted chunk ids, lazy deletion mask
	closed bool
}

// NewDenseIndex creates an empty dense index.
func NewDenseIndex(cfg DenseIndexConfig) (*DenseIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dense index dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 64
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch

	return &DenseIndex{
		graph:  graph,
		config: cfg,
		ids:    make(map[uint64]bool),
	}, nil
}

// BuildDenseIndex constructs the index from the store's eligible
// chunks. Chunks whose stored embedding does not match D are skipped
// as corrupt rather than failing the whole build.
func BuildDenseIndex(ctx context.Context, s *SQLiteStore, cfg DenseIndexConfig) (*DenseIndex, error) {
	idx, err := NewDenseIndex(cfg)
	if err != nil {
		return nil, err
	}

	chunks, err := s.EligibleChunks(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(chunks))
	vectors := make([][]float32, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) != cfg.Dimensions {
			continue
		}
		ids = append(ids, c.ID)
		vectors = append(vectors, c.Embedding)
	}

	if err := idx.Add(ctx, ids, vectors); err != nil {
		return nil, err
	}
	return idx, nil
}

// Add inserts vectors keyed by chunk id. Existing ids are replaced.
func (d *DenseIndex) Add(ctx context.Context, ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("dense index is closed")
	}

	for _, v := range vectors {
		if len(v) != d.config.Dimensions {
			return ragerr.New(ragerr.ErrCodeDimensionMismatch,
				fmt.Sprintf("expected dimension %d, got %d", d.config.Dimensions, len(v)), nil)
		}
	}

	for i, id := range ids {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)
		d.graph.Add(hnsw.MakeNode(uint64(id), vec))
		d.ids[uint64(id)] = true
	}
	return nil
}

// Remove drops chunk ids from the result set. Lazy deletion: the
// node stays in the graph but is masked out of results.
func (d *DenseIndex) Remove(ids []int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		delete(d.ids, uint64(id))
	}
}

// Count returns the number of searchable vectors.
func (d *DenseIndex) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.ids)
}

// Search returns the limit nearest chunks to the query vector.
//
// Similarity is cosine-derived: hnsw reports cosine distance in
// [0, 2] and we convert with similarity = 1 - distance, clamped to
// [0, 1]. Results are ordered by descending similarity with ties
// broken by ascending chunk id.
func (d *DenseIndex) Search(ctx context.Context, query []float32, limit int) ([]DenseResult, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, fmt.Errorf("dense index is closed")
	}
	if len(query) != d.config.Dimensions {
		return nil, ragerr.New(ragerr.ErrCodeDimensionMismatch,
			fmt.Sprintf("query dimension %d, index dimension %d", len(query), d.config.Dimensions), nil)
	}
	if limit <= 0 {
		limit = 50
	}
	if len(d.ids) == 0 {
		return []DenseResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	// Over-fetch to compensate for lazily deleted nodes.
	orphans := d.graph.Len() - len(d.ids)
	if orphans < 0 {
		orphans = 0
	}
	nodes := d.graph.Search(normalized, limit+orphans)

	results := make([]DenseResult, 0, limit)
	for _, node := range nodes {
		if !d.ids[node.Key] {
			continue
		}
		distance := float64(d.graph.Distance(normalized, node.Value))
		results = append(results, DenseResult{
			ChunkID:    int64(node.Key),
			Similarity: clamp01(1 - distance),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Close releases the index.
func (d *DenseIndex) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.graph = nil
	d.ids = nil
	return nil
}

// normalizeInPlace scales a vector to unit length.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return
	}
	for i, val := range v {
		v[i] = float32(float64(val) / magnitude)
	}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
