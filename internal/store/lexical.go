package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
)

// LexicalIndex provides BM25-ranked full-text search over chunk
// content using bleve with the English analyzer (stopwords and
// stemming follow the analyzer).
//
// Heading breadcrumbs are stored outside chunk content, so structural
// terms never enter the index. Eligibility (parent_id non-null,
// vector_status = vec) is enforced at fill time.
type LexicalIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// lexicalDocument is the indexed document shape.
type lexicalDocument struct {
	Content string `json:"content"`
}

// NewLexicalIndex opens or creates a lexical index at path.
// An empty path creates an in-memory index for tests.
func NewLexicalIndex(path string) (*LexicalIndex, error) {
	indexMapping, err := createLexicalMapping()
	if err != nil {
		return nil, err
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, fmt.Errorf("create index directory: %w", mkErr)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}

	return &LexicalIndex{index: idx, path: path}, nil
}

// createLexicalMapping builds the mapping with the English analyzer
// as default for the content field.
func createLexicalMapping() (*mapping.IndexMappingImpl, error) {
	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = en.AnalyzerName

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("content", contentField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = en.AnalyzerName
	indexMapping.DefaultMapping = docMapping
	return indexMapping, nil
}

// Fill rebuilds the index from the store's eligible chunks when the
// document count no longer matches. Returns the number of documents
// indexed (0 when the index was already current).
func (l *LexicalIndex) Fill(ctx context.Context, s *SQLiteStore) (int, error) {
	chunks, err := s.EligibleChunks(ctx)
	if err != nil {
		return 0, err
	}

	count, err := l.DocCount()
	if err != nil {
		return 0, err
	}
	if int(count) == len(chunks) {
		return 0, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, fmt.Errorf("lexical index is closed")
	}

	batch := l.index.NewBatch()
	for _, c := range chunks {
		doc := lexicalDocument{Content: c.Content}
		if err := batch.Index(strconv.FormatInt(c.ID, 10), doc); err != nil {
			return 0, fmt.Errorf("index chunk %d: %w", c.ID, err)
		}
	}
	if err := l.index.Batch(batch); err != nil {
		return 0, fmt.Errorf("execute index batch: %w", err)
	}
	return len(chunks), nil
}

// Index adds chunks to the lexical index.
func (l *LexicalIndex) Index(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := l.index.NewBatch()
	for _, c := range chunks {
		doc := lexicalDocument{Content: c.Content}
		if err := batch.Index(strconv.FormatInt(c.ID, 10), doc); err != nil {
			return fmt.Errorf("index chunk %d: %w", c.ID, err)
		}
	}
	if err := l.index.Batch(batch); err != nil {
		return fmt.Errorf("execute index batch: %w", err)
	}
	return nil
}

// Search returns at most limit chunks matching the free-form query,
// ordered by descending rank score with ties broken by ascending
// chunk id. Empty queries return no hits.
func (l *LexicalIndex) Search(ctx context.Context, queryText string, limit int) ([]LexicalResult, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}
	if strings.TrimSpace(queryText) == "" {
		return []LexicalResult{}, nil
	}
	if limit <= 0 {
		limit = 50
	}

	matchQuery := bleve.NewMatchQuery(queryText)
	matchQuery.SetField("content")

	searchRequest := bleve.NewSearchRequest(matchQuery)
	searchRequest.Size = limit

	result, err := l.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}

	results := make([]LexicalResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		results = append(results, LexicalResult{ChunkID: id, RankScore: hit.Score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RankScore != results[j].RankScore {
			return results[i].RankScore > results[j].RankScore
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	return results, nil
}

// Delete removes chunks from the index.
func (l *LexicalIndex) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("lexical index is closed")
	}

	batch := l.index.NewBatch()
	for _, id := range ids {
		batch.Delete(strconv.FormatInt(id, 10))
	}
	if err := l.index.Batch(batch); err != nil {
		return fmt.Errorf("delete from lexical index: %w", err)
	}
	return nil
}

// DocCount returns the number of indexed documents.
func (l *LexicalIndex) DocCount() (uint64, error) {
	return l.index.DocCount()
}

// Close releases the index.
func (l *LexicalIndex) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.index.Close()
}
