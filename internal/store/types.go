// Package store provides metadata persistence (SQLite), dense vector
// search (HNSW), lexical search (bleve), and sanitized-file reads.
// This is the persistence layer the RAG pipeline runs against.
package store

import (
	"context"
	"time"
)

// VectorStatus tracks embedding state for chunks and queries.
type VectorStatus string

const (
	VectorStatusNone  VectorStatus = "no_vec"
	VectorStatusToVec VectorStatus = "to_vec"
	VectorStatusVec   VectorStatus = "vec"
	VectorStatusError VectorStatus = "vec_err"
)

// Level tags a chunk as a heading (H1..H5) or content chunk.
type Level string

const (
	LevelH1    Level = "H1"
	LevelH2    Level = "H2"
	LevelH3    Level = "H3"
	LevelH4    Level = "H4"
	LevelH5    Level = "H5"
	LevelChunk Level = "chunk"
)

// IsHeading reports whether the level is one of H1..H5.
func (l Level) IsHeading() bool {
	return l != LevelChunk && l != ""
}

// Depth returns the heading depth (1..5) or 0 for content chunks.
func (l Level) Depth() int {
	switch l {
	case LevelH1:
		return 1
	case LevelH2:
		return 2
	case LevelH3:
		return 3
	case LevelH4:
		return 4
	case LevelH5:
		return 5
	}
	return 0
}

// Intent classifies the question type. It biases reranking and
// answer shaping.
type Intent string

const (
	IntentDefinition  Intent = "DEFINITION"
	IntentMechanism   Intent = "MECHANISM"
	IntentComparison  Intent = "COMPARISON"
	IntentApplication Intent = "APPLICATION"
	IntentStudyDetail Intent = "STUDY_DETAIL"
	IntentCritique    Intent = "CRITIQUE"
	IntentUnknown     Intent = "UNKNOWN"
)

// ParseIntent maps a string to a known Intent, defaulting to UNKNOWN.
func ParseIntent(s string) Intent {
	switch Intent(s) {
	case IntentDefinition, IntentMechanism, IntentComparison,
		IntentApplication, IntentStudyDetail, IntentCritique:
		return Intent(s)
	}
	return IntentUnknown
}

// QueryState is the pipeline state of a Query.
type QueryState string

const (
	StateCreated      QueryState = "created"
	StateExpanded     QueryState = "expanded"
	StateEmbedded     QueryState = "embedded"
	StateRetrieved    QueryState = "retrieved"
	StateConsolidated QueryState = "consolidated"
	StateAnswered     QueryState = "answered"
)

// stateOrder gives each state its pipeline position for comparisons.
var stateOrder = map[QueryState]int{
	StateCreated:      0,
	StateExpanded:     1,
	StateEmbedded:     2,
	StateRetrieved:    3,
	StateConsolidated: 4,
	StateAnswered:     5,
}

// Order returns the pipeline position of the state, -1 if unknown.
func (s QueryState) Order() int {
	if o, ok := stateOrder[s]; ok {
		return o
	}
	return -1
}

// SanitizedFile locates the read-only sanitized markdown for a Work.
type SanitizedFile struct {
	Path string `json:"path"`
	Hash string `json:"hash"` // SHA-256 hex of file content
}

// Work is an ingested document. Immutable from the pipeline's
// perspective; created by the ingestion subsystem.
type Work struct {
	ID        int64
	Title     string
	Authors   string
	Year      int
	Files     map[string]SanitizedFile // only the "sanitized" key matters here
	Biblio    string                   // opaque bibliographic JSON
	CreatedAt time.Time
}

// Sanitized returns the sanitized file entry, if present.
func (w *Work) Sanitized() (SanitizedFile, bool) {
	f, ok := w.Files["sanitized"]
	return f, ok
}

// Chunk is an addressable unit of retrievable text.
// Heading chunks (H1..H5) form the ancestor tree; content chunks
// always hang off a heading.
type Chunk struct {
	ID                 int64
	WorkID             int64
	ParentID           *int64 // nil only for top-level headings
	Level              Level
	Content            string
	HeadingBreadcrumbs string // "Intro > Background", may be empty
	StartLine          int    // 1-indexed
	EndLine            int    // inclusive
	VectorStatus       VectorStatus
	Embedding          []float32 // valid only when VectorStatus == vec
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Span returns the inclusive line count of the chunk.
func (c *Chunk) Span() int {
	return c.EndLine - c.StartLine + 1
}

// RetrievedChunk is one ranked retrieval hit persisted inside
// Query.retrieved_context.
type RetrievedChunk struct {
	ChunkID            int64   `json:"chunk_id"`
	WorkID             int64   `json:"work_id"`
	ParentID           *int64  `json:"parent_id"`
	Content            string  `json:"content"`
	HeadingBreadcrumbs string  `json:"heading_breadcrumbs,omitempty"`
	StartLine          int     `json:"start_line"`
	EndLine            int     `json:"end_line"`
	Level              Level   `json:"level"`
	RRFScore           float64 `json:"rrf_score"`
	RerankScore        float64 `json:"rerank_score"`
	EntityBoost        float64 `json:"entity_boost"`
	IntentBoost        float64 `json:"intent_boost"`
	FinalScore         float64 `json:"final_score"`
}

// ConsolidatedGroup is one consolidated evidence group persisted
// inside Query.clean_retrieval_context.
type ConsolidatedGroup struct {
	ChunkIDs     []int64  `json:"chunk_ids"`
	ParentID     *int64   `json:"parent_id"`
	WorkID       int64    `json:"work_id"`
	Content      string   `json:"content"`
	StartLine    int      `json:"start_line"`
	EndLine      int      `json:"end_line"`
	Score        float64  `json:"score"`
	HeadingChain []string `json:"heading_chain,omitempty"`
}

// Query is the persistent record of one user question and everything
// derived from it. Created by the expander, mutated in place by
// later stages, never deleted.
type Query struct {
	ID              string
	OriginalQuery   string
	ExpandedQueries []string
	HydeAnswer      string
	Intent          Intent
	Entities        []string

	EmbeddingOriginal []float32
	EmbeddingsMQE     [][]float32
	EmbeddingHyde     []float32
	VectorStatus      VectorStatus

	State        QueryState
	ParseWarning bool

	RetrievedContext      []RetrievedChunk
	CleanRetrievalContext []ConsolidatedGroup

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Result is one answer produced for a Query.
type Result struct {
	ID           string
	QueryID      string
	ResponseText string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PromptTemplate is a versioned, externally editable prompt.
// At most one version is active per function tag.
type PromptTemplate struct {
	ID              int64
	FunctionTag     string
	Version         int
	Title           string
	TemplateContent string
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Gateway is the read-only view of works, chunks, and sanitized
// files the pipeline consumes.
type Gateway interface {
	// GetWork returns the work or a NotFound error.
	GetWork(ctx context.Context, id int64) (*Work, error)

	// GetChunk returns the chunk or a NotFound error.
	GetChunk(ctx context.Context, id int64) (*Chunk, error)

	// GetChunks returns chunks by id. Missing ids are omitted, not an error.
	GetChunks(ctx context.Context, ids []int64) (map[int64]*Chunk, error)

	// GetParentChunks returns each child's heading chunk keyed by
	// child id. Children with nil parent are omitted.
	GetParentChunks(ctx context.Context, childIDs []int64) (map[int64]*Chunk, error)

	// ReadSanitizedSlice returns the inclusive 1-indexed line range
	// from the work's sanitized file. Fails with StaleSource when the
	// file is missing or its hash no longer matches.
	ReadSanitizedSlice(ctx context.Context, workID int64, startLine, endLine int) (string, error)
}

// QueryStore persists queries and results. Each stage performs a
// single atomic write per query.
type QueryStore interface {
	CreateQuery(ctx context.Context, q *Query) error
	GetQuery(ctx context.Context, id string) (*Query, error)
	UpdateQuery(ctx context.Context, q *Query) error
	ListQueries(ctx context.Context, limit int) ([]*Query, error)

	CreateResult(ctx context.Context, r *Result) error
	ListResults(ctx context.Context, queryID string) ([]*Result, error)
}

// TemplateStore resolves and manages prompt templates.
type TemplateStore interface {
	// ActiveTemplate returns the active template for a function tag,
	// or a NotFound error when none is active.
	ActiveTemplate(ctx context.Context, functionTag string) (*PromptTemplate, error)
	ListTemplates(ctx context.Context, functionTag string) ([]*PromptTemplate, error)
	CreateTemplate(ctx context.Context, t *PromptTemplate) error
	// ActivateTemplate makes the given version active and deactivates
	// all other versions sharing its function tag.
	ActivateTemplate(ctx context.Context, id int64) error
}

// DenseResult is a single dense search hit.
type DenseResult struct {
	ChunkID    int64
	Similarity float64 // cosine-derived, in [0,1]
}

// LexicalResult is a single lexical search hit.
type LexicalResult struct {
	ChunkID   int64
	RankScore float64 // BM25-family score, unbounded
}
