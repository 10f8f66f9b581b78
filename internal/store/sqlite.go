package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	ragerr "github.com/DominikGorecki/psychrag-sub002/internal/errors"
)

// SQLiteStore implements Gateway, QueryStore, and TemplateStore on a
// single SQLite database in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ Gateway       = (*SQLiteStore)(nil)
	_ QueryStore    = (*SQLiteStore)(nil)
	_ TemplateStore = (*SQLiteStore)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS works (
	id         INTEGER PRIMARY KEY,
	title      TEXT NOT NULL,
	authors    TEXT NOT NULL DEFAULT '',
	year       INTEGER NOT NULL DEFAULT 0,
	files_json TEXT NOT NULL DEFAULT '{}',
	biblio     TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chunks (
	id                  INTEGER PRIMARY KEY,
	work_id             INTEGER NOT NULL REFERENCES works(id),
	parent_id           INTEGER REFERENCES chunks(id),
	level               TEXT NOT NULL,
	content             TEXT NOT NULL DEFAULT '',
	heading_breadcrumbs TEXT NOT NULL DEFAULT '',
	start_line          INTEGER NOT NULL,
	end_line            INTEGER NOT NULL,
	vector_status       TEXT NOT NULL DEFAULT 'no_vec',
	embedding           BLOB,
	created_at          TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at          TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_chunks_work ON chunks(work_id);
CREATE INDEX IF NOT EXISTS idx_chunks_parent ON chunks(parent_id);
CREATE INDEX IF NOT EXISTS idx_chunks_status ON chunks(vector_status);

CREATE TABLE IF NOT EXISTS queries (
	id                           TEXT PRIMARY KEY,
	original_query               TEXT NOT NULL,
	expanded_queries_json        TEXT NOT NULL DEFAULT '[]',
	hyde_answer                  TEXT NOT NULL DEFAULT '',
	intent                       TEXT NOT NULL DEFAULT 'UNKNOWN',
	entities_json                TEXT NOT NULL DEFAULT '[]',
	embedding_original_json      TEXT,
	embeddings_mqe_json          TEXT,
	embedding_hyde_json          TEXT,
	vector_status                TEXT NOT NULL DEFAULT 'no_vec',
	state                        TEXT NOT NULL DEFAULT 'created',
	parse_warning                INTEGER NOT NULL DEFAULT 0,
	retrieved_context_json       TEXT,
	clean_retrieval_context_json TEXT,
	created_at                   TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at                   TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS results (
	id            TEXT PRIMARY KEY,
	query_id      TEXT NOT NULL REFERENCES queries(id),
	response_text TEXT NOT NULL,
	created_at    TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at    TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_results_query ON results(query_id);

CREATE TABLE IF NOT EXISTS prompt_templates (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	function_tag     TEXT NOT NULL,
	version          INTEGER NOT NULL,
	title            TEXT NOT NULL DEFAULT '',
	template_content TEXT NOT NULL,
	is_active        INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at       TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(function_tag, version)
);

CREATE TABLE IF NOT EXISTS rag_config (
	preset      TEXT PRIMARY KEY,
	config_json TEXT NOT NULL,
	updated_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// NewSQLiteStore opens (or creates) the metadata database at path and
// applies the schema. Use ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// WAL for concurrent readers; busy_timeout so per-query writers
	// queue instead of failing.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying handle for health checks.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// --- Work operations ---

// SaveWork inserts or replaces a work. Used by ingestion tooling and
// tests; the pipeline itself only reads works.
func (s *SQLiteStore) SaveWork(ctx context.Context, w *Work) error {
	files, err := json.Marshal(w.Files)
	if err != nil {
		return fmt.Errorf("marshal files: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO works (id, title, authors, year, files_json, biblio)
		VALUES (?, ?, ?, ?, ?, ?)`,
		w.ID, w.Title, w.Authors, w.Year, string(files), w.Biblio)
	if err != nil {
		return ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
	}
	return nil
}

// GetWork returns the work or a NotFound error.
func (s *SQLiteStore) GetWork(ctx context.Context, id int64) (*Work, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, authors, year, files_json, biblio, created_at
		FROM works WHERE id = ?`, id)

	var w Work
	var files string
	if err := row.Scan(&w.ID, &w.Title, &w.Authors, &w.Year, &files, &w.Biblio, &w.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ragerr.NotFound("work", fmt.Sprint(id))
		}
		return nil, ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
	}
	if err := json.Unmarshal([]byte(files), &w.Files); err != nil {
		return nil, fmt.Errorf("parse files_json for work %d: %w", id, err)
	}
	return &w, nil
}

// ListWorks returns all works ordered by id.
func (s *SQLiteStore) ListWorks(ctx context.Context) ([]*Work, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, authors, year, files_json, biblio, created_at
		FROM works ORDER BY id`)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
	}
	defer rows.Close()

	var works []*Work
	for rows.Next() {
		var w Work
		var files string
		if err := rows.Scan(&w.ID, &w.Title, &w.Authors, &w.Year, &files, &w.Biblio, &w.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(files), &w.Files); err != nil {
			return nil, fmt.Errorf("parse files_json for work %d: %w", w.ID, err)
		}
		works = append(works, &w)
	}
	return works, rows.Err()
}

// --- Chunk operations ---

const chunkColumns = `id, work_id, parent_id, level, content, heading_breadcrumbs,
	start_line, end_line, vector_status, embedding, created_at, updated_at`

// SaveChunks inserts or replaces chunks in one transaction.
func (s *SQLiteStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
		(id, work_id, parent_id, level, content, heading_breadcrumbs,
		 start_line, end_line, vector_status, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		var parent interface{}
		if c.ParentID != nil {
			parent = *c.ParentID
		}
		_, err := stmt.ExecContext(ctx, c.ID, c.WorkID, parent, string(c.Level),
			c.Content, c.HeadingBreadcrumbs, c.StartLine, c.EndLine,
			string(c.VectorStatus), encodeVector(c.Embedding))
		if err != nil {
			return ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
		}
	}
	return tx.Commit()
}

func scanChunk(scanner interface{ Scan(...any) error }) (*Chunk, error) {
	var c Chunk
	var parent sql.NullInt64
	var level, status string
	var emb []byte
	err := scanner.Scan(&c.ID, &c.WorkID, &parent, &level, &c.Content,
		&c.HeadingBreadcrumbs, &c.StartLine, &c.EndLine, &status, &emb,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if parent.Valid {
		p := parent.Int64
		c.ParentID = &p
	}
	c.Level = Level(level)
	c.VectorStatus = VectorStatus(status)
	c.Embedding = decodeVector(emb)
	return &c, nil
}

// GetChunk returns the chunk or a NotFound error.
func (s *SQLiteStore) GetChunk(ctx context.Context, id int64) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ragerr.NotFound("chunk", fmt.Sprint(id))
		}
		return nil, ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
	}
	return c, nil
}

// GetChunks returns chunks by id; missing ids are silently omitted.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []int64) (map[int64]*Chunk, error) {
	result := make(map[int64]*Chunk, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		result[c.ID] = c
	}
	return result, rows.Err()
}

// GetParentChunks returns each child's heading chunk keyed by child id.
func (s *SQLiteStore) GetParentChunks(ctx context.Context, childIDs []int64) (map[int64]*Chunk, error) {
	children, err := s.GetChunks(ctx, childIDs)
	if err != nil {
		return nil, err
	}

	parentIDs := make([]int64, 0, len(children))
	seen := make(map[int64]bool)
	for _, c := range children {
		if c.ParentID != nil && !seen[*c.ParentID] {
			seen[*c.ParentID] = true
			parentIDs = append(parentIDs, *c.ParentID)
		}
	}

	parents, err := s.GetChunks(ctx, parentIDs)
	if err != nil {
		return nil, err
	}

	result := make(map[int64]*Chunk, len(children))
	for id, c := range children {
		if c.ParentID == nil {
			continue
		}
		if p, ok := parents[*c.ParentID]; ok {
			result[id] = p
		}
	}
	return result, nil
}

// EligibleChunks streams the chunks eligible for retrieval
// (parent_id non-null and vector_status = vec), ordered by id.
// Used to bootstrap the dense and lexical indexes.
func (s *SQLiteStore) EligibleChunks(ctx context.Context) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chunkColumns+` FROM chunks
		WHERE parent_id IS NOT NULL AND vector_status = 'vec'
		ORDER BY id`)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// --- Query operations ---

// CreateQuery inserts a new query record.
func (s *SQLiteStore) CreateQuery(ctx context.Context, q *Query) error {
	cols, err := marshalQuery(q)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO queries
		(id, original_query, expanded_queries_json, hyde_answer, intent,
		 entities_json, embedding_original_json, embeddings_mqe_json,
		 embedding_hyde_json, vector_status, state, parse_warning,
		 retrieved_context_json, clean_retrieval_context_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.OriginalQuery, cols.expanded, q.HydeAnswer, string(q.Intent),
		cols.entities, cols.embOrig, cols.embMQE, cols.embHyde,
		string(q.VectorStatus), string(q.State), boolToInt(q.ParseWarning),
		cols.retrieved, cols.clean)
	if err != nil {
		return ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
	}
	return nil
}

// UpdateQuery rewrites all derived query fields in a single write.
// Stages call this exactly once on success.
func (s *SQLiteStore) UpdateQuery(ctx context.Context, q *Query) error {
	cols, err := marshalQuery(q)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE queries SET
		 original_query = ?, expanded_queries_json = ?, hyde_answer = ?,
		 intent = ?, entities_json = ?, embedding_original_json = ?,
		 embeddings_mqe_json = ?, embedding_hyde_json = ?, vector_status = ?,
		 state = ?, parse_warning = ?, retrieved_context_json = ?,
		 clean_retrieval_context_json = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		q.OriginalQuery, cols.expanded, q.HydeAnswer, string(q.Intent),
		cols.entities, cols.embOrig, cols.embMQE, cols.embHyde,
		string(q.VectorStatus), string(q.State), boolToInt(q.ParseWarning),
		cols.retrieved, cols.clean, q.ID)
	if err != nil {
		return ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ragerr.NotFound("query", q.ID)
	}
	return nil
}

const queryColumns = `id, original_query, expanded_queries_json, hyde_answer,
	intent, entities_json, embedding_original_json, embeddings_mqe_json,
	embedding_hyde_json, vector_status, state, parse_warning,
	retrieved_context_json, clean_retrieval_context_json, created_at, updated_at`

// GetQuery returns the query or a NotFound error.
func (s *SQLiteStore) GetQuery(ctx context.Context, id string) (*Query, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queryColumns+` FROM queries WHERE id = ?`, id)
	q, err := scanQuery(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ragerr.NotFound("query", id)
		}
		return nil, ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
	}
	return q, nil
}

// ListQueries returns the most recent queries.
func (s *SQLiteStore) ListQueries(ctx context.Context, limit int) ([]*Query, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queryColumns+` FROM queries ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
	}
	defer rows.Close()

	var queries []*Query
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, err
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

type queryColumnsJSON struct {
	expanded, entities       string
	embOrig, embMQE, embHyde sql.NullString
	retrieved, clean         sql.NullString
}

func marshalQuery(q *Query) (queryColumnsJSON, error) {
	var cols queryColumnsJSON

	expanded, err := json.Marshal(orEmptySlice(q.ExpandedQueries))
	if err != nil {
		return cols, err
	}
	cols.expanded = string(expanded)

	entities, err := json.Marshal(orEmptySlice(q.Entities))
	if err != nil {
		return cols, err
	}
	cols.entities = string(entities)

	cols.embOrig, err = marshalNullable(q.EmbeddingOriginal != nil, q.EmbeddingOriginal)
	if err != nil {
		return cols, err
	}
	cols.embMQE, err = marshalNullable(q.EmbeddingsMQE != nil, q.EmbeddingsMQE)
	if err != nil {
		return cols, err
	}
	cols.embHyde, err = marshalNullable(q.EmbeddingHyde != nil, q.EmbeddingHyde)
	if err != nil {
		return cols, err
	}
	cols.retrieved, err = marshalNullable(q.RetrievedContext != nil, q.RetrievedContext)
	if err != nil {
		return cols, err
	}
	cols.clean, err = marshalNullable(q.CleanRetrievalContext != nil, q.CleanRetrievalContext)
	if err != nil {
		return cols, err
	}
	return cols, nil
}

func scanQuery(scanner interface{ Scan(...any) error }) (*Query, error) {
	var q Query
	var intent, status, state string
	var parseWarning int
	var expanded, entities string
	var embOrig, embMQE, embHyde, retrieved, clean sql.NullString

	err := scanner.Scan(&q.ID, &q.OriginalQuery, &expanded, &q.HydeAnswer,
		&intent, &entities, &embOrig, &embMQE, &embHyde, &status, &state,
		&parseWarning, &retrieved, &clean, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}

	q.Intent = Intent(intent)
	q.VectorStatus = VectorStatus(status)
	q.State = QueryState(state)
	q.ParseWarning = parseWarning != 0

	if err := json.Unmarshal([]byte(expanded), &q.ExpandedQueries); err != nil {
		return nil, fmt.Errorf("parse expanded_queries for query %s: %w", q.ID, err)
	}
	if err := json.Unmarshal([]byte(entities), &q.Entities); err != nil {
		return nil, fmt.Errorf("parse entities for query %s: %w", q.ID, err)
	}
	if err := unmarshalNullable(embOrig, &q.EmbeddingOriginal); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(embMQE, &q.EmbeddingsMQE); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(embHyde, &q.EmbeddingHyde); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(retrieved, &q.RetrievedContext); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(clean, &q.CleanRetrievalContext); err != nil {
		return nil, err
	}
	return &q, nil
}

// --- Result operations ---

// CreateResult persists a new answer for a query.
func (s *SQLiteStore) CreateResult(ctx context.Context, r *Result) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO results (id, query_id, response_text) VALUES (?, ?, ?)`,
		r.ID, r.QueryID, r.ResponseText)
	if err != nil {
		return ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
	}
	return nil
}

// ListResults returns all results for a query, oldest first.
func (s *SQLiteStore) ListResults(ctx context.Context, queryID string) ([]*Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query_id, response_text, created_at, updated_at
		FROM results WHERE query_id = ? ORDER BY created_at, id`, queryID)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.QueryID, &r.ResponseText, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

// --- Prompt template operations ---

// ActiveTemplate returns the active template for a function tag.
func (s *SQLiteStore) ActiveTemplate(ctx context.Context, functionTag string) (*PromptTemplate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, function_tag, version, title, template_content, is_active, created_at, updated_at
		FROM prompt_templates WHERE function_tag = ? AND is_active = 1`, functionTag)
	t, err := scanTemplate(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ragerr.NotFound("prompt_template", functionTag)
		}
		return nil, ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
	}
	return t, nil
}

// ListTemplates returns all versions for a function tag, newest first.
// An empty tag lists every template.
func (s *SQLiteStore) ListTemplates(ctx context.Context, functionTag string) ([]*PromptTemplate, error) {
	query := `SELECT id, function_tag, version, title, template_content, is_active, created_at, updated_at
		FROM prompt_templates`
	var args []any
	if functionTag != "" {
		query += ` WHERE function_tag = ?`
		args = append(args, functionTag)
	}
	query += ` ORDER BY function_tag, version DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
	}
	defer rows.Close()

	var templates []*PromptTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// CreateTemplate inserts a new template version. The version is
// auto-assigned as max(version)+1 for the function tag. If the new
// template is active, other versions are deactivated in the same
// transaction to hold the one-active-per-tag invariant.
func (s *SQLiteStore) CreateTemplate(ctx context.Context, t *PromptTemplate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var maxVersion sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(version) FROM prompt_templates WHERE function_tag = ?`,
		t.FunctionTag).Scan(&maxVersion)
	if err != nil {
		return ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
	}
	t.Version = int(maxVersion.Int64) + 1

	if t.IsActive {
		_, err = tx.ExecContext(ctx,
			`UPDATE prompt_templates SET is_active = 0 WHERE function_tag = ?`, t.FunctionTag)
		if err != nil {
			return ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO prompt_templates (function_tag, version, title, template_content, is_active)
		VALUES (?, ?, ?, ?, ?)`,
		t.FunctionTag, t.Version, t.Title, t.TemplateContent, boolToInt(t.IsActive))
	if err != nil {
		return ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
	}
	t.ID, _ = res.LastInsertId()

	return tx.Commit()
}

// ActivateTemplate makes the given version the sole active one for
// its function tag.
func (s *SQLiteStore) ActivateTemplate(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var tag string
	err = tx.QueryRowContext(ctx,
		`SELECT function_tag FROM prompt_templates WHERE id = ?`, id).Scan(&tag)
	if err != nil {
		if err == sql.ErrNoRows {
			return ragerr.NotFound("prompt_template", fmt.Sprint(id))
		}
		return ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE prompt_templates SET is_active = 0 WHERE function_tag = ?`, tag); err != nil {
		return ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE prompt_templates SET is_active = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id); err != nil {
		return ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
	}
	return tx.Commit()
}

func scanTemplate(scanner interface{ Scan(...any) error }) (*PromptTemplate, error) {
	var t PromptTemplate
	var active int
	err := scanner.Scan(&t.ID, &t.FunctionTag, &t.Version, &t.Title,
		&t.TemplateContent, &active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.IsActive = active != 0
	return &t, nil
}

// --- Config preset operations ---

// SaveRagConfig upserts the JSON config for a preset name.
func (s *SQLiteStore) SaveRagConfig(ctx context.Context, preset, configJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rag_config (preset, config_json) VALUES (?, ?)
		ON CONFLICT(preset) DO UPDATE SET config_json = excluded.config_json,
		updated_at = CURRENT_TIMESTAMP`, preset, configJSON)
	if err != nil {
		return ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
	}
	return nil
}

// LoadRagConfig returns the JSON config for a preset name.
func (s *SQLiteStore) LoadRagConfig(ctx context.Context, preset string) (string, error) {
	var configJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT config_json FROM rag_config WHERE preset = ?`, preset).Scan(&configJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ragerr.NotFound("rag_config", preset)
		}
		return "", ragerr.Wrap(ragerr.ErrCodeStoreFailed, err)
	}
	return configJSON, nil
}

// --- Helpers ---

// encodeVector serializes a float32 vector as little-endian bytes.
func encodeVector(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector deserializes little-endian bytes to a float32 vector.
func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func marshalNullable(present bool, v any) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalNullable[T any](col sql.NullString, dst *T) error {
	if !col.Valid {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dst)
}
