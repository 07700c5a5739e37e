package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fluxorio/docpipe/pkg/core"
	"github.com/fluxorio/docpipe/pkg/document"
	"github.com/fluxorio/docpipe/pkg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	content TEXT,
	media_type TEXT NOT NULL,
	url TEXT,
	parent_id TEXT,
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_documents_parent_id ON documents(parent_id);
CREATE INDEX IF NOT EXISTS idx_documents_state ON documents(state);
`

type dialect int

const (
	dialectQuestion dialect = iota
	dialectDollar
)

func dialectFor(driverName string) dialect {
	if driverName == "pgx" {
		return dialectDollar
	}
	return dialectQuestion
}

func (d dialect) ph(n int) string {
	if d == dialectDollar {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// execer is the subset of *pool (or a transaction) every query runs
// through, letting Store methods run unmodified whether or not they are
// inside a WithTransaction callback.
type execer interface {
	Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row
	Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type txExecer struct{ tx *sql.Tx }

func (t txExecer) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}
func (t txExecer) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}
func (t txExecer) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

// Store is a store.Store backed by database/sql. Use New to build the
// top-level instance; WithTransaction hands callbacks a tx-scoped Store
// with the identical method set.
type Store struct {
	pool *pool
	dia  dialect
	exec execer
	tx   *sql.Tx // non-nil only for a tx-scoped Store
}

var _ store.Store = (*Store)(nil)

// New opens a connection pool for config and ensures the documents table
// exists.
func New(config PoolConfig) (*Store, error) {
	p, err := newPool(config)
	if err != nil {
		return nil, err
	}
	s := &Store{pool: p, dia: dialectFor(config.DriverName), exec: p}
	if _, err := p.Exec(context.Background(), schema); err != nil {
		p.Close()
		return nil, core.Wrap(core.CodeInvalidInput, "creating documents schema", err)
	}
	return s, nil
}

func (s *Store) isTopLevel() bool { return s.tx == nil }

func (s *Store) Close() error {
	if !s.isTopLevel() {
		return core.NewError(core.CodeInvalidInput, "Close called on a transaction-scoped store")
	}
	return s.pool.Close()
}

func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if !s.isTopLevel() {
		return fn(ctx, s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.Wrap(core.CodeInvalidInput, "beginning transaction", err)
	}
	txStore := &Store{pool: s.pool, dia: s.dia, exec: txExecer{tx}, tx: tx}
	if err := fn(ctx, txStore); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return core.Wrap(core.CodeInvalidInput, "committing transaction", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

func (s *Store) Add(ctx context.Context, docs []*document.Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if s.isTopLevel() {
		var ids []string
		err := s.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
			var err error
			ids, err = tx.Add(ctx, docs)
			return err
		})
		return ids, err
	}

	ids := make([]string, len(docs))
	query := fmt.Sprintf(
		"INSERT INTO documents (id, state, content, media_type, url, parent_id, metadata) VALUES (%s, %s, %s, %s, %s, %s, %s)",
		s.dia.ph(1), s.dia.ph(2), s.dia.ph(3), s.dia.ph(4), s.dia.ph(5), s.dia.ph(6), s.dia.ph(7))

	for i, d := range docs {
		id := d.ID
		if id == "" {
			id = uuid.New().String()
		}
		ids[i] = id

		metaJSON, err := json.Marshal(d.Metadata)
		if err != nil {
			return nil, core.Wrap(core.CodeInvalidInput, "encoding metadata", err)
		}
		mediaType := d.MediaType
		if mediaType == "" {
			mediaType = document.DefaultMediaType
		}
		if _, err := s.exec.Exec(ctx, query, id, d.State, d.Content, mediaType, d.URL, d.ParentID, string(metaJSON)); err != nil {
			if isUniqueViolation(err) {
				return nil, core.Wrap(core.CodeConflict, fmt.Sprintf("document %s already exists", id), err)
			}
			return nil, core.Wrap(core.CodeInvalidInput, "inserting document", err)
		}
	}
	return ids, nil
}

func (s *Store) childIDs(ctx context.Context, id string) ([]string, error) {
	rows, err := s.exec.Query(ctx, fmt.Sprintf("SELECT id FROM documents WHERE parent_id = %s ORDER BY id", s.dia.ph(1)), id)
	if err != nil {
		return nil, core.Wrap(core.CodeInvalidInput, "querying children", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var childID string
		if err := rows.Scan(&childID); err != nil {
			return nil, core.Wrap(core.CodeInvalidInput, "scanning child id", err)
		}
		out = append(out, childID)
	}
	return out, rows.Err()
}

func scanDocument(row interface {
	Scan(dest ...interface{}) error
}, includeContent bool) (*document.Document, error) {
	var (
		id, state, mediaType, metaJSON string
		content, url, parentID         sql.NullString
	)
	if includeContent {
		if err := row.Scan(&id, &state, &content, &mediaType, &url, &parentID, &metaJSON); err != nil {
			return nil, err
		}
	} else {
		if err := row.Scan(&id, &state, &mediaType, &url, &parentID, &metaJSON); err != nil {
			return nil, err
		}
	}

	var meta map[string]interface{}
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, core.Wrap(core.CodeInvalidInput, "decoding metadata", err)
	}

	doc := &document.Document{ID: id, State: state, MediaType: mediaType, Metadata: meta}
	if includeContent && content.Valid {
		v := content.String
		doc.Content = &v
	}
	if url.Valid {
		v := url.String
		doc.URL = &v
	}
	if parentID.Valid {
		v := parentID.String
		doc.ParentID = &v
	}
	return doc, nil
}

func (s *Store) Get(ctx context.Context, id string, includeContent bool) (*document.Document, error) {
	var query string
	if includeContent {
		query = fmt.Sprintf("SELECT id, state, content, media_type, url, parent_id, metadata FROM documents WHERE id = %s", s.dia.ph(1))
	} else {
		query = fmt.Sprintf("SELECT id, state, media_type, url, parent_id, metadata FROM documents WHERE id = %s", s.dia.ph(1))
	}

	doc, err := scanDocument(s.exec.QueryRow(ctx, query, id), includeContent)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, core.Wrap(core.CodeInvalidInput, "querying document", err)
	}

	children, err := s.childIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.ChildIDs = children
	return doc, nil
}

func (s *Store) GetBatch(ctx context.Context, ids []string) ([]*document.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = s.dia.ph(i + 1)
		args[i] = id
	}
	query := fmt.Sprintf("SELECT id, state, content, media_type, url, parent_id, metadata FROM documents WHERE id IN (%s)",
		strings.Join(placeholders, ", "))

	rows, err := s.exec.Query(ctx, query, args...)
	if err != nil {
		return nil, core.Wrap(core.CodeInvalidInput, "querying documents", err)
	}
	defer rows.Close()

	var out []*document.Document
	for rows.Next() {
		doc, err := scanDocument(rows, true)
		if err != nil {
			return nil, core.Wrap(core.CodeInvalidInput, "scanning document", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Wrap(core.CodeInvalidInput, "reading documents", err)
	}

	for _, doc := range out {
		children, err := s.childIDs(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		doc.ChildIDs = children
	}
	return out, nil
}

// List filters by state in SQL and applies Leaf/MetadataFilters in Go,
// since metadata is stored as an opaque JSON blob and the two supported
// drivers expose incompatible JSON-query dialects.
func (s *Store) List(ctx context.Context, state string, opts store.ListOptions) ([]*document.Document, error) {
	var query string
	if opts.IncludeContent {
		query = fmt.Sprintf("SELECT id, state, content, media_type, url, parent_id, metadata FROM documents WHERE state = %s ORDER BY id", s.dia.ph(1))
	} else {
		query = fmt.Sprintf("SELECT id, state, media_type, url, parent_id, metadata FROM documents WHERE state = %s ORDER BY id", s.dia.ph(1))
	}

	rows, err := s.exec.Query(ctx, query, state)
	if err != nil {
		return nil, core.Wrap(core.CodeInvalidInput, "querying documents", err)
	}
	defer rows.Close()

	var out []*document.Document
	for rows.Next() {
		doc, err := scanDocument(rows, opts.IncludeContent)
		if err != nil {
			return nil, core.Wrap(core.CodeInvalidInput, "scanning document", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Wrap(core.CodeInvalidInput, "reading documents", err)
	}

	filtered := out[:0]
	for _, doc := range out {
		children, err := s.childIDs(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		doc.ChildIDs = children
		if opts.Leaf && doc.HasChildren() {
			continue
		}
		if !metadataMatches(doc.Metadata, opts.MetadataFilters) {
			continue
		}
		filtered = append(filtered, doc)
	}
	return filtered, nil
}

func metadataMatches(meta map[string]interface{}, filters map[string]interface{}) bool {
	for k, want := range filters {
		got, ok := meta[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func (s *Store) Count(ctx context.Context, state *string) (int, error) {
	var (
		row interface{ Scan(dest ...interface{}) error }
		n   int
	)
	if state == nil {
		row = s.exec.QueryRow(ctx, "SELECT COUNT(*) FROM documents")
	} else {
		row = s.exec.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM documents WHERE state = %s", s.dia.ph(1)), *state)
	}
	if err := row.Scan(&n); err != nil {
		return 0, core.Wrap(core.CodeInvalidInput, "counting documents", err)
	}
	return n, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if s.isTopLevel() {
		return s.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
			return tx.Delete(ctx, id)
		})
	}

	children, err := s.childIDs(ctx, id)
	if err != nil {
		return err
	}
	for _, childID := range children {
		if err := s.Delete(ctx, childID); err != nil {
			return err
		}
	}
	_, err = s.exec.Exec(ctx, fmt.Sprintf("DELETE FROM documents WHERE id = %s", s.dia.ph(1)), id)
	if err != nil {
		return core.Wrap(core.CodeInvalidInput, "deleting document", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, ref store.UpdateRef, metadataUpdates map[string]interface{}) (*document.Document, error) {
	if s.isTopLevel() {
		var updated *document.Document
		err := s.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
			var err error
			updated, err = tx.Update(ctx, ref, metadataUpdates)
			return err
		})
		return updated, err
	}

	existing, err := s.Get(ctx, ref.ID, true)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, core.NewError(core.CodeNotFound, fmt.Sprintf("document %s not found", ref.ID))
	}
	if ref.Doc != nil {
		if ref.Doc.State != existing.State ||
			!stringPtrEqual(ref.Doc.Content, existing.Content) ||
			ref.Doc.MediaType != existing.MediaType {
			return nil, core.NewError(core.CodeMismatch,
				fmt.Sprintf("document %s does not match stored state/content/media_type", ref.ID))
		}
	}

	for k, v := range metadataUpdates {
		existing.Metadata[k] = v
	}
	metaJSON, err := json.Marshal(existing.Metadata)
	if err != nil {
		return nil, core.Wrap(core.CodeInvalidInput, "encoding metadata", err)
	}
	_, err = s.exec.Exec(ctx, fmt.Sprintf("UPDATE documents SET metadata = %s WHERE id = %s", s.dia.ph(1), s.dia.ph(2)),
		string(metaJSON), ref.ID)
	if err != nil {
		return nil, core.Wrap(core.CodeInvalidInput, "updating document", err)
	}
	return existing, nil
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

type contentStream struct {
	remaining string
	chunkSize int
	done      bool
}

func (c *contentStream) Next(ctx context.Context) (string, bool, error) {
	if c.done {
		return "", false, nil
	}
	if len(c.remaining) <= c.chunkSize {
		chunk := c.remaining
		c.remaining = ""
		c.done = true
		return chunk, true, nil
	}
	chunk := c.remaining[:c.chunkSize]
	c.remaining = c.remaining[c.chunkSize:]
	return chunk, true, nil
}

func (c *contentStream) Close() error { c.done = true; return nil }

func (s *Store) StreamContent(ctx context.Context, id string, chunkSize int) (store.ContentStream, error) {
	if chunkSize <= 0 {
		return nil, core.NewError(core.CodeInvalidInput, "chunkSize must be positive")
	}
	var content sql.NullString
	err := s.exec.QueryRow(ctx, fmt.Sprintf("SELECT content FROM documents WHERE id = %s", s.dia.ph(1)), id).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, core.NewError(core.CodeNotFound, fmt.Sprintf("document %s not found", id))
	}
	if err != nil {
		return nil, core.Wrap(core.CodeInvalidInput, "querying content", err)
	}
	return &contentStream{remaining: content.String, chunkSize: chunkSize}, nil
}
