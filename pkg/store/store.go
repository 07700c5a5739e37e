// Package store defines the Document Store contract (§4.3): durable CRUD
// over documents, batch insert, state/metadata queries, streaming content
// reads, and atomic multi-document writes via a store-level transaction.
//
// Two implementations are provided: sqlstore (pkg/store/sqlstore), backed by
// database/sql against Postgres (pgx) or SQLite (mattn/go-sqlite3), and
// memstore (pkg/store/memstore), an in-memory implementation used by the
// engine's own tests and suitable for small single-process deployments.
package store

import (
	"context"

	"github.com/fluxorio/docpipe/pkg/document"
)

// ListOptions narrows a List query (§4.3 op 4).
type ListOptions struct {
	// Leaf, when true, excludes documents that have at least one stored
	// child at query time.
	Leaf bool
	// IncludeContent controls whether the content column is populated.
	IncludeContent bool
	// MetadataFilters requires every (key, value) pair to be present in a
	// document's metadata, compared by JSON-scalar value equality.
	MetadataFilters map[string]interface{}
}

// UpdateRef identifies the document an Update call targets, and optionally
// carries a full snapshot to be checked for mismatch against the stored
// record's immutable fields (State, Content, MediaType).
type UpdateRef struct {
	ID  string
	Doc *document.Document
}

// ByID targets an update by id alone; no mismatch check is performed.
func ByID(id string) UpdateRef { return UpdateRef{ID: id} }

// ByDocument targets an update by doc.ID and additionally requires the
// stored record's State, Content, and MediaType to match doc's.
func ByDocument(doc *document.Document) UpdateRef {
	return UpdateRef{ID: doc.ID, Doc: doc}
}

// ContentStream is a lazy, finite sequence of content chunks, yielded in
// order. Empty content yields exactly one empty chunk, then Next returns
// false.
type ContentStream interface {
	// Next advances the stream and returns the next chunk. The second
	// return is false once the stream is exhausted.
	Next(ctx context.Context) (chunk string, ok bool, err error)
	// Close releases any resources (e.g. an open row) held by the stream.
	Close() error
}

// Store is the Document Store contract (§4.3). Every operation is safe
// under concurrent invocation; every multi-document write is atomic.
type Store interface {
	// Add inserts one or more documents in a single atomic write, assigning
	// ids to any document with an absent one, and returns the final ids in
	// input order. Fails with CodeConflict if any id already exists.
	// Add(ctx, nil) is a no-op returning (nil, nil).
	Add(ctx context.Context, docs []*document.Document) ([]string, error)

	// Get returns the document and its children's ids in one read, or
	// (nil, nil) if id is not found. With includeContent false, Content is
	// left nil (an optimization for large bodies).
	Get(ctx context.Context, id string, includeContent bool) (*document.Document, error)

	// GetBatch returns the documents for ids that exist, in a single query;
	// missing ids are silently omitted. GetBatch(ctx, nil) returns (nil, nil)
	// without issuing a query.
	GetBatch(ctx context.Context, ids []string) ([]*document.Document, error)

	// List returns documents whose State equals state and whose metadata
	// satisfies opts.MetadataFilters.
	List(ctx context.Context, state string, opts ListOptions) ([]*document.Document, error)

	// Count returns the number of documents, optionally filtered by state
	// (nil means unfiltered).
	Count(ctx context.Context, state *string) (int, error)

	// Delete removes id and every descendant, cascading through ParentID.
	// Deleting a missing id is a no-op.
	Delete(ctx context.Context, id string) error

	// Update merges metadataUpdates into the stored document's metadata
	// (per-key overwrite) and returns the updated document. Fails with
	// CodeNotFound if ref.ID is unknown, or CodeMismatch if ref.Doc is set
	// and its State/Content/MediaType disagree with the stored record.
	// Neither State nor Content is mutable via Update.
	Update(ctx context.Context, ref UpdateRef, metadataUpdates map[string]interface{}) (*document.Document, error)

	// StreamContent yields id's content in fixed-size chunks. Fails with
	// CodeNotFound if id is absent.
	StreamContent(ctx context.Context, id string, chunkSize int) (ContentStream, error)

	// WithTransaction runs fn inside a single store-level transaction; every
	// write fn performs through the Store passed to it commits or aborts
	// together with the rest.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// Close releases resources held by the store (connection pool, etc).
	Close() error
}
