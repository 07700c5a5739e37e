// Package memstore is an in-memory store.Store, grounded on the teacher's
// MemoryPersistenceAdapter pattern (a mutex-guarded map standing in for a
// real backend): same locking discipline, but keyed by document id instead
// of state-machine instance id. Used by the engine's own tests and by
// callers with no durability requirement.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/fluxorio/docpipe/pkg/core"
	"github.com/fluxorio/docpipe/pkg/document"
	"github.com/fluxorio/docpipe/pkg/store"
)

// Store is a goroutine-safe in-memory store.Store. The zero value is not
// usable; construct with New.
type Store struct {
	mu   sync.Mutex
	docs map[string]*document.Document
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{docs: make(map[string]*document.Document)}
}

func (s *Store) Close() error { return nil }

func (s *Store) Add(ctx context.Context, docs []*document.Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(docs))
	for i, d := range docs {
		id := d.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, exists := s.docs[id]; exists {
			return nil, core.NewError(core.CodeConflict, fmt.Sprintf("document %s already exists", id))
		}
		ids[i] = id
	}
	for i, d := range docs {
		c := d.Clone()
		c.ID = ids[i]
		if c.MediaType == "" {
			c.MediaType = document.DefaultMediaType
		}
		if c.Metadata == nil {
			c.Metadata = make(map[string]interface{})
		}
		c.ChildIDs = nil
		s.docs[ids[i]] = c
	}
	return ids, nil
}

func (s *Store) childIDsLocked(id string) []string {
	var out []string
	for _, d := range s.docs {
		if d.ParentID != nil && *d.ParentID == id {
			out = append(out, d.ID)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Store) snapshot(d *document.Document, includeContent bool) *document.Document {
	out := d.Clone()
	out.ChildIDs = s.childIDsLocked(d.ID)
	if !includeContent {
		out.Content = nil
	}
	return out
}

func (s *Store) Get(ctx context.Context, id string, includeContent bool) (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	return s.snapshot(d, includeContent), nil
}

func (s *Store) GetBatch(ctx context.Context, ids []string) ([]*document.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*document.Document
	for _, id := range ids {
		if d, ok := s.docs[id]; ok {
			out = append(out, s.snapshot(d, true))
		}
	}
	return out, nil
}

func (s *Store) List(ctx context.Context, state string, opts store.ListOptions) ([]*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, d := range s.docs {
		if d.State != state {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []*document.Document
	for _, id := range ids {
		snap := s.snapshot(s.docs[id], opts.IncludeContent)
		if opts.Leaf && snap.HasChildren() {
			continue
		}
		if !metadataMatches(snap.Metadata, opts.MetadataFilters) {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
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
	s.mu.Lock()
	defer s.mu.Unlock()
	if state == nil {
		return len(s.docs), nil
	}
	n := 0
	for _, d := range s.docs {
		if d.State == *state {
			n++
		}
	}
	return n, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(id)
	return nil
}

func (s *Store) deleteLocked(id string) {
	if _, ok := s.docs[id]; !ok {
		return
	}
	for _, childID := range s.childIDsLocked(id) {
		s.deleteLocked(childID)
	}
	delete(s.docs, id)
}

func (s *Store) Update(ctx context.Context, ref store.UpdateRef, metadataUpdates map[string]interface{}) (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.docs[ref.ID]
	if !ok {
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
	return s.snapshot(existing, true), nil
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
	s.mu.Lock()
	d, ok := s.docs[id]
	s.mu.Unlock()
	if !ok {
		return nil, core.NewError(core.CodeNotFound, fmt.Sprintf("document %s not found", id))
	}
	content := ""
	if d.Content != nil {
		content = *d.Content
	}
	return &contentStream{remaining: content, chunkSize: chunkSize}, nil
}

// WithTransaction runs fn against s directly. Each store call fn makes is
// atomic on its own behind the mutex, but calls from other goroutines may
// interleave between them, and writes fn made before returning an error
// are not rolled back.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	return fn(ctx, s)
}
