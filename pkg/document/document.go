// Package document defines the Document value type: the unit of work that
// flows through a pipeline, plus the small set of pure helpers the executor
// uses to link parent/child lineage.
//
// A Document returned from the store is a snapshot — mutating it does not
// propagate back to the store; persistence only happens through pkg/store.
package document

import (
	"github.com/google/uuid"
)

// DefaultMediaType is used when a document is created without one.
const DefaultMediaType = "text/plain"

// Reserved metadata keys carried by every error document (see §6 of the
// engine's error-capture contract).
const (
	MetaError            = "error"
	MetaErrorType        = "error_type"
	MetaTransitionFrom   = "transition_from"
	MetaTransitionTo     = "transition_to"
	MetaOriginalMediaType = "original_media_type"
	MetaTimestamp        = "timestamp"
	MetaProcessFunction  = "process_function"
)

// ReservedMetadataKeys lists every key reserved for error documents, in a
// stable order. Neither the stores nor the executor reject these keys in a
// non-error document's metadata.
var ReservedMetadataKeys = []string{
	MetaError,
	MetaErrorType,
	MetaTransitionFrom,
	MetaTransitionTo,
	MetaOriginalMediaType,
	MetaTimestamp,
	MetaProcessFunction,
}

// Document is the unit of work processed by a pipeline.
type Document struct {
	ID        string
	State     string
	Content   *string
	MediaType string
	URL       *string
	ParentID  *string
	Metadata  map[string]interface{}

	// ChildIDs is populated by the store on reads that hydrate lineage
	// (Get, GetBatch, List, and the executor's in-transaction refresh of
	// the parent); it is never itself
	// persisted as a column.
	ChildIDs []string
}

// New constructs a Document, assigning a fresh id if one was not given and
// defaulting MediaType.
func New(d Document) *Document {
	out := d
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	if out.MediaType == "" {
		out.MediaType = DefaultMediaType
	}
	if out.Metadata == nil {
		out.Metadata = make(map[string]interface{})
	}
	return &out
}

// IsRoot reports whether the document has no parent.
func (d *Document) IsRoot() bool {
	return d.ParentID == nil
}

// HasChildren reports whether the store populated at least one child id.
// It is only meaningful on a Document returned by the store; it is not
// itself a persisted attribute.
func (d *Document) HasChildren() bool {
	return len(d.ChildIDs) > 0
}

// AddChildren appends ids not already present in ChildIDs. It is used by
// the executor to refresh an in-memory parent snapshot after fan-out;
// children are persisted independently via their own ParentID, never via a
// list column on the parent.
func (d *Document) AddChildren(ids ...string) {
	seen := make(map[string]struct{}, len(d.ChildIDs))
	for _, id := range d.ChildIDs {
		seen[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		d.ChildIDs = append(d.ChildIDs, id)
	}
}

// Clone returns a deep-enough copy safe for a caller to mutate without
// affecting the receiver: Metadata is copied key by key, ChildIDs is
// reslice-copied, and Content/URL/ParentID pointers are duplicated.
func (d *Document) Clone() *Document {
	c := *d
	if d.Content != nil {
		v := *d.Content
		c.Content = &v
	}
	if d.URL != nil {
		v := *d.URL
		c.URL = &v
	}
	if d.ParentID != nil {
		v := *d.ParentID
		c.ParentID = &v
	}
	if d.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	if d.ChildIDs != nil {
		c.ChildIDs = append([]string(nil), d.ChildIDs...)
	}
	return &c
}
