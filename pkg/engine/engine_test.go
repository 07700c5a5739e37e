package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/fluxorio/docpipe/pkg/core"
	"github.com/fluxorio/docpipe/pkg/document"
	"github.com/fluxorio/docpipe/pkg/graph"
	"github.com/fluxorio/docpipe/pkg/store/memstore"
)

func downloadProcessor(ctx context.Context, d *document.Document) (interface{}, error) {
	if d.Content != nil && strings.Contains(*d.Content, "fail") {
		return nil, errors.New("download failed")
	}
	content := *d.Content + "-downloaded"
	return document.New(document.Document{State: "download", Content: &content}), nil
}

func chunkProcessor(ctx context.Context, d *document.Document) (interface{}, error) {
	return document.New(document.Document{State: "chunk", Content: d.Content}), nil
}

func buildPipelineGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.NewBuilder().
		State("link").To("download", downloadProcessor).Done().
		State("download").To("chunk", chunkProcessor).Done().
		State("chunk").To("embed", func(ctx context.Context, d *document.Document) (interface{}, error) {
			return document.New(document.Document{State: "embed", Content: d.Content}), nil
		}).Done().
		State("embed").Done().
		Build()
	if err != nil {
		t.Fatalf("unexpected error building graph: %v", err)
	}
	return g
}

// Scenario D (spec §8): mixed batch.
func TestFinishMixedBatch(t *testing.T) {
	st := memstore.New()
	g := buildPipelineGraph(t)
	e, err := NewWithStore(g, st, "error", 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var docs []*document.Document
	for _, c := range []string{"ok-1", "fail-x", "ok-2"} {
		content := c
		docs = append(docs, document.New(document.Document{State: "link", Content: &content}))
	}

	terminal, err := e.Finish(context.Background(), docs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var embedCount, errorCount int
	for _, d := range terminal {
		switch d.State {
		case "embed":
			embedCount++
		case "error":
			errorCount++
		}
	}
	if embedCount != 2 {
		t.Fatalf("expected 2 embed documents, got %d", embedCount)
	}
	if errorCount != 1 {
		t.Fatalf("expected 1 error document, got %d", errorCount)
	}

	n, err := st.Count(context.Background(), strPtr("error"))
	if err != nil || n != 1 {
		t.Fatalf("expected count(error) == 1, got %d (err=%v)", n, err)
	}
	n, err = st.Count(context.Background(), strPtr("embed"))
	if err != nil || n != 2 {
		t.Fatalf("expected count(embed) == 2, got %d (err=%v)", n, err)
	}
}

// Scenario F (spec §8): cascade delete.
func TestCascadeDelete(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	grandparent := document.New(document.Document{State: "link"})
	st.Add(ctx, []*document.Document{grandparent})

	parentID := grandparent.ID
	parent := document.New(document.Document{State: "download", ParentID: &parentID})
	st.Add(ctx, []*document.Document{parent})

	childParentID := parent.ID
	child := document.New(document.Document{State: "chunk", ParentID: &childParentID})
	st.Add(ctx, []*document.Document{child})

	if err := st.Delete(ctx, grandparent.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if d, _ := st.Get(ctx, parent.ID, false); d != nil {
		t.Fatalf("expected parent to be deleted by cascade")
	}
	if d, _ := st.Get(ctx, child.ID, false); d != nil {
		t.Fatalf("expected child to be deleted by cascade")
	}
	if n, _ := st.Count(ctx, nil); n != 0 {
		t.Fatalf("expected empty store after cascade delete, got %d", n)
	}
}

func TestFinishIsIdempotentOnTerminalInput(t *testing.T) {
	st := memstore.New()
	g := buildPipelineGraph(t)
	e, err := NewWithStore(g, st, "error", 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	content := "ok"
	d := document.New(document.Document{State: "embed", Content: &content})
	st.Add(context.Background(), []*document.Document{d})

	first, err := e.Finish(context.Background(), []*document.Document{d})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := e.Finish(context.Background(), []*document.Document{d})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idSet(first) != idSet(second) {
		t.Fatalf("expected idempotent terminal id set, got %v vs %v", idSet(first), idSet(second))
	}
}

func TestRebindRejectedWhileBusy(t *testing.T) {
	st := memstore.New()
	g := buildPipelineGraph(t)
	e, err := NewWithStore(g, st, "error", 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e.mu.Lock()
	e.busy = true
	e.mu.Unlock()

	err = e.Rebind(g)
	if !core.IsCode(err, core.CodeBusy) {
		t.Fatalf("expected CodeBusy, got %v", err)
	}
}

func strPtr(s string) *string { return &s }

func idSet(docs []*document.Document) string {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}
