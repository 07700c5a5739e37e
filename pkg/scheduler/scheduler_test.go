package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fluxorio/docpipe/pkg/document"
	"github.com/fluxorio/docpipe/pkg/executor"
	"github.com/fluxorio/docpipe/pkg/graph"
	"github.com/fluxorio/docpipe/pkg/store/memstore"
)

// Scenario E (spec §8): bounded concurrency. With max_concurrency=2 and 10
// inputs, at most 2 processors are ever concurrently active.
func TestRunBoundsConcurrency(t *testing.T) {
	const (
		maxConcurrency = 2
		batchSize      = 10
	)
	var (
		active   int32
		maxSeen  int32
		mu       sync.Mutex
	)
	recordMax := func() {
		mu.Lock()
		if n := atomic.LoadInt32(&active); n > maxSeen {
			maxSeen = n
		}
		mu.Unlock()
	}

	st := memstore.New()
	g, err := graph.NewBuilder().
		State("in").To("out", func(ctx context.Context, d *document.Document) (interface{}, error) {
			atomic.AddInt32(&active, 1)
			recordMax()
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			return document.New(document.Document{State: "out"}), nil
		}).Done().
		State("out").Done().
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var docs []*document.Document
	for i := 0; i < batchSize; i++ {
		d := document.New(document.Document{State: "in"})
		st.Add(context.Background(), []*document.Document{d})
		docs = append(docs, d)
	}

	sch := New(executor.New(g, st), maxConcurrency)
	produced, err := sch.Run(context.Background(), docs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(produced) != batchSize {
		t.Fatalf("expected %d produced documents, got %d", batchSize, len(produced))
	}
	if maxSeen > maxConcurrency {
		t.Fatalf("observed %d concurrent executors, want <= %d", maxSeen, maxConcurrency)
	}
}

func TestRunSkipsNilDocuments(t *testing.T) {
	st := memstore.New()
	g, err := graph.NewBuilder().State("in").Done().Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sch := New(executor.New(g, st), 4)
	produced, err := sch.Run(context.Background(), []*document.Document{nil, nil})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(produced) != 0 {
		t.Fatalf("expected no produced documents, got %d", len(produced))
	}
}

func TestRunIsolatesPerDocumentFailure(t *testing.T) {
	st := memstore.New()
	g, err := graph.NewBuilder().
		State("in").To("out", func(ctx context.Context, d *document.Document) (interface{}, error) {
			if *d.Content == "fail" {
				panic("boom")
			}
			return document.New(document.Document{State: "out"}), nil
		}).Done().
		State("out").Done().
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var docs []*document.Document
	for _, c := range []string{"ok", "fail", "ok"} {
		content := c
		d := document.New(document.Document{State: "in", Content: &content})
		st.Add(context.Background(), []*document.Document{d})
		docs = append(docs, d)
	}

	sch := New(executor.New(g, st), 3)
	produced, err := sch.Run(context.Background(), docs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(produced) != 3 {
		t.Fatalf("expected 3 results (2 out + 1 error), got %d", len(produced))
	}
	var outCount, errCount int
	for _, d := range produced {
		switch d.State {
		case "out":
			outCount++
		case "error":
			errCount++
		}
	}
	if outCount != 2 || errCount != 1 {
		t.Fatalf("expected 2 out + 1 error, got %d out + %d error", outCount, errCount)
	}
}
