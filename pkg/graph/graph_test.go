package graph

import (
	"context"
	"testing"

	"github.com/fluxorio/docpipe/pkg/core"
	"github.com/fluxorio/docpipe/pkg/document"
)

func noop(ctx context.Context, d *document.Document) (interface{}, error) { return nil, nil }

func TestNewValidatesStates(t *testing.T) {
	_, err := New(
		[]State{{Name: "link"}},
		[]Transition{{From: "link", To: "download", Processor: noop}},
		"error",
	)
	if !core.IsCode(err, core.CodeGraphInvalid) {
		t.Fatalf("expected GraphInvalid, got %v", err)
	}
}

func TestNewRejectsNilProcessor(t *testing.T) {
	_, err := New(
		[]State{{Name: "link"}, {Name: "download"}},
		[]Transition{{From: "link", To: "download"}},
		"error",
	)
	if !core.IsCode(err, core.CodeGraphInvalid) {
		t.Fatalf("expected GraphInvalid, got %v", err)
	}
}

func TestFinalStatesIncludesErrorState(t *testing.T) {
	g, err := New(
		[]State{{Name: "link"}, {Name: "download"}},
		[]Transition{{From: "link", To: "download", Processor: noop}},
		"error",
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	final := g.FinalStates()
	if _, ok := final["download"]; !ok {
		t.Errorf("expected download (no outgoing transition) to be final")
	}
	if _, ok := final["error"]; !ok {
		t.Errorf("expected configured error state to be final even though unlisted")
	}
	if _, ok := final["link"]; ok {
		t.Errorf("link has an outgoing transition and should not be final")
	}
	if !g.IsFinal("error") {
		t.Errorf("IsFinal(error) should be true")
	}
}

func TestTransitionsFromPreservesRegistrationOrder(t *testing.T) {
	b := NewBuilder()
	b.State("link").To("a", noop).To("b", noop).Done()
	b.State("a").Done()
	b.State("b").Done()
	g, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ts := g.TransitionsFrom("link")
	if len(ts) != 2 || ts[0].To != "a" || ts[1].To != "b" {
		t.Fatalf("expected [a, b] in registration order, got %+v", ts)
	}
}

func TestBuilderRoundTrip(t *testing.T) {
	g, err := NewBuilder().
		State("link").To("download", noop).Done().
		State("download").Done().
		ErrorState("error").
		Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !g.HasState("link") || !g.HasState("download") {
		t.Fatalf("expected both states registered")
	}
	if len(g.TransitionsFrom("download")) != 0 {
		t.Fatalf("download should have no outgoing transitions")
	}
}
