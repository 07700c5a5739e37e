// Package graph defines the document type: the immutable set of states and
// transitions a pipeline advances documents through.
//
// A Graph is built once (via Builder or New), validated, and from then
// on is safe to share across goroutines — TransitionsFrom and FinalStates
// never mutate it.
package graph

import (
	"context"
	"fmt"

	"github.com/fluxorio/docpipe/pkg/core"
	"github.com/fluxorio/docpipe/pkg/document"
)

// Processor transforms one document into zero or more successor documents.
// It must not write to the store and must not mutate doc; the engine owns
// persistence and lineage linking.
//
// The return value is the tagged variant described in §9 of the engine
// contract: either a single *document.Document or a []*document.Document
// (fan-out). The executor normalizes both shapes into a slice before
// persisting; any other return type is a ProcessorFailure.
type Processor func(ctx context.Context, doc *document.Document) (interface{}, error)

// Transition is a single labeled edge: From -> To, driven by Processor.
type Transition struct {
	From      string
	To        string
	Processor Processor
}

// State is a node in the graph, identified by Name.
type State struct {
	Name string
}

// Graph is an immutable, validated document type: a set of states plus the
// transitions between them.
type Graph struct {
	states      map[string]State
	transitions map[string][]Transition // keyed by From, in registration order
	errorState  string
	finalStates map[string]struct{}
}

// New builds and validates a Graph from states and transitions. It fails
// with a CodeGraphInvalid *core.Error if any transition references a state
// not present in states, or if a transition has a nil Processor.
//
// errorState names the engine's configured error state; it is folded into
// the final-state set even when it has no explicit State entry, since the
// executor always treats it as terminal.
func New(states []State, transitions []Transition, errorState string) (*Graph, error) {
	g := &Graph{
		states:      make(map[string]State, len(states)),
		transitions: make(map[string][]Transition),
		errorState:  errorState,
	}

	for _, s := range states {
		if s.Name == "" {
			return nil, core.NewError(core.CodeGraphInvalid, "state name cannot be empty")
		}
		g.states[s.Name] = s
	}

	for _, t := range transitions {
		if _, ok := g.states[t.From]; !ok {
			return nil, core.NewError(core.CodeGraphInvalid,
				fmt.Sprintf("transition from-state %q not found in states", t.From))
		}
		if _, ok := g.states[t.To]; !ok {
			return nil, core.NewError(core.CodeGraphInvalid,
				fmt.Sprintf("transition to-state %q not found in states", t.To))
		}
		if t.Processor == nil {
			return nil, core.NewError(core.CodeGraphInvalid,
				fmt.Sprintf("transition %s -> %s has no processor", t.From, t.To))
		}
		g.transitions[t.From] = append(g.transitions[t.From], t)
	}

	g.finalStates = computeFinalStates(g.states, g.transitions, errorState)
	return g, nil
}

func computeFinalStates(states map[string]State, transitions map[string][]Transition, errorState string) map[string]struct{} {
	final := make(map[string]struct{}, len(states))
	for name := range states {
		if len(transitions[name]) == 0 {
			final[name] = struct{}{}
		}
	}
	if errorState != "" {
		final[errorState] = struct{}{}
	}
	return final
}

// TransitionsFrom returns the transitions registered from state, in
// registration order. The first entry is the one the executor selects.
func (g *Graph) TransitionsFrom(state string) []Transition {
	ts := g.transitions[state]
	out := make([]Transition, len(ts))
	copy(out, ts)
	return out
}

// FinalStates returns the set of state names with no outgoing transition,
// union the configured error state.
func (g *Graph) FinalStates() map[string]struct{} {
	out := make(map[string]struct{}, len(g.finalStates))
	for k := range g.finalStates {
		out[k] = struct{}{}
	}
	return out
}

// IsFinal reports whether state is in the terminal set.
func (g *Graph) IsFinal(state string) bool {
	_, ok := g.finalStates[state]
	return ok
}

// ErrorState returns the configured error-state name.
func (g *Graph) ErrorState() string {
	return g.errorState
}

// HasState reports whether name is a registered state.
func (g *Graph) HasState(name string) bool {
	_, ok := g.states[name]
	return ok
}
