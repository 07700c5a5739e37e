package graph

// Builder provides a fluent API for assembling a document type.
//
// Example:
//
//	g, err := graph.NewBuilder().
//		State("link").
//			To("download", downloadProcessor).
//			Done().
//		State("download").
//			Done().
//		ErrorState("error").
//		Build()
type Builder struct {
	states      []State
	transitions []Transition
	errorState  string
	err         error
}

// stateBuilder accumulates transitions for one state.
type stateBuilder struct {
	parent *Builder
	name   string
}

// NewBuilder starts an empty document-type builder.
func NewBuilder() *Builder {
	return &Builder{errorState: "error"}
}

// State registers a state (if not already present) and returns a builder
// scoped to it for adding outgoing transitions.
func (b *Builder) State(name string) *stateBuilder {
	for _, s := range b.states {
		if s.Name == name {
			return &stateBuilder{parent: b, name: name}
		}
	}
	b.states = append(b.states, State{Name: name})
	return &stateBuilder{parent: b, name: name}
}

// ErrorState overrides the default ("error") error-state name.
func (b *Builder) ErrorState(name string) *Builder {
	b.errorState = name
	return b
}

// Build validates the accumulated states and transitions and returns the
// resulting Graph.
func (b *Builder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	return New(b.states, b.transitions, b.errorState)
}

// To registers a transition from this state to target, driven by p. Calling
// To more than once on the same stateBuilder registers additional
// transitions from the same state; the first one registered is the one the
// executor selects (see Graph.TransitionsFrom).
func (sb *stateBuilder) To(target string, p Processor) *stateBuilder {
	sb.parent.transitions = append(sb.parent.transitions, Transition{
		From:      sb.name,
		To:        target,
		Processor: p,
	})
	return sb
}

// Done returns to the parent Builder to register further states.
func (sb *stateBuilder) Done() *Builder {
	return sb.parent
}
