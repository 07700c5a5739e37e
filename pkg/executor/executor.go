// Package executor implements the Transition Executor (§4.4): the
// per-document, single-step runtime that picks a document's next
// transition, runs its processor, persists the resulting children, and
// converts any failure into a structured error document rather than
// propagating it.
//
// The control flow here is grounded on the teacher's state-machine event
// processing (one event in, a guarded/actioned step, a terminal outcome
// that never panics back to the caller) generalized from a single
// in-memory FSM step to a store-transactional document transition.
package executor

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"time"

	"github.com/fluxorio/docpipe/pkg/core"
	"github.com/fluxorio/docpipe/pkg/document"
	"github.com/fluxorio/docpipe/pkg/graph"
	"github.com/fluxorio/docpipe/pkg/store"
)

// Executor runs one transition for one document against a bound Graph and
// Store. An Executor is safe for concurrent use; each Execute call opens
// its own store transaction.
type Executor struct {
	graph *graph.Graph
	store store.Store
	now   func() time.Time
}

// New builds an Executor bound to g and s.
func New(g *graph.Graph, s store.Store) *Executor {
	return &Executor{graph: g, store: s, now: time.Now}
}

// Execute advances doc by one transition. A nil, nil return means doc had
// no outgoing transition, or its processor produced zero children — both
// are successful no-ops per §9 — or ctx was cancelled, in which case the
// attempt is dropped without an error document. A non-nil error is only
// ever returned when
// persisting a synthesized error document itself fails (§7
// PersistenceFailure, surfaced); every other failure is captured as a
// returned error document instead of an error.
func (e *Executor) Execute(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
	log := core.WithDocument(doc.ID)

	if ctx.Err() != nil {
		log.Debug().Msg("context already cancelled, dropping without attempting transition")
		return nil, nil
	}

	transitions := e.graph.TransitionsFrom(doc.State)
	if len(transitions) == 0 {
		log.Debug().Str("state", doc.State).Msg("no outgoing transition, document is terminal-by-no-successor")
		return nil, nil
	}
	t := transitions[0]

	result, procErr := e.invoke(ctx, t, doc)
	if procErr != nil {
		if ctx.Err() != nil {
			log.Debug().Msg("processor failed after cancellation, dropping without error document")
			return nil, nil
		}
		return e.recordFailure(ctx, doc, t, procErr, core.CodeProcessorFailure)
	}

	children, err := normalize(result)
	if err != nil {
		return e.recordFailure(ctx, doc, t, err, core.CodeProcessorFailure)
	}
	if len(children) == 0 {
		log.Debug().Str("to_state", t.To).Msg("transition produced no children")
		return nil, nil
	}

	for _, c := range children {
		parentID := doc.ID
		c.ParentID = &parentID
	}

	var persisted []*document.Document
	txErr := e.store.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		ids, err := tx.Add(ctx, children)
		if err != nil {
			return err
		}
		for i, c := range children {
			c.ID = ids[i]
		}
		refreshed, err := tx.Get(ctx, doc.ID, false)
		if err != nil {
			return err
		}
		if refreshed != nil {
			doc.ChildIDs = refreshed.ChildIDs
		}
		persisted = children
		return nil
	})
	if txErr != nil {
		if ctx.Err() != nil {
			log.Debug().Msg("persist failed after cancellation, dropping without error document")
			return nil, nil
		}
		return e.recordFailure(ctx, doc, t, txErr, core.CodePersistenceFailure)
	}
	return persisted, nil
}

// invoke calls the processor, converting a panic into an error so a
// misbehaving processor cannot bring down the scheduler.
func (e *Executor) invoke(ctx context.Context, t graph.Transition, doc *document.Document) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panicked: %v", r)
		}
	}()
	return t.Processor(ctx, doc)
}

// normalize collapses the processor's tagged-variant return (§9) into a
// slice of children.
func normalize(result interface{}) ([]*document.Document, error) {
	switch v := result.(type) {
	case nil:
		return nil, nil
	case *document.Document:
		if v == nil {
			return nil, nil
		}
		return []*document.Document{v}, nil
	case []*document.Document:
		return v, nil
	default:
		return nil, fmt.Errorf("processor returned unsupported type %T", result)
	}
}

// recordFailure synthesizes and persists an error document per §4.4, in a
// new transaction independent of the failed attempt. If that write itself
// fails, the failure is surfaced rather than recovered again.
func (e *Executor) recordFailure(ctx context.Context, doc *document.Document, t graph.Transition, cause error, errorType core.Code) ([]*document.Document, error) {
	message := cause.Error()
	parentID := doc.ID

	errDoc := &document.Document{
		State:     e.graph.ErrorState(),
		MediaType: "application/json",
		Content:   &message,
		ParentID:  &parentID,
		Metadata: map[string]interface{}{
			document.MetaError:             message,
			document.MetaErrorType:         string(errorType),
			document.MetaTransitionFrom:    doc.State,
			document.MetaTransitionTo:      t.To,
			document.MetaOriginalMediaType: doc.MediaType,
			document.MetaTimestamp:         e.now().UTC().Format(time.RFC3339),
			document.MetaProcessFunction:   processorName(t.Processor),
		},
	}

	log := core.WithDocument(doc.ID)
	log.Warn().Err(cause).Str("to_state", t.To).Str("error_type", string(errorType)).
		Msg("transition failed, recording error document")

	err := e.store.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		ids, err := tx.Add(ctx, []*document.Document{errDoc})
		if err != nil {
			return err
		}
		errDoc.ID = ids[0]
		return nil
	})
	if err != nil {
		return nil, core.Wrap(core.CodePersistenceFailure, "failed to persist error document", err)
	}
	return []*document.Document{errDoc}, nil
}

// processorName recovers a processor's function name for the
// process_function reserved metadata key.
func processorName(p graph.Processor) string {
	pc := reflect.ValueOf(p).Pointer()
	if fn := runtime.FuncForPC(pc); fn != nil {
		return fn.Name()
	}
	return "unknown"
}
