// Package engine implements the Pipeline Driver (§4.6, the finish loop)
// and Lifecycle & Resources (§4.7): engine construction, connection-pool
// ownership, scoped shutdown, and the rebind-while-busy guard.
package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fluxorio/docpipe/pkg/core"
	"github.com/fluxorio/docpipe/pkg/document"
	"github.com/fluxorio/docpipe/pkg/executor"
	"github.com/fluxorio/docpipe/pkg/graph"
	"github.com/fluxorio/docpipe/pkg/scheduler"
	"github.com/fluxorio/docpipe/pkg/store"
	"github.com/fluxorio/docpipe/pkg/store/memstore"
	"github.com/fluxorio/docpipe/pkg/store/sqlstore"
)

// Engine owns a document type, a store, and the scheduler driving them. It
// is safe for concurrent use; Finish and Rebind serialize against each
// other through an internal lock (§4.7's "forbids rebinding while the
// driver is active").
type Engine struct {
	store          store.Store
	maxConcurrency int
	log            zerolog.Logger

	mu         sync.Mutex
	graph      *graph.Graph
	errorState string
	scheduler  *scheduler.Scheduler
	busy       bool
}

// New builds an Engine from cfg, opening (and owning) a backend connection
// pool described by cfg.ConnectionString, or an in-memory store if it is
// empty.
func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var st store.Store
	if cfg.ConnectionString == "" {
		st = memstore.New()
	} else {
		poolCfg, err := cfg.sqlPoolConfig()
		if err != nil {
			return nil, err
		}
		sqlSt, err := sqlstore.New(poolCfg)
		if err != nil {
			return nil, err
		}
		st = sqlSt
	}

	e := &Engine{
		store:          st,
		maxConcurrency: cfg.maxConcurrency(),
		log:            core.WithComponent("engine"),
		graph:          cfg.DocumentType,
		errorState:     cfg.errorState(),
	}
	e.scheduler = scheduler.New(executor.New(e.graph, e.store), e.maxConcurrency)

	if cfg.Echo {
		e.log.Debug().Str("connection", cfg.ConnectionString).Msg("echo enabled: query tracing requested")
	}
	return e, nil
}

// NewWithStore builds an Engine around an already-constructed store (e.g.
// memstore, or a pre-opened sqlstore shared with other callers); the
// Engine does not take ownership for Close purposes beyond calling
// st.Close() itself, same as New.
func NewWithStore(g *graph.Graph, st store.Store, errorState string, maxConcurrency int) (*Engine, error) {
	if g == nil {
		return nil, core.NewError(core.CodeInvalidInput, "document type cannot be nil")
	}
	if st == nil {
		return nil, core.NewError(core.CodeInvalidInput, "store cannot be nil")
	}
	if errorState == "" {
		errorState = "error"
	}
	if maxConcurrency < 1 {
		maxConcurrency = scheduler.DefaultMaxConcurrency
	}
	e := &Engine{
		store:          st,
		maxConcurrency: maxConcurrency,
		log:            core.WithComponent("engine"),
		graph:          g,
		errorState:     errorState,
	}
	e.scheduler = scheduler.New(executor.New(g, st), maxConcurrency)
	return e, nil
}

// Close releases the engine's resources (the store's connection pool).
func (e *Engine) Close() error {
	return e.store.Close()
}

// WithEngine builds an Engine from cfg, guarantees Close runs on every exit
// path from fn (including a panic unwinding through it), and passes the
// engine to fn. This is the scoped-acquisition protocol from §4.7: callers
// that don't need an Engine to outlive a single call should prefer this
// over New+Close.
func WithEngine(cfg Config, fn func(e *Engine) error) (err error) {
	e, buildErr := New(cfg)
	if buildErr != nil {
		return buildErr
	}
	defer func() {
		closeErr := e.Close()
		if err == nil {
			err = closeErr
		}
	}()
	return fn(e)
}

// Rebind replaces the bound document type, invalidating the derived caches
// held by the graph and rebuilding the scheduler's executor. It fails with
// CodeBusy if a Finish call is currently in flight.
func (e *Engine) Rebind(g *graph.Graph) error {
	if g == nil {
		return core.NewError(core.CodeInvalidInput, "document type cannot be nil")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return core.NewError(core.CodeBusy, "cannot rebind document type while finish is running")
	}
	e.graph = g
	e.scheduler = scheduler.New(executor.New(g, e.store), e.maxConcurrency)
	return nil
}

// Store returns the engine's backing document store, for callers that need
// direct read access (list, count) alongside Finish.
func (e *Engine) Store() store.Store { return e.store }

// Finish drives docs to a terminal fixed point (§4.6) and returns every
// document in the store whose state is terminal (a final state or the
// error state), including ones stored before this run.
func (e *Engine) Finish(ctx context.Context, docs []*document.Document) ([]*document.Document, error) {
	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return nil, core.NewError(core.CodeBusy, "a finish call is already in flight")
	}
	e.busy = true
	g, sch, st, errorState := e.graph, e.scheduler, e.store, e.errorState
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.busy = false
		e.mu.Unlock()
	}()

	terminal := g.FinalStates()
	terminal[errorState] = struct{}{}

	working, err := e.seed(ctx, st, docs)
	if err != nil {
		return nil, err
	}

	for {
		working = dropTerminal(working, terminal)
		if len(working) == 0 {
			break
		}
		if ctx.Err() != nil {
			break
		}

		produced, err := sch.Run(ctx, working)
		if err != nil {
			return nil, err
		}
		if len(produced) == 0 {
			break
		}
		working = produced
	}

	return e.gather(ctx, st, terminal)
}

// seed inserts any input document the store has no record of yet,
// assigning ids where absent, and returns the documents to begin the loop
// with.
func (e *Engine) seed(ctx context.Context, st store.Store, docs []*document.Document) ([]*document.Document, error) {
	working := make([]*document.Document, 0, len(docs))
	for _, d := range docs {
		if d == nil {
			continue
		}
		if d.ID != "" {
			existing, err := st.Get(ctx, d.ID, false)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				working = append(working, d)
				continue
			}
		}
		ids, err := st.Add(ctx, []*document.Document{d})
		if err != nil {
			return nil, err
		}
		d.ID = ids[0]
		working = append(working, d)
	}
	return working, nil
}

func dropTerminal(working []*document.Document, terminal map[string]struct{}) []*document.Document {
	next := working[:0]
	for _, d := range working {
		if _, ok := terminal[d.State]; ok {
			continue
		}
		next = append(next, d)
	}
	return next
}

// gather reads every document whose state is in terminal, one indexed
// query per terminal state, and concatenates the results.
func (e *Engine) gather(ctx context.Context, st store.Store, terminal map[string]struct{}) ([]*document.Document, error) {
	var (
		mu  sync.Mutex
		out []*document.Document
	)
	g, gctx := errgroup.WithContext(ctx)
	for state := range terminal {
		state := state
		g.Go(func() error {
			docs, err := st.List(gctx, state, store.ListOptions{IncludeContent: true})
			if err != nil {
				return err
			}
			mu.Lock()
			out = append(out, docs...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
