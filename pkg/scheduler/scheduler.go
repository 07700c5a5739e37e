// Package scheduler implements the Batch Scheduler (§4.5): it runs the
// Transition Executor over a batch of documents with a hard concurrency
// bound, isolating one document's failure from the rest of the batch.
//
// Bounded fan-out is grounded on the errgroup.WithContext + semaphore
// pattern used elsewhere in the example corpus for worker-pool-style
// concurrency, generalized here from a fixed worker count to a weighted
// semaphore sized at the configured max concurrency.
package scheduler

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/fluxorio/docpipe/pkg/core"
	"github.com/fluxorio/docpipe/pkg/document"
	"github.com/fluxorio/docpipe/pkg/executor"
)

// DefaultMaxConcurrency is used when an engine is not configured with one.
const DefaultMaxConcurrency = 10

// Scheduler runs an Executor over batches of documents with bounded
// concurrency. It is safe for concurrent use; Run may be called repeatedly
// (and is, once per Driver iteration).
type Scheduler struct {
	executor       *executor.Executor
	maxConcurrency int
}

// New builds a Scheduler driving ex, running at most maxConcurrency
// executors at a time. maxConcurrency below 1 is treated as
// DefaultMaxConcurrency.
func New(ex *executor.Executor, maxConcurrency int) *Scheduler {
	if maxConcurrency < 1 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &Scheduler{executor: ex, maxConcurrency: maxConcurrency}
}

// Run advances every document in docs by one transition, running at most
// s.maxConcurrency executors concurrently, and returns the flattened
// concatenation of their outputs in completion order. A nil entry in docs
// is logged and skipped, not fatal.
//
// Run only ever returns a non-nil error when persisting a synthesized
// error document itself fails (a PersistenceFailure the executor could not
// recover locally); every per-document processor/persistence failure is
// captured as a returned error document instead, isolated from the rest of
// the batch.
//
// On ctx cancellation, executors already running finish their current
// store transaction and their results are discarded; executors not yet
// started are never started.
func (s *Scheduler) Run(ctx context.Context, docs []*document.Document) ([]*document.Document, error) {
	sem := semaphore.NewWeighted(int64(s.maxConcurrency))
	log := core.WithComponent("scheduler")

	var (
		mu       sync.Mutex
		produced []*document.Document
		firstErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range docs {
		if d == nil {
			log.Warn().Msg("skipping nil document in batch")
			continue
		}
		doc := d

		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				// Context cancelled before a slot opened: this executor was
				// queued and is dropped without running.
				return nil
			}
			defer sem.Release(1)

			children, err := s.executor.Execute(gctx, doc)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return nil
			}
			if len(children) == 0 || gctx.Err() != nil {
				// Cancelled while this executor was in flight: its store
				// transaction has finished, and its results are discarded.
				return nil
			}

			mu.Lock()
			produced = append(produced, children...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // goroutines never return a non-nil error; see firstErr above

	return produced, firstErr
}
