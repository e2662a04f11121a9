package pipeline

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/panics"

	"github.com/Agent-Zoey/Zoey-sub001/internal/obslog"
)

// WorkerPoolConfig governs the per-message worker pool's admission budget.
// The spec's "minimum 16 MiB thread stack" figure is a queue-depth / worker-
// count budget hint rather than a literal OS stack allocation — Go goroutine
// stacks grow dynamically from a few KB, so MinStackHintMB is recorded for
// capacity planning only and is not passed to the runtime.
type WorkerPoolConfig struct {
	MaxConcurrentWorkers int
	MinStackHintMB        int
}

// DefaultWorkerPoolConfig mirrors spec §5's defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{MaxConcurrentWorkers: 64, MinStackHintMB: 16}
}

// WorkerPool runs one isolated worker per admitted message. Panics inside a
// worker are caught via sourcegraph/conc's panics.Catcher and reported
// through the shared logger rather than crashing the pool or any other
// in-flight worker — the pack's own dependency graph already carries
// sourcegraph/conc (teacher: indirect; promoted here to a direct,
// exercised dependency), matching spec §7's "contained, reported,
// non-crashing" panic semantics more directly than hand-rolled recover().
type WorkerPool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

// NewWorkerPool constructs a pool admitting at most cfg.MaxConcurrentWorkers
// concurrent message workers.
func NewWorkerPool(cfg WorkerPoolConfig) *WorkerPool {
	max := cfg.MaxConcurrentWorkers
	if max <= 0 {
		max = 64
	}
	return &WorkerPool{sem: make(chan struct{}, max)}
}

// Submit blocks until a worker slot is free (or ctx is done), then runs fn
// in its own goroutine. fn's panics are caught and logged, never propagated.
func (p *WorkerPool) Submit(ctx context.Context, label string, fn func(ctx context.Context)) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()

		var catcher panics.Catcher
		catcher.Try(func() { fn(ctx) })
		if recovered := catcher.Recovered(); recovered != nil {
			obslog.With("pipeline").Error().Str("worker", label).
				Err(recovered.AsError()).Msg("message worker panicked; contained")
		}
	}()
	return nil
}

// Wait blocks until all submitted workers have returned.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
