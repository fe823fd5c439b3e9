package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rustyeddy/stocktrader/internal/logger"
)

// Task is one unit of background persistence.
type Task func(ctx context.Context) error

// Persister runs persistence off the scheduling goroutine with at most
// one batch in flight. Submit never blocks: while the slot is busy new
// tasks wait in a backlog that the next Submit or Close picks up.
// Submit and Close must be called from one goroutine.
type Persister struct {
	slot    chan struct{}
	backlog []Task
	wg      sync.WaitGroup
	log     *slog.Logger
}

func NewPersister(log *slog.Logger) *Persister {
	return &Persister{slot: make(chan struct{}, 1), log: logger.Or(log)}
}

// Submit queues t. Tasks run with ctx detached from cancellation so a
// session shutdown does not drop writes.
func (p *Persister) Submit(ctx context.Context, t Task) {
	p.backlog = append(p.backlog, t)

	select {
	case p.slot <- struct{}{}:
	default:
		return
	}

	batch := p.backlog
	p.backlog = nil
	bctx := context.WithoutCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.slot }()
		p.run(bctx, batch)
	}()
}

// Close waits for the in-flight batch and then runs the backlog.
func (p *Persister) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("persister: %w", ctx.Err())
	}

	batch := p.backlog
	p.backlog = nil
	p.run(context.WithoutCancel(ctx), batch)
	return nil
}

func (p *Persister) run(ctx context.Context, batch []Task) {
	for _, t := range batch {
		if err := runTask(ctx, t); err != nil {
			p.log.Error("persist", "err", err)
		}
	}
}

func runTask(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t(ctx)
}
