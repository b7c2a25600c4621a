package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/oshokin/alarm-sink/internal/domain/alarm"
	"github.com/oshokin/alarm-sink/internal/logger"
)

// Handler processes one alarm event. Engine implements it.
type Handler interface {
	Handle(ctx context.Context, event *domain.Event) (*Result, error)
}

// ErrPoolClosed is returned by Enqueue and Submit after Close.
var ErrPoolClosed = errors.New("worker pool is closed")

const (
	// DefaultWorkers is the worker count used when none is configured.
	DefaultWorkers = 8
	// defaultQueueSize bounds the backlog of each worker.
	defaultQueueSize = 64
)

// Pool routes events to a fixed set of workers. All events for one key go to
// the same worker, so they are handled in submission order.
type Pool struct {
	handler Handler
	queues  []chan *task
	// retryInterval is the pause before an event failed by the store is handled again; zero disables retries.
	retryInterval time.Duration

	// mu guards closed against concurrent Enqueue and Close.
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type task struct {
	ctx   context.Context //nolint:containedctx // Carried to the worker with the event.
	event *domain.Event
	done  chan taskResult
}

type taskResult struct {
	result *Result
	err    error
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithRetry makes workers handle an event again after interval while the
// store is unavailable. The worker keeps the event, so later events of the
// same key wait behind it. Retries stop when the pool context or the
// submitter's context ends.
func WithRetry(interval time.Duration) PoolOption {
	return func(p *Pool) {
		if interval > 0 {
			p.retryInterval = interval
		}
	}
}

// NewPool starts the workers.
func NewPool(ctx context.Context, handler Handler, workers int, opts ...PoolOption) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	p := &Pool{
		handler: handler,
		queues:  make([]chan *task, workers),
	}

	for _, opt := range opts {
		opt(p)
	}

	for i := range p.queues {
		p.queues[i] = make(chan *task, defaultQueueSize)

		p.wg.Add(1)

		go p.work(logger.WithKV(ctx, "worker", i), p.queues[i])
	}

	return p
}

// Pending is an event accepted by the pool.
type Pending struct {
	done chan taskResult
}

// Wait blocks until the event is handled or ctx ends. If ctx ends first,
// Wait returns ctx.Err(); the event is still processed to completion.
func (p *Pending) Wait(ctx context.Context) (*Result, error) {
	select {
	case r := <-p.done:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Enqueue hands the event to its worker without waiting for the result.
// Events of one key enqueued one after another are handled in that order.
func (p *Pool) Enqueue(ctx context.Context, event *domain.Event) (*Pending, error) {
	key, err := domain.ResolveKey(event)
	if err != nil {
		return nil, err
	}

	t := &task{
		ctx:   ctx,
		event: event,
		done:  make(chan taskResult, 1),
	}

	if err = p.enqueue(ctx, hashKey(key)%uint64(len(p.queues)), t); err != nil {
		return nil, err
	}

	return &Pending{done: t.done}, nil
}

// Submit hands the event to its worker and waits for the result.
func (p *Pool) Submit(ctx context.Context, event *domain.Event) (*Result, error) {
	pending, err := p.Enqueue(ctx, event)
	if err != nil {
		return nil, err
	}

	return pending.Wait(ctx)
}

func (p *Pool) enqueue(ctx context.Context, idx uint64, t *task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queues[idx] <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events, drains the queues and waits for the workers.
func (p *Pool) Close() {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return
	}

	p.closed = true

	for _, q := range p.queues {
		close(q)
	}

	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) work(ctx context.Context, queue <-chan *task) {
	defer p.wg.Done()

	logger.Debug(ctx, "Worker started")

	for t := range queue {
		result, err := p.handle(ctx, t)
		t.done <- taskResult{result: result, err: err}
	}

	logger.Debug(ctx, "Worker stopped")
}

func (p *Pool) handle(ctx context.Context, t *task) (*Result, error) {
	// Events are never cancelled half-way.
	eventCtx := context.WithoutCancel(t.ctx)

	for {
		result, err := p.handler.Handle(eventCtx, t.event)
		if p.retryInterval == 0 || !errors.Is(err, ErrStoreUnavailable) {
			return result, err
		}

		logger.WarnKV(ctx, "Store unavailable, retrying event", "error", err)

		timer := time.NewTimer(p.retryInterval)

		select {
		case <-ctx.Done():
			timer.Stop()

			return nil, err
		case <-t.ctx.Done():
			timer.Stop()

			return nil, err
		case <-timer.C:
		}
	}
}
