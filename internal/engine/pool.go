package engine

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// PoolMetrics tracks worker pool operational metrics.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// Task is one unit of pooled work. Label identifies it in logs.
type Task struct {
	Label string
	Run   func(ctx context.Context) error
}

// WorkerPool is a bounded goroutine pool shared by event intake and the
// escalation sweep. Runs for different submissions execute concurrently up
// to the pool size.
type WorkerPool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	metrics PoolMetrics
	logger  *slog.Logger
	mu      sync.Mutex
	done    chan struct{}
	closed  bool
}

// PoolOption configures a WorkerPool.
type PoolOption func(*WorkerPool)

// WithPoolLogger sets the logger used for task failures and panics.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *WorkerPool) { p.logger = l }
}

// NewWorkerPool creates a pool with the given max concurrency.
func NewWorkerPool(size int, opts ...PoolOption) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	p := &WorkerPool{
		sem:    make(chan struct{}, size),
		done:   make(chan struct{}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit enqueues a task. It blocks while the pool is at capacity and
// respects context cancellation while waiting. Returns ErrPoolShutdown if
// the pool has been shut down.
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	return p.submit(ctx, task, nil)
}

func (p *WorkerPool) submit(ctx context.Context, task Task, onDone func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// wg.Add must happen under the lock so Shutdown's Wait cannot miss it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.metrics.Active, 1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.metrics.Panics, 1)
				atomic.AddInt64(&p.metrics.Failed, 1)
				p.logger.ErrorContext(ctx, "pooled task panicked",
					slog.String("task", task.Label),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
			}
			atomic.AddInt64(&p.metrics.Active, -1)
			<-p.sem
			if onDone != nil {
				onDone()
			}
			p.wg.Done()
		}()

		if err := task.Run(ctx); err != nil {
			atomic.AddInt64(&p.metrics.Failed, 1)
			p.logger.WarnContext(ctx, "pooled task failed",
				slog.String("task", task.Label),
				slog.String("error", err.Error()),
			)
			return
		}
		atomic.AddInt64(&p.metrics.Completed, 1)
	}()

	return nil
}

// Wait blocks until all submitted work completes.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Shutdown prevents new submissions and waits for active work to complete.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the current pool metrics.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    atomic.LoadInt64(&p.metrics.Active),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Failed:    atomic.LoadInt64(&p.metrics.Failed),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
	}
}

// Group returns a batch handle whose Wait only covers tasks submitted
// through it, so one caller can wait for its own batch on a shared pool.
func (p *WorkerPool) Group() *Group {
	return &Group{pool: p}
}

// Group is a batch of tasks on a WorkerPool.
type Group struct {
	pool *WorkerPool
	wg   sync.WaitGroup
}

// Submit enqueues a task as part of the group.
func (g *Group) Submit(ctx context.Context, task Task) error {
	g.wg.Add(1)
	if err := g.pool.submit(ctx, task, g.wg.Done); err != nil {
		g.wg.Done()
		return err
	}
	return nil
}

// Wait blocks until every task submitted through the group has finished.
func (g *Group) Wait() {
	g.wg.Wait()
}
