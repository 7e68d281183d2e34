// Package writeback persists labeled output off the matching goroutine: a fixed set of workers
// drains one bounded FIFO of write tasks.
package writeback

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"go.uber.org/atomic"

	"go.viam.com/simlabel/logging"
)

// Pool defaults.
const (
	DefaultWorkers  = 4
	DefaultMaxTasks = 256
)

// ErrPoolClosed is returned when a task is enqueued after Close.
var ErrPoolClosed = errors.New("write-back pool closed")

// Task is one unit of work. The context is only cancelled once the pool has drained.
type Task func(ctx context.Context) error

// Config sizes the pool. A zero PollInterval makes Enqueue block on a full queue; a positive one
// makes it retry at that interval, measured on Clock.
type Config struct {
	Workers      int
	MaxTasks     int
	PollInterval time.Duration
	Clock        clock.Clock
}

// Future is the pending result of a task.
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// completedFuture returns a future that already succeeded.
func completedFuture() *Future {
	f := newFuture()
	close(f.done)
	return f
}

func (f *Future) complete(err error) {
	f.err = err
	close(f.done)
}

// Done is closed once the task has run.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task has run and returns its error.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type job struct {
	task   Task
	future *Future
}

// PoolStats are the pool's running counters.
type PoolStats struct {
	Queued    int
	Completed uint64
	Failed    uint64
}

// Pool runs tasks in FIFO order on a fixed number of workers.
type Pool struct {
	cfg    Config
	logger logging.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan *job

	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup

	completed atomic.Uint64
	failed    atomic.Uint64
}

// NewPool starts the workers.
func NewPool(cfg Config, logger logging.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxTasks <= 0 {
		cfg.MaxTasks = DefaultMaxTasks
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:    cfg,
		logger: logger,
		jobs:   make(chan *job, cfg.MaxTasks),
		ctx:    ctx,
		cancel: cancel,
	}
	p.workers.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		goutils.PanicCapturingGo(func() {
			defer p.workers.Done()
			p.work()
		})
	}
	return p
}

func (p *Pool) work() {
	for j := range p.jobs {
		err := j.task(p.ctx)
		if err != nil {
			p.failed.Inc()
			p.logger.Warnw("write-back task failed", "error", err)
		} else {
			p.completed.Inc()
		}
		j.future.complete(err)
	}
}

// Enqueue adds a task. It waits for room in the queue, either blocking or polling, until ctx is
// done. After Close it fails with ErrPoolClosed.
func (p *Pool) Enqueue(ctx context.Context, task Task) (*Future, error) {
	j := &job{task: task, future: newFuture()}
	if p.cfg.PollInterval <= 0 {
		if err := p.send(ctx, j); err != nil {
			return nil, err
		}
		return j.future, nil
	}
	for {
		sent, err := p.trySend(j)
		if err != nil {
			return nil, err
		}
		if sent {
			return j.future, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.cfg.Clock.After(p.cfg.PollInterval):
		}
	}
}

func (p *Pool) send(ctx context.Context, j *job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) trySend(j *job) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false, ErrPoolClosed
	}
	select {
	case p.jobs <- j:
		return true, nil
	default:
		return false, nil
	}
}

// Stats returns the current counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{Queued: len(p.jobs), Completed: p.completed.Load(), Failed: p.failed.Load()}
}

// Close rejects new tasks, runs every queued task and waits for the workers to exit. Calling it
// more than once is safe.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.workers.Wait()
	p.cancel()
}
