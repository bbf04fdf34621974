package tasks

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"brain/internal/logging"
)

// dequeueWait bounds one blocking dequeue so workers notice shutdown.
const dequeueWait = 2 * time.Second

// Pool drains the queue with a fixed number of worker goroutines. Each
// worker is recycled after MaxTasksPerChild jobs, which resets its runner
// and the per-run caches the runner carries.
type Pool struct {
	env *Env
}

// NewPool creates a worker pool over the Env.
func NewPool(env *Env) *Pool {
	return &Pool{env: env}
}

// Run blocks until ctx is canceled. Worker panics surface as errors; a
// single worker's failure stops the pool so the supervisor can restart it.
func (p *Pool) Run(ctx context.Context) error {
	concurrency := p.env.Cfg.Worker.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	logging.Tasks("Run: starting %d workers", concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		id := i
		g.Go(func() error {
			return p.worker(ctx, id)
		})
	}
	g.Go(func() error {
		return p.housekeeping(ctx)
	})

	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		err = nil // normal shutdown
	}
	logging.Tasks("Run: pool stopped")
	return err
}

// worker is one dequeue-process-ack loop.
func (p *Pool) worker(ctx context.Context, id int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %d panicked: %v", id, r)
			logging.TasksError("worker %d: panic: %v", id, r)
		}
	}()

	maxTasks := p.env.Cfg.Worker.MaxTasksPerChild
	if maxTasks <= 0 {
		maxTasks = 50
	}

	runner := NewRunner(p.env)
	handled := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		task, err := p.env.Queue.Dequeue(ctx, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.TasksError("worker %d: dequeue: %v", id, err)
			continue
		}
		if task == nil {
			continue
		}

		// Process records success or failure on the status surface, so the
		// task is acked either way; only worker death returns it to the queue.
		runner.Process(ctx, task)
		if err := p.env.Queue.Ack(ctx, task); err != nil {
			logging.TasksError("worker %d: ack %s: %v", id, task.ID, err)
		}

		handled++
		if handled >= maxTasks {
			logging.TasksDebug("worker %d: recycling after %d tasks", id, handled)
			runner = NewRunner(p.env)
			handled = 0
		}
	}
}

// housekeeping periodically requeues stale processing-list entries and
// refreshes the queue-depth gauge.
func (p *Pool) housekeeping(ctx context.Context) error {
	requeueAfter := p.env.Cfg.Worker.RequeueAfterDuration()
	interval := requeueAfter / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := p.env.Queue.RequeueStale(ctx, requeueAfter); err != nil {
				logging.TasksError("housekeeping: requeue stale: %v", err)
			} else if n > 0 {
				logging.TasksWarn("housekeeping: %d stale tasks requeued", n)
			}
			if depth, err := p.env.Queue.Len(ctx); err == nil {
				p.env.Metrics.SetQueueLen(depth)
			}
		}
	}
}
