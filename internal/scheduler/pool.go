// Package scheduler owns run triggering: the periodic ticker, the change
// notification stream with its debounce filter, and the worker pool runs
// execute on.
package scheduler

import (
	"sync"

	"go.uber.org/zap"

	"github.com/pharmasentinel/orchestrator/internal/metrics"
)

// Pool executes jobs on a fixed number of workers over an unbounded FIFO
// queue. Submit never blocks and never drops; backpressure is visible
// through the queue-depth gauge instead.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	stopped bool

	workers int
	wg      sync.WaitGroup
	logger  *zap.Logger
}

// NewPool starts a pool with the given number of workers.
func NewPool(workers int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{workers: workers, logger: logger}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Info("Worker pool started", zap.Int("workers", workers))
	return p
}

// Submit queues a job. Returns false only after Stop.
func (p *Pool) Submit(job func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	p.queue = append(p.queue, job)
	metrics.RunQueueDepth.Set(float64(len(p.queue)))
	p.cond.Signal()
	return true
}

// Stop rejects new jobs, drains the queue and waits for in-flight jobs.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

// QueueDepth reports jobs waiting for a worker.
func (p *Pool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopped {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			// stopped and drained
			p.mu.Unlock()
			return
		}
		job := p.queue[0]
		p.queue = p.queue[1:]
		metrics.RunQueueDepth.Set(float64(len(p.queue)))
		p.mu.Unlock()

		job()
	}
}
