// Package worker runs independent provider pipelines concurrently and keeps
// scraping polite with per-host rate limits.
package worker

import (
	"context"
	"fmt"
	"sync"
)

// Job represents a unit of work to be executed
type Job interface {
	Execute(ctx context.Context) Result
}

// Result represents the result of a job execution
type Result interface {
	GetError() error
}

// PanicResult is returned in place of a job that panicked
type PanicResult struct {
	Value interface{}
}

// GetError reports the recovered panic as an error
func (r *PanicResult) GetError() error {
	return fmt.Errorf("job panicked: %v", r.Value)
}

type indexedJob struct {
	seq int
	job Job
}

type indexedResult struct {
	seq    int
	result Result
}

// Pool executes jobs on a fixed number of goroutines.
// Submit and Wait must be called from the same goroutine.
type Pool struct {
	workers       int
	jobQueue      chan indexedJob
	results       chan indexedResult
	submitted     int
	collected     []indexedResult
	collectorDone chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancelFunc    context.CancelFunc
	closeOnce     sync.Once
}

// NewPool creates a new worker pool bound to parent
func NewPool(parent context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	return &Pool{
		workers:       workers,
		jobQueue:      make(chan indexedJob, workers*2),
		results:       make(chan indexedResult, workers*2),
		collectorDone: make(chan struct{}),
		ctx:           ctx,
		cancelFunc:    cancel,
	}
}

// Start starts the worker goroutines and the result collector
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	go p.collect()
}

// collect drains results so workers never block on a full channel
func (p *Pool) collect() {
	defer close(p.collectorDone)
	for r := range p.results {
		p.collected = append(p.collected, r)
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			res := indexedResult{seq: job.seq, result: p.execute(job.job)}
			select {
			case p.results <- res:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

func (p *Pool) execute(job Job) (result Result) {
	defer func() {
		if v := recover(); v != nil {
			result = &PanicResult{Value: v}
		}
	}()
	return job.Execute(p.ctx)
}

// Submit queues a job. It returns false when the pool has been shut down.
func (p *Pool) Submit(job Job) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	case p.jobQueue <- indexedJob{seq: p.submitted, job: job}:
		p.submitted++
		return true
	}
}

// Wait closes the queue, waits for the workers and returns results in
// submission order. Jobs that never ran because of cancellation leave nil entries.
func (p *Pool) Wait() []Result {
	close(p.jobQueue)
	p.wg.Wait()
	p.closeResults()
	<-p.collectorDone

	results := make([]Result, p.submitted)
	for _, r := range p.collected {
		results[r.seq] = r.result
	}
	p.cancelFunc()
	return results
}

// Shutdown cancels running jobs and stops the workers. Call it only after Start.
func (p *Pool) Shutdown() {
	p.cancelFunc()
	p.wg.Wait()
	p.closeResults()
	<-p.collectorDone
}

func (p *Pool) closeResults() {
	p.closeOnce.Do(func() {
		close(p.results)
	})
}
