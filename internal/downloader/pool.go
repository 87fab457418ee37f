package downloader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pixivsync/pkg/logger"
)

// Job is a single unit of work. Key identifies it in logs and results.
type Job[R any] struct {
	Key string
	Run func(ctx context.Context) (R, error)
}

// Result represents the result of a job
type Result[R any] struct {
	Job      Job[R]
	Value    R
	Err      error
	Duration time.Duration
}

// WorkerPool runs jobs on a fixed number of workers
type WorkerPool[R any] struct {
	numWorkers  int
	jobQueue    chan Job[R]
	resultQueue chan Result[R]
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	logger      logger.Logger
}

// NewWorkerPool creates a pool whose workers stop when ctx is cancelled.
// numWorkers below 1 is treated as 1.
func NewWorkerPool[R any](ctx context.Context, numWorkers int, log logger.Logger) *WorkerPool[R] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	ctx, cancel := context.WithCancel(ctx)

	return &WorkerPool[R]{
		numWorkers:  numWorkers,
		jobQueue:    make(chan Job[R], numWorkers*2), // Buffer size = 2x workers
		resultQueue: make(chan Result[R], numWorkers),
		ctx:         ctx,
		cancel:      cancel,
		logger:      log,
	}
}

// Start initializes and starts all workers
func (wp *WorkerPool[R]) Start() {
	wp.logger.DebugWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop waits for queued jobs to finish and closes the result channel. The
// results must be drained concurrently or Stop blocks.
func (wp *WorkerPool[R]) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()

	wp.logger.Debug("Worker pool stopped")
}

// Submit adds a job to the queue, blocking while it is full.
func (wp *WorkerPool[R]) Submit(job Job[R]) error {
	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down: %w", wp.ctx.Err())
	}
}

// Results returns the result channel for consuming job results
func (wp *WorkerPool[R]) Results() <-chan Result[R] {
	return wp.resultQueue
}

// worker is the main worker routine
func (wp *WorkerPool[R]) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		select {
		case <-wp.ctx.Done():
			wp.logger.DebugWithFields("Worker stopping - context cancelled", map[string]interface{}{
				"worker_id": id,
			})
			return
		default:
		}

		result := wp.processJob(job, id)

		select {
		case wp.resultQueue <- result:
		case <-wp.ctx.Done():
			return
		}
	}
}

// processJob runs one job. A panic is turned into the job's error so that
// one bad item cannot take down the pool.
func (wp *WorkerPool[R]) processJob(job Job[R], workerID int) (result Result[R]) {
	start := time.Now()
	result.Job = job

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("job %s panicked: %v", job.Key, r)
			wp.logger.ErrorWithFields("Worker recovered from panic", map[string]interface{}{
				"worker_id": workerID,
				"job":       job.Key,
				"panic":     fmt.Sprint(r),
			})
		}
		result.Duration = time.Since(start)
	}()

	result.Value, result.Err = job.Run(wp.ctx)
	return result
}

// GetActiveWorkers returns the number of workers
func (wp *WorkerPool[R]) GetActiveWorkers() int {
	return wp.numWorkers
}
