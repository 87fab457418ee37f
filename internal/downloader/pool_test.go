package downloader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pixivsync/pkg/logger"
)

func collect[R any](pool *WorkerPool[R]) (*[]Result[R], *sync.WaitGroup) {
	var results []Result[R]
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for result := range pool.Results() {
			results = append(results, result)
		}
	}()
	return &results, &wg
}

func TestWorkerPoolBasicFunctionality(t *testing.T) {
	var runs int32
	pool := NewWorkerPool[string](context.Background(), 3, logger.NewTestLogger())
	pool.Start()
	results, wg := collect(pool)

	numJobs := 10
	for i := 0; i < numJobs; i++ {
		key := fmt.Sprintf("illust-%d", i)
		err := pool.Submit(Job[string]{
			Key: key,
			Run: func(ctx context.Context) (string, error) {
				atomic.AddInt32(&runs, 1)
				time.Sleep(5 * time.Millisecond)
				return "committed:" + key, nil
			},
		})
		if err != nil {
			t.Errorf("Failed to submit job %d: %v", i, err)
		}
	}

	pool.Stop()
	wg.Wait()

	if len(*results) != numJobs {
		t.Fatalf("Expected %d results, got %d", numJobs, len(*results))
	}
	for _, result := range *results {
		if result.Err != nil {
			t.Errorf("Unexpected error for %s: %v", result.Job.Key, result.Err)
		}
		if result.Value != "committed:"+result.Job.Key {
			t.Errorf("Result value %q does not belong to job %s", result.Value, result.Job.Key)
		}
	}
	if atomic.LoadInt32(&runs) != int32(numJobs) {
		t.Errorf("Expected %d runs, got %d", numJobs, runs)
	}
}

func TestWorkerPoolWithErrors(t *testing.T) {
	pool := NewWorkerPool[int](context.Background(), 2, logger.NewTestLogger())
	pool.Start()
	results, wg := collect(pool)

	for i := 0; i < 3; i++ {
		i := i
		pool.Submit(Job[int]{
			Key: fmt.Sprintf("job-%d", i),
			Run: func(ctx context.Context) (int, error) {
				if i == 1 {
					return 0, fmt.Errorf("download error")
				}
				return i, nil
			},
		})
	}

	pool.Stop()
	wg.Wait()

	if len(*results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(*results))
	}
	failed := 0
	for _, result := range *results {
		if result.Err != nil {
			failed++
			if result.Job.Key != "job-1" {
				t.Errorf("Unexpected failure for %s", result.Job.Key)
			}
		}
	}
	if failed != 1 {
		t.Errorf("Expected exactly one failure, got %d", failed)
	}
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	pool := NewWorkerPool[int](context.Background(), 1, logger.NewTestLogger())
	pool.Start()
	results, wg := collect(pool)

	pool.Submit(Job[int]{Key: "bad", Run: func(ctx context.Context) (int, error) { panic("boom") }})
	pool.Submit(Job[int]{Key: "good", Run: func(ctx context.Context) (int, error) { return 1, nil }})

	pool.Stop()
	wg.Wait()

	if len(*results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(*results))
	}
	if (*results)[0].Err == nil {
		t.Error("Expected the panicking job to report an error")
	}
	if (*results)[1].Err != nil || (*results)[1].Value != 1 {
		t.Error("Expected the next job to run normally")
	}
}

func TestWorkerPoolConcurrency(t *testing.T) {
	pool := NewWorkerPool[struct{}](context.Background(), 5, nil)
	pool.Start()
	results, wg := collect(pool)

	numJobs := 10
	startTime := time.Now()
	for i := 0; i < numJobs; i++ {
		pool.Submit(Job[struct{}]{
			Key: fmt.Sprintf("job-%d", i),
			Run: func(ctx context.Context) (struct{}, error) {
				time.Sleep(100 * time.Millisecond)
				return struct{}{}, nil
			},
		})
	}

	pool.Stop()
	wg.Wait()
	elapsed := time.Since(startTime)

	// 10 jobs of 100ms on 5 workers take about 200ms
	expectedTime := 400 * time.Millisecond
	if elapsed > expectedTime {
		t.Errorf("Jobs took too long: %v (expected < %v)", elapsed, expectedTime)
	}
	if len(*results) != numJobs {
		t.Errorf("Expected %d results, got %d", numJobs, len(*results))
	}
}

func TestWorkerPoolSingleWorkerKeepsOrder(t *testing.T) {
	pool := NewWorkerPool[int](context.Background(), 0, logger.NewTestLogger())
	if pool.GetActiveWorkers() != 1 {
		t.Fatalf("Expected 1 worker, got %d", pool.GetActiveWorkers())
	}
	pool.Start()
	results, wg := collect(pool)

	for i := 0; i < 5; i++ {
		i := i
		pool.Submit(Job[int]{Key: fmt.Sprint(i), Run: func(ctx context.Context) (int, error) { return i, nil }})
	}
	pool.Stop()
	wg.Wait()

	for i, result := range *results {
		if result.Value != i {
			t.Errorf("Result %d has value %d", i, result.Value)
		}
	}
}

func TestWorkerPoolSubmitAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewWorkerPool[int](ctx, 1, logger.NewTestLogger())
	pool.Start()
	_, wg := collect(pool)

	// Fill the queue with a job that blocks until cancellation
	started := make(chan struct{})
	pool.Submit(Job[int]{Key: "blocker", Run: func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	}})
	<-started
	cancel()

	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = pool.Submit(Job[int]{Key: "late", Run: func(ctx context.Context) (int, error) { return 0, nil }})
	}
	if err == nil {
		t.Error("Expected Submit to fail once the context is cancelled")
	}

	pool.Stop()
	wg.Wait()
}
