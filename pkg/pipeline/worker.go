package pipeline

import (
	"context"
	"sync"
)

// WorkerPool runs workerFunc on tasks from a bounded queue.
type WorkerPool[T any] struct {
	workers    int
	taskQueue  chan T
	workerFunc func(context.Context, T)
	wg         sync.WaitGroup
}

func NewWorkerPool[T any](workers, queueSize int, workerFunc func(context.Context, T)) *WorkerPool[T] {
	if queueSize <= 0 {
		queueSize = workers * 2
	}
	return &WorkerPool[T]{
		workers:    workers,
		taskQueue:  make(chan T, queueSize),
		workerFunc: workerFunc,
	}
}

func (wp *WorkerPool[T]) Start(ctx context.Context) {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx)
	}
}

// TrySubmit queues task without blocking and reports whether it fit.
func (wp *WorkerPool[T]) TrySubmit(task T) bool {
	select {
	case wp.taskQueue <- task:
		return true
	default:
		return false
	}
}

// Wait blocks until every worker has returned.
func (wp *WorkerPool[T]) Wait() {
	wp.wg.Wait()
}

// Drain removes and returns the tasks still queued.
func (wp *WorkerPool[T]) Drain() []T {
	var out []T
	for {
		select {
		case task := <-wp.taskQueue:
			out = append(out, task)
		default:
			return out
		}
	}
}

// Pending returns the number of queued tasks.
func (wp *WorkerPool[T]) Pending() int {
	return len(wp.taskQueue)
}

func (wp *WorkerPool[T]) worker(ctx context.Context) {
	defer wp.wg.Done()

	for {
		select {
		case task := <-wp.taskQueue:
			wp.workerFunc(ctx, task)

		case <-ctx.Done():
			return
		}
	}
}
