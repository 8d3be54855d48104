package pool

import (
	"context"
	"errors"
	"sync"

	"github.com/firewatch/dashboard/internal/logger"
)

var (
	ErrPoolStopped = errors.New("worker pool is stopped")
	ErrQueueFull   = errors.New("task queue is full")
)

// Task is a unit of work run by the pool
type Task func(ctx context.Context) error

// ErrorHandler receives errors returned by tasks
type ErrorHandler func(err error)

// WorkerPool runs tasks on a fixed number of goroutines fed by a bounded queue
type WorkerPool struct {
	workerCount int
	taskQueue   chan Task
	stopChan    chan struct{}
	onError     ErrorHandler
	wg          sync.WaitGroup
	mu          sync.RWMutex
	stopped     bool
}

// NewWorkerPool creates a pool; non-positive sizes fall back to 1 worker
// and a queue of 100.
func NewWorkerPool(workerCount int, queueSize int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}

	return &WorkerPool{
		workerCount: workerCount,
		taskQueue:   make(chan Task, queueSize),
		stopChan:    make(chan struct{}),
		onError: func(err error) {
			logger.Warn().Err(err).Msg("Worker task failed")
		},
	}
}

// OnError replaces the default handler, which logs the error
func (wp *WorkerPool) OnError(handler ErrorHandler) {
	if handler != nil {
		wp.onError = handler
	}
}

func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx)
	}
}

func (wp *WorkerPool) worker(ctx context.Context) {
	defer wp.wg.Done()

	for {
		select {
		case task := <-wp.taskQueue:
			if err := task(ctx); err != nil {
				wp.onError(err)
			}
		case <-wp.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Submit queues a task without blocking
func (wp *WorkerPool) Submit(task Task) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return ErrPoolStopped
	}

	select {
	case wp.taskQueue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitWithContext is Submit that first checks ctx
func (wp *WorkerPool) SubmitWithContext(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wp.Submit(task)
}

// Stop signals the workers and waits for running tasks. Queued tasks
// that no worker picked up are dropped.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	wp.mu.Unlock()

	close(wp.stopChan)
	wp.wg.Wait()
}

// StopWithTimeout is Stop bounded by ctx
func (wp *WorkerPool) StopWithTimeout(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		wp.Stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("worker pool shutdown timeout exceeded")
	}
}

func (wp *WorkerPool) GetWorkerCount() int {
	return wp.workerCount
}

// GetQueueSize returns the number of queued tasks
func (wp *WorkerPool) GetQueueSize() int {
	return len(wp.taskQueue)
}

func (wp *WorkerPool) IsStopped() bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.stopped
}
