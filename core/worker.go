package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Worker pool errors.
var (
	ErrWorkerPoolNotRunning = errors.New("worker pool is not running")
	ErrWorkerPoolQueueFull  = errors.New("worker pool task queue is full")
)

// WorkerPool provides a bounded pool for parallel task processing. The
// pipeline uses one pool so concurrent collector feeds are processed in
// parallel without unbounded goroutine growth.
type WorkerPool struct {
	workers   int
	queueSize int
	taskCh    chan func()
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	mu        sync.RWMutex
}

// NewWorkerPool creates a worker pool. Workers are not started until
// Start() is called; cancelling parentCtx stops them.
func NewWorkerPool(parentCtx context.Context, workers, queueSize int, logger *zap.SugaredLogger) *WorkerPool {
	ctx, cancel := context.WithCancel(parentCtx)
	return &WorkerPool{
		workers:   workers,
		queueSize: queueSize,
		taskCh:    make(chan func(), queueSize),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing tasks.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return
	}
	wp.running = true
	wp.logger.Infof("Starting worker pool with %d workers and queue size %d", wp.workers, wp.queueSize)

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop gracefully shuts down the pool, waiting up to 30s for in-flight
// tasks before giving up to avoid a shutdown deadlock.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if !wp.running {
		return
	}
	wp.running = false
	wp.cancel()
	close(wp.taskCh)

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Infow("Worker pool stopped")
	case <-time.After(30 * time.Second):
		wp.logger.Errorw("Worker pool shutdown timed out, goroutines leaked until process exit")
	}
}

// Submit adds a task to the queue. Returns ErrWorkerPoolQueueFull when the
// queue is saturated so the caller can apply backpressure at the ingress
// boundary instead of dropping work.
func (wp *WorkerPool) Submit(task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		return ErrWorkerPoolNotRunning
	}

	select {
	case wp.taskCh <- task:
		return nil
	default:
		return ErrWorkerPoolQueueFull
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			return
		case task, ok := <-wp.taskCh:
			if !ok {
				return
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						wp.logger.Errorw("Task panicked in worker", "worker_id", id, "panic", r)
					}
				}()
				task()
			}()
		}
	}
}
