// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package jobs runs background work on a bounded worker pool.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrQueueFull   = errors.New("job queue is full")
	ErrQueueClosed = errors.New("job queue is closed")
)

// Func is a unit of background work. The context is cancelled when the queue
// shuts down.
type Func func(ctx context.Context) error

// Task is a submitted job.
type Task struct {
	Name string
	fn   Func
	done chan struct{}
	err  error
}

// Wait blocks until the task finished or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats are cumulative counters of a Queue.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Pending   int   `json:"pending"`
}

// Queue is a bounded FIFO served by a fixed number of workers.
type Queue struct {
	tasks  chan *Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// NewQueue starts workers goroutines reading from a queue of size capacity.
func NewQueue(workers, capacity int) *Queue {
	if workers < 1 {
		workers = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		tasks:  make(chan *Task, capacity),
		ctx:    ctx,
		cancel: cancel,
	}
	for range workers {
		q.wg.Add(1)
		go q.work()
	}
	return q
}

// Submit enqueues fn without blocking.
func (q *Queue) Submit(name string, fn Func) (*Task, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	task := &Task{Name: name, fn: fn, done: make(chan struct{})}
	select {
	case q.tasks <- task:
		q.submitted.Add(1)
		return task, nil
	default:
		slog.Warn("job rejected", "job", name, "reason", "queue_full")
		return nil, ErrQueueFull
	}
}

// Go submits fn and only logs a rejection. For fire-and-forget work whose
// outcome the caller does not need.
func (q *Queue) Go(name string, fn Func) {
	if _, err := q.Submit(name, fn); err != nil {
		slog.Error("failed to submit job", "job", name, "error", err)
	}
}

// Stats returns the counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Submitted: q.submitted.Load(),
		Succeeded: q.succeeded.Load(),
		Failed:    q.failed.Load(),
		Pending:   len(q.tasks),
	}
}

// Close stops accepting work and waits for queued tasks to finish. When ctx
// expires first, running tasks are cancelled.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-drained
		return ctx.Err()
	}
}

func (q *Queue) work() {
	defer q.wg.Done()
	for task := range q.tasks {
		q.run(task)
	}
}

func (q *Queue) run(task *Task) {
	start := time.Now()
	defer close(task.done)
	defer func() {
		if r := recover(); r != nil {
			task.err = fmt.Errorf("job %s panicked: %v", task.Name, r)
			q.failed.Add(1)
			slog.Error("job panicked", "job", task.Name, "panic", r)
		}
	}()

	task.err = task.fn(q.ctx)
	if task.err != nil {
		q.failed.Add(1)
		slog.Error("job failed", "job", task.Name, "duration", time.Since(start), "error", task.err)
		return
	}
	q.succeeded.Add(1)
	slog.Debug("job done", "job", task.Name, "duration", time.Since(start))
}

// Every submits fn to q each interval until ctx is done. A tick is skipped
// when the queue rejects it.
func Every(ctx context.Context, q *Queue, interval time.Duration, name string, fn Func) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := q.Submit(name, fn); errors.Is(err, ErrQueueClosed) {
					return
				}
			}
		}
	}()
}
