// Package supervisor runs fire-and-forget background tasks with a concurrency
// bound, a per-task deadline, panic recovery, logging and metrics.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"booksoul/internal/metrics"
)

const (
	defaultConcurrency = 16
	defaultTaskTimeout = 60 * time.Second
)

var ErrClosed = errors.New("supervisor: closed")

type Supervisor struct {
	log     *slog.Logger
	sem     *semaphore.Weighted
	timeout time.Duration

	// base is detached from any request so tasks outlive the call that
	// scheduled them; Shutdown cancels it.
	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func New(log *slog.Logger, concurrency int, taskTimeout time.Duration) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if taskTimeout <= 0 {
		taskTimeout = defaultTaskTimeout
	}
	base, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		log:     log,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		timeout: taskTimeout,
		base:    base,
		cancel:  cancel,
	}
}

// Go schedules fn and returns immediately. Tasks submitted after Shutdown
// are dropped and logged.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.log.Warn("background task dropped", "task", name, "err", ErrClosed)
		metrics.TasksTotal.WithLabelValues(name, "dropped").Inc()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	metrics.TasksInFlight.Inc()
	go func() {
		defer s.wg.Done()
		defer metrics.TasksInFlight.Dec()
		s.run(name, fn)
	}()
}

func (s *Supervisor) run(name string, fn func(ctx context.Context) error) {
	if err := s.sem.Acquire(s.base, 1); err != nil {
		s.log.Warn("background task cancelled before start", "task", name, "err", err)
		metrics.TasksTotal.WithLabelValues(name, "dropped").Inc()
		return
	}
	defer s.sem.Release(1)

	ctx, cancel := context.WithTimeout(s.base, s.timeout)
	defer cancel()

	start := time.Now()
	err := safeCall(ctx, fn)
	metrics.TaskDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	var p *panicError
	switch {
	case err == nil:
		metrics.TasksTotal.WithLabelValues(name, "ok").Inc()
	case errors.As(err, &p):
		s.log.Error("background task panicked", "task", name, "err", p.value, "stack", string(p.stack))
		metrics.TasksTotal.WithLabelValues(name, "panic").Inc()
	default:
		s.log.Warn("background task failed", "task", name, "err", err)
		metrics.TasksTotal.WithLabelValues(name, "error").Inc()
	}
}

// Wait blocks until every scheduled task has finished or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks and waits for running ones until ctx is
// done, after which remaining tasks are cancelled.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	err := s.Wait(ctx)
	s.cancel()
	return err
}

type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

func safeCall(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}
