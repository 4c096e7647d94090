// Package scheduler runs the server's schedulable units on a bounded pool of OS threads.
//
// Every unit is a goroutine. Goroutines that wait on socket I/O are parked by the Go
// runtime network poller and do not hold a worker thread, so the worker count bounds
// the threads executing Go code, not the number of connections.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

var ErrStopped = errors.New("scheduler: stopped")

type Task = func(ctx context.Context)

type Scheduler struct {
	workers int
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
	units   atomic.Int64
}

// New creates a scheduler executing on workers threads, minimum 1.
// It sets GOMAXPROCS, which is process wide.
func New(workers int, logger *slog.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	runtime.GOMAXPROCS(workers)

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		workers: workers,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (scheduler *Scheduler) Workers() int {
	return scheduler.workers
}

// Units returns the number of units currently running.
func (scheduler *Scheduler) Units() int {
	return int(scheduler.units.Load())
}

// Spawn starts task as an independent unit. The task's context is cancelled when the scheduler stops.
func (scheduler *Scheduler) Spawn(name string, task Task) error {
	scheduler.mu.Lock()
	if scheduler.stopped {
		scheduler.mu.Unlock()
		return fmt.Errorf("%w: cannot spawn %s", ErrStopped, name)
	}
	scheduler.wg.Add(1)
	scheduler.mu.Unlock()

	scheduler.units.Add(1)
	go func() {
		defer scheduler.wg.Done()
		defer scheduler.units.Add(-1)
		defer func() {
			if recovered := recover(); recovered != nil {
				scheduler.logger.Error(name, "error", fmt.Sprint(recovered))
			}
		}()

		task(scheduler.ctx)
	}()

	return nil
}

// Done is closed once the scheduler stops.
func (scheduler *Scheduler) Done() <-chan struct{} {
	return scheduler.ctx.Done()
}

// Stop cancels every unit. It does not wait for them.
func (scheduler *Scheduler) Stop() {
	scheduler.mu.Lock()
	scheduler.stopped = true
	scheduler.mu.Unlock()

	scheduler.cancel()
}

// Run blocks until ctx is done or Stop is called, then stops the scheduler and joins every unit.
func (scheduler *Scheduler) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-scheduler.ctx.Done():
	}

	scheduler.Stop()
	scheduler.wg.Wait()

	return ctx.Err()
}
