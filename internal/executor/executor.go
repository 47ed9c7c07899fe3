// Package executor provides the worker pools route handlers are offloaded
// to, and the selector that picks one per route. Pools are shared,
// long-lived resources; they carry no per-request state beyond the
// submitted task.
package executor

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Executor accepts units of work.
type Executor interface {
	Submit(task func())
}

// Inline runs tasks synchronously on the caller's goroutine. It is the
// fallback when no pool applies, so purely non-blocking handlers pay no
// hop cost.
type Inline struct{}

func (Inline) Submit(task func()) { task() }

// Pool is a fixed-size worker pool fed by a buffered queue.
type Pool struct {
	name     string
	tasks    chan func()
	workers  int
	wg       sync.WaitGroup
	logger   *slog.Logger
	stopOnce sync.Once
}

// NewPool creates and starts a pool. Submit blocks once the queue is full,
// which is the backpressure the dispatcher wants.
func NewPool(name string, workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		name:    name,
		tasks:   make(chan func(), workers*2),
		workers: workers,
		logger:  logger.With(slog.String("component", "executor"), slog.String("pool", name)),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Name returns the pool's configured name.
func (p *Pool) Name() string { return p.name }

// Submit enqueues a task. Panics if the pool is stopped.
func (p *Pool) Submit(task func()) {
	p.tasks <- task
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	logger := p.logger.With(slog.Int("worker", id))
	for task := range p.tasks {
		p.run(task, logger)
	}
}

// run isolates a task so a panic cannot take the worker down. The offload
// decorator converts handler panics itself; this guard is for tasks
// submitted outside it.
func (p *Pool) run(task func(), logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	task()
}

// Stop closes the queue and waits up to timeout for in-flight tasks.
func (p *Pool) Stop(timeout time.Duration) error {
	p.stopOnce.Do(func() { close(p.tasks) })
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("pool stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("executor: pool %q did not drain within %s", p.name, timeout)
	}
}

// Selectable is the slice of a route match the selector needs.
type Selectable interface {
	ExecutorName() string
}

// Selector chooses the pool a matched route should run on.
type Selector struct {
	logger *slog.Logger
	mu     sync.RWMutex
	pools  map[string]*Pool
}

// NewSelector creates a selector over the given pools.
func NewSelector(logger *slog.Logger, pools ...*Pool) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Selector{
		logger: logger.With(slog.String("component", "executor_selector")),
		pools:  make(map[string]*Pool, len(pools)),
	}
	for _, p := range pools {
		s.pools[p.name] = p
	}
	return s
}

// Add registers a pool.
func (s *Selector) Add(p *Pool) {
	s.mu.Lock()
	s.pools[p.name] = p
	s.mu.Unlock()
}

// Select returns the pool for the route's declared executor. False when the
// route has no preference or the name is unknown; the caller then runs the
// work on its own goroutine.
func (s *Selector) Select(m Selectable) (Executor, bool) {
	name := m.ExecutorName()
	if name == "" {
		return nil, false
	}
	s.mu.RLock()
	p, ok := s.pools[name]
	s.mu.RUnlock()
	if !ok {
		s.logger.Warn("route names unknown executor, running inline", slog.String("executor", name))
		return nil, false
	}
	return p, true
}

// StopAll stops every pool, returning the first failure.
func (s *Selector) StopAll(timeout time.Duration) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var firstErr error
	for _, p := range s.pools {
		if err := p.Stop(timeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
