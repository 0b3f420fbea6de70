package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/botwatch/internal/domain/errors"
)

// Task is one unit of scheduled work. Invocations of the same task never
// overlap; the ticker simply fires again after the function returns.
type Task func(ctx context.Context)

// Scheduler owns named, individually cancellable periodic tasks. Components
// register their sweeps here instead of spawning ad hoc tickers, so shutdown
// and tests have a single place to stop time-driven work.
type Scheduler struct {
	logger *zap.Logger

	mu    sync.Mutex
	tasks map[string]*entry
}

type entry struct {
	name     string
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates an empty scheduler.
func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger: logger,
		tasks:  make(map[string]*entry),
	}
}

// Every registers and starts a named periodic task. Registering a name that
// is already running is a conflict.
func (s *Scheduler) Every(ctx context.Context, name string, interval time.Duration, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return errors.ErrDuplicateTask.WithDetails(map[string]interface{}{"task": name})
	}

	taskCtx, cancel := context.WithCancel(ctx)
	e := &entry{
		name:     name,
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.tasks[name] = e

	go s.run(taskCtx, e, task)

	s.logger.Debug("scheduled periodic task",
		zap.String("task", name),
		zap.Duration("interval", interval),
	)
	return nil
}

// Once registers a one-shot task that fires after delay unless stopped first.
func (s *Scheduler) Once(ctx context.Context, name string, delay time.Duration, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return errors.ErrDuplicateTask.WithDetails(map[string]interface{}{"task": name})
	}

	taskCtx, cancel := context.WithCancel(ctx)
	e := &entry{
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.tasks[name] = e

	go func() {
		defer close(e.done)
		defer s.remove(name)

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-taskCtx.Done():
		case <-timer.C:
			s.invoke(taskCtx, e.name, task)
		}
	}()

	return nil
}

// Stop cancels one task and waits for its goroutine to exit. Stopping an
// unknown or already-stopped task is a no-op.
func (s *Scheduler) Stop(name string) {
	s.mu.Lock()
	e, ok := s.tasks[name]
	if ok {
		delete(s.tasks, name)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	e.cancel()
	<-e.done
}

// StopAll cancels every task and waits for all goroutines. Idempotent.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.tasks))
	for _, e := range s.tasks {
		entries = append(entries, e)
	}
	s.tasks = make(map[string]*entry)
	s.mu.Unlock()

	for _, e := range entries {
		e.cancel()
		<-e.done
	}
}

// Names returns the currently registered task names.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	return names
}

func (s *Scheduler) run(ctx context.Context, e *entry, task Task) {
	defer close(e.done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.invoke(ctx, e.name, task)
		}
	}
}

// invoke isolates task panics so one bad sweep cannot take down the
// scheduler loop.
func (s *Scheduler) invoke(ctx context.Context, name string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked",
				zap.String("task", name),
				zap.Any("panic", r),
			)
		}
	}()
	task(ctx)
}

func (s *Scheduler) remove(name string) {
	s.mu.Lock()
	delete(s.tasks, name)
	s.mu.Unlock()
}
