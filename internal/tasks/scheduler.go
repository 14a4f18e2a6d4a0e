package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultTickInterval = time.Second

// Handler runs a fired task. Handlers are registered by name and looked up
// via ScheduledTask.HandlerName at dispatch time.
type Handler interface {
	Run(ctx context.Context, task *ScheduledTask) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, task *ScheduledTask) error

func (f HandlerFunc) Run(ctx context.Context, task *ScheduledTask) error {
	return f(ctx, task)
}

// Scheduler polls a Store for due tasks and dispatches them to registered
// handlers. A task is claimed via MarkFired before its handler runs, so a
// cancellation observed before the claim wins and the handler never fires.
type Scheduler struct {
	store    Store
	logger   *slog.Logger
	now      func() time.Time
	interval time.Duration

	mu       sync.Mutex
	handlers map[string]Handler
	started  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval sets how often the scheduler polls for due tasks.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// NewScheduler creates a scheduler over the given store.
func NewScheduler(store Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		logger:   slog.Default().With("component", "tasks.scheduler"),
		now:      time.Now,
		interval: defaultTickInterval,
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterHandler registers a handler under name. Re-registering replaces
// the previous handler.
func (s *Scheduler) RegisterHandler(name string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = h
}

// Start begins the polling loop. It is an error to start twice.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(runCtx)
	return nil
}

// Stop halts the polling loop and waits for in-flight handlers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// RunOnce processes all currently due tasks. Exposed for tests and for
// callers that drive the clock themselves.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.runDue(ctx)
}

func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now()
	due, err := s.store.Due(ctx, now)
	if err != nil {
		s.logger.Error("query due tasks", "error", err)
		return
	}

	for _, task := range due {
		// Claim first: a cancel that lands before this point turns the
		// task terminal and the claim fails, so the handler never runs.
		if err := s.store.MarkFired(ctx, task.ID, now); err != nil {
			s.logger.Debug("task claim lost", "task_id", task.ID, "error", err)
			continue
		}
		s.dispatch(ctx, task)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, task *ScheduledTask) {
	s.mu.Lock()
	handler, ok := s.handlers[task.HandlerName]
	s.mu.Unlock()

	if !ok {
		s.logger.Warn("no handler for task", "task_id", task.ID, "handler", task.HandlerName)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task handler panicked", "task_id", task.ID, "panic", r)
		}
	}()

	if err := handler.Run(ctx, task); err != nil {
		s.logger.Error("task handler failed", "task_id", task.ID, "handler", task.HandlerName, "error", err)
		return
	}
	s.logger.Info("task fired", "task_id", task.ID, "handler", task.HandlerName, "session_id", task.SessionID)
}
