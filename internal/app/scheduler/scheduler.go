package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/energywebfoundation/ew-link-bond/internal/adapters/queue"
	"github.com/energywebfoundation/ew-link-bond/internal/app/task"
	"github.com/energywebfoundation/ew-link-bond/internal/domain"
	"github.com/energywebfoundation/ew-link-bond/internal/ports"
)

const defaultEventCapacity = 1024

var (
	ErrAlreadyRunning  = errors.New("scheduler: already running")
	ErrDuplicateStream = errors.New("scheduler: stream already has a task")
	ErrNilTask         = errors.New("scheduler: task is nil")
)

// Hook runs once after every task has stopped.
type Hook func(ctx context.Context) error

type namedHook struct {
	name string
	fn   Hook
}

// Scheduler owns a fixed set of tasks and runs each on its own goroutine.
type Scheduler struct {
	mu      sync.Mutex
	tasks   []*task.Task
	streams map[string]string
	hooks   []namedHook
	started bool

	events  ports.EventQueue
	obs     ports.Observability
	running atomic.Int64
}

type Option func(*Scheduler)

// WithEventQueue replaces the default bounded in-memory event queue.
func WithEventQueue(q ports.EventQueue) Option {
	return func(s *Scheduler) {
		if q != nil {
			s.events = q
		}
	}
}

func WithObservability(obs ports.Observability) Option {
	return func(s *Scheduler) {
		if obs != nil {
			s.obs = obs
		}
	}
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		streams: make(map[string]string),
		obs:     nopObs{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.events == nil {
		s.events = queue.NewMemQueue(defaultEventCapacity)
	}
	return s
}

// Register adds a task. Each stream may be owned by at most one task, and
// tasks cannot be added once Run has been called.
func (s *Scheduler) Register(t *task.Task) error {
	if t == nil {
		return ErrNilTask
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyRunning
	}
	if stream := t.Stream(); stream != "" {
		if owner, ok := s.streams[stream]; ok {
			return fmt.Errorf("%w: %s is owned by %s", ErrDuplicateStream, stream, owner)
		}
		s.streams[stream] = t.Name()
	}
	s.tasks = append(s.tasks, t)
	return nil
}

// OnShutdown registers a cleanup hook. Hooks run in reverse registration
// order once all tasks have finished.
func (s *Scheduler) OnShutdown(name string, fn Hook) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, namedHook{name: name, fn: fn})
}

// Events exposes the task lifecycle events recorded so far.
func (s *Scheduler) Events() ports.EventQueue { return s.events }

// Tasks returns the registered tasks in registration order.
func (s *Scheduler) Tasks() []*task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*task.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Run starts every task and blocks until all of them stopped, then runs the
// cleanup hooks. The returned error joins every task and hook failure.
func (s *Scheduler) Run(ctx context.Context) (Report, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return Report{}, ErrAlreadyRunning
	}
	s.started = true
	tasks := make([]*task.Task, len(s.tasks))
	copy(tasks, s.tasks)
	hooks := make([]namedHook, len(s.hooks))
	copy(hooks, s.hooks)
	s.mu.Unlock()

	s.obs.LogInfo("scheduler_started", ports.Field{Key: "tasks", Value: len(tasks)})

	var wg sync.WaitGroup
	for _, t := range tasks {
		t.AddObserver(s.observe)
		wg.Add(1)
		go func(t *task.Task) {
			defer wg.Done()
			s.obs.SetGauge("bond_tasks_running", float64(s.running.Add(1)))
			defer func() {
				s.obs.SetGauge("bond_tasks_running", float64(s.running.Add(-1)))
			}()
			if err := t.Run(ctx); err != nil {
				s.obs.LogError("task_stopped_with_error", err, ports.Field{Key: "task", Value: t.Name()})
			}
		}(t)
	}
	wg.Wait()

	report := Report{Tasks: make([]TaskReport, 0, len(tasks))}
	var errs []error
	for _, t := range tasks {
		tr := TaskReport{Name: t.Name(), Stream: t.Stream(), State: t.State(), Cycles: t.Cycles(), Err: t.Err()}
		report.Tasks = append(report.Tasks, tr)
		if tr.Err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", tr.Name, tr.Err))
		}
	}

	cleanupCtx := context.WithoutCancel(ctx)
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if err := h.fn(cleanupCtx); err != nil {
			err = fmt.Errorf("shutdown hook %s: %w", h.name, err)
			report.CleanupErrs = append(report.CleanupErrs, err)
			errs = append(errs, err)
			s.obs.LogError("shutdown_hook_failed", err, ports.Field{Key: "hook", Value: h.name})
		}
	}

	s.obs.LogInfo("scheduler_stopped",
		ports.Field{Key: "tasks", Value: len(tasks)},
		ports.Field{Key: "clean", Value: report.AllClean()})
	return report, errors.Join(errs...)
}

func (s *Scheduler) observe(ev domain.TaskEvent) {
	if !s.events.Enqueue(ev) {
		s.obs.IncCounter("bond_events_dropped_total", 1)
	}
	if ev.To == domain.TaskErrorHandling && ev.Err != nil {
		s.obs.LogError("task_error", ev.Err,
			ports.Field{Key: "task", Value: ev.Task},
			ports.Field{Key: "cycle", Value: ev.Cycle})
	}
}

// TaskReport is the final status of one task.
type TaskReport struct {
	Name   string
	Stream string
	State  domain.TaskState
	Cycles uint64
	Err    error
}

// Report summarizes a finished Run.
type Report struct {
	Tasks       []TaskReport
	CleanupErrs []error
}

// AllClean is true when every task stopped without error and every cleanup
// hook succeeded.
func (r Report) AllClean() bool {
	for _, t := range r.Tasks {
		if t.Err != nil || t.State != domain.TaskStopped {
			return false
		}
	}
	return len(r.CleanupErrs) == 0
}

type nopObs struct{}

func (nopObs) LogInfo(string, ...ports.Field)            {}
func (nopObs) LogWarn(string, ...ports.Field)            {}
func (nopObs) LogError(string, error, ...ports.Field)    {}
func (nopObs) LogCritical(string, error, ...ports.Field) {}
func (nopObs) IncCounter(string, float64)                {}
func (nopObs) ObserveLatency(string, float64)            {}
func (nopObs) SetGauge(string, float64)                  {}
