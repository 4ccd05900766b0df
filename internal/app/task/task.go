package task

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/energywebfoundation/ew-link-bond/internal/domain"
)

var (
	ErrNegativeInterval = errors.New("task: interval must be >= 0")
	ErrAlreadyStarted   = errors.New("task: already started")
)

// Work is the unit a task repeats. Execute returns false to end the loop
// normally; an error goes to the task's error handler.
type Work interface {
	Prepare(ctx context.Context) error
	Execute(ctx context.Context) (bool, error)
	Finish(ctx context.Context) error
}

// WorkFunc adapts a function to Work with no-op prepare and finish hooks.
type WorkFunc func(ctx context.Context) (bool, error)

func (f WorkFunc) Prepare(context.Context) error             { return nil }
func (f WorkFunc) Execute(ctx context.Context) (bool, error) { return f(ctx) }
func (f WorkFunc) Finish(context.Context) error              { return nil }

// ErrorPolicy decides what a task does with an error from its work.
type ErrorPolicy int

const (
	// Continue reports the error and keeps polling.
	Continue ErrorPolicy = iota
	// Stop reports the error and ends the task.
	Stop
)

// ParseErrorPolicy maps configuration strings ("continue", "stop").
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch s {
	case "", "continue":
		return Continue, nil
	case "stop":
		return Stop, nil
	default:
		return Continue, fmt.Errorf("task: unknown error policy %q", s)
	}
}

func (p ErrorPolicy) String() string {
	if p == Stop {
		return "stop"
	}
	return "continue"
}

// ErrorHandler is told about every error a task sees. The task's policy,
// not the handler, decides whether it keeps running.
type ErrorHandler func(task string, err error)

// Config describes one recurring task. Eager skips the interval wait
// before the first cycle; RunOnce executes the work a single time.
type Config struct {
	Name     string
	Stream   string
	Interval time.Duration
	Eager    bool
	RunOnce  bool
	OnError  ErrorPolicy
	Handler  ErrorHandler
	Observer func(domain.TaskEvent)
}

// Task runs Work on a fixed interval:
//
//	Idle -> Preparing -> Polling -> (Executing <-> Polling) -> Finishing -> Stopped
//
// with ErrorHandling entered from any working state. Finish runs exactly
// once on every exit path after Prepare was attempted.
type Task struct {
	cfg  Config
	work Work

	mu        sync.Mutex
	state     domain.TaskState
	cycles    uint64
	lastErr   error
	started   bool
	observers []func(domain.TaskEvent)
}

func New(cfg Config, work Work) (*Task, error) {
	if work == nil {
		return nil, errors.New("task: work is required")
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNegativeInterval, cfg.Interval)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Stream
	}
	t := &Task{cfg: cfg, work: work, state: domain.TaskIdle}
	if cfg.Observer != nil {
		t.observers = append(t.observers, cfg.Observer)
	}
	return t, nil
}

func (t *Task) Name() string   { return t.cfg.Name }
func (t *Task) Stream() string { return t.cfg.Stream }

func (t *Task) State() domain.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Cycles returns how many times the work has been executed.
func (t *Task) Cycles() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cycles
}

// Err returns the error that stopped the task, if any.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// AddObserver registers another state change callback. Observers added
// after Run has started may miss early transitions.
func (t *Task) AddObserver(fn func(domain.TaskEvent)) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, fn)
}

// Run blocks until the task stops. It returns nil when the loop ended
// normally or through cancellation, and the failing error when the Stop
// policy ended it.
func (t *Task) Run(ctx context.Context) (err error) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.started = true
	t.mu.Unlock()

	defer func() {
		t.transition(domain.TaskFinishing, nil)
		if ferr := t.work.Finish(context.WithoutCancel(ctx)); ferr != nil {
			t.report(ferr)
			err = errors.Join(err, fmt.Errorf("finish: %w", ferr))
		}
		t.mu.Lock()
		t.lastErr = err
		t.mu.Unlock()
		t.transition(domain.TaskStopped, err)
	}()

	t.transition(domain.TaskPreparing, nil)
	if perr := t.work.Prepare(ctx); perr != nil {
		t.transition(domain.TaskErrorHandling, perr)
		t.report(perr)
		return fmt.Errorf("prepare: %w", perr)
	}

	first := true
	for {
		t.transition(domain.TaskPolling, nil)
		if !(first && t.cfg.Eager) {
			if !t.wait(ctx) {
				return nil
			}
		}
		first = false
		if ctx.Err() != nil {
			return nil
		}

		t.transition(domain.TaskExecuting, nil)
		cont, xerr := t.execute(ctx)
		t.mu.Lock()
		t.cycles++
		t.mu.Unlock()

		if xerr != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.transition(domain.TaskErrorHandling, xerr)
			t.report(xerr)
			if t.cfg.OnError == Stop {
				return xerr
			}
		}
		if !cont || t.cfg.RunOnce {
			return nil
		}
	}
}

func (t *Task) execute(ctx context.Context) (cont bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			cont, err = true, fmt.Errorf("task %s: panic: %v", t.cfg.Name, r)
		}
	}()
	return t.work.Execute(ctx)
}

// wait sleeps one interval. A zero interval only yields the processor.
func (t *Task) wait(ctx context.Context) bool {
	if t.cfg.Interval == 0 {
		runtime.Gosched()
		return ctx.Err() == nil
	}
	timer := time.NewTimer(t.cfg.Interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (t *Task) report(err error) {
	if t.cfg.Handler != nil {
		t.cfg.Handler(t.cfg.Name, err)
	}
}

func (t *Task) transition(to domain.TaskState, err error) {
	t.mu.Lock()
	from := t.state
	t.state = to
	cycles := t.cycles
	observers := t.observers
	t.mu.Unlock()

	ev := domain.TaskEvent{Task: t.cfg.Name, From: from, To: to, At: time.Now(), Cycle: cycles, Err: err}
	for _, fn := range observers {
		fn(ev)
	}
}
