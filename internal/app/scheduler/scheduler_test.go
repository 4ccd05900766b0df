package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energywebfoundation/ew-link-bond/internal/adapters/queue"
	"github.com/energywebfoundation/ew-link-bond/internal/app/task"
	"github.com/energywebfoundation/ew-link-bond/internal/domain"
	"github.com/energywebfoundation/ew-link-bond/internal/ports"
)

func newTask(t *testing.T, cfg task.Config, fn task.WorkFunc) *task.Task {
	t.Helper()
	tk, err := task.New(cfg, fn)
	require.NoError(t, err)
	return tk
}

type gaugeObs struct {
	nopObs
	mu     sync.Mutex
	gauges map[string][]float64
	errors []string
}

func (g *gaugeObs) SetGauge(name string, v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gauges == nil {
		g.gauges = map[string][]float64{}
	}
	g.gauges[name] = append(g.gauges[name], v)
}

func (g *gaugeObs) LogError(msg string, _ error, _ ...ports.Field) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errors = append(g.errors, msg)
}

func TestRegisterRejectsDuplicateStream(t *testing.T) {
	s := New()
	once := func(context.Context) (bool, error) { return false, nil }

	require.NoError(t, s.Register(newTask(t, task.Config{Name: "a", Stream: "meterA"}, once)))
	err := s.Register(newTask(t, task.Config{Name: "b", Stream: "meterA"}, once))
	require.ErrorIs(t, err, ErrDuplicateStream)
	require.NoError(t, s.Register(newTask(t, task.Config{Name: "c", Stream: "meterB"}, once)))
	require.ErrorIs(t, s.Register(nil), ErrNilTask)
	assert.Len(t, s.Tasks(), 2)
}

func TestRunExecutesTasksConcurrentlyAndReports(t *testing.T) {
	obs := &gaugeObs{}
	s := New(WithObservability(obs))

	// both tasks block until the other has started, so sequential execution
	// would deadlock
	var wg sync.WaitGroup
	wg.Add(2)
	barrier := func(context.Context) (bool, error) {
		wg.Done()
		wg.Wait()
		return false, nil
	}
	require.NoError(t, s.Register(newTask(t, task.Config{Name: "a", Stream: "meterA", Eager: true}, barrier)))
	require.NoError(t, s.Register(newTask(t, task.Config{Name: "b", Stream: "meterB", Eager: true}, barrier)))

	done := make(chan struct{})
	var (
		report Report
		err    error
	)
	go func() {
		report, err = s.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not finish")
	}

	require.NoError(t, err)
	require.Len(t, report.Tasks, 2)
	assert.True(t, report.AllClean())
	for _, tr := range report.Tasks {
		assert.Equal(t, domain.TaskStopped, tr.State)
		assert.Equal(t, uint64(1), tr.Cycles)
	}

	obs.mu.Lock()
	running := obs.gauges["bond_tasks_running"]
	obs.mu.Unlock()
	assert.Contains(t, running, float64(2))
	assert.Contains(t, running, float64(0))
}

func TestRegisterAfterRunFails(t *testing.T) {
	s := New()
	require.NoError(t, s.Register(newTask(t, task.Config{Name: "a", Stream: "meterA", Eager: true, RunOnce: true},
		func(context.Context) (bool, error) { return true, nil })))

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	err = s.Register(newTask(t, task.Config{Name: "b", Stream: "meterB"}, func(context.Context) (bool, error) { return false, nil }))
	require.ErrorIs(t, err, ErrAlreadyRunning)

	_, err = s.Run(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestCancellationStopsEveryTask(t *testing.T) {
	s := New()
	var cycles atomic.Int32
	work := func(context.Context) (bool, error) {
		cycles.Add(1)
		return true, nil
	}
	for _, stream := range []string{"meterA", "meterB", "meterC"} {
		require.NoError(t, s.Register(newTask(t, task.Config{Name: stream, Stream: stream, Interval: time.Hour, Eager: true}, work)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Report, 1)
	go func() {
		r, _ := s.Run(ctx)
		done <- r
	}()

	require.Eventually(t, func() bool { return cycles.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case r := <-done:
		assert.True(t, r.AllClean())
		for _, tr := range r.Tasks {
			assert.Equal(t, domain.TaskStopped, tr.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler ignored cancellation")
	}
}

func TestFailedTaskIsReportedNotSwallowed(t *testing.T) {
	obs := &gaugeObs{}
	s := New(WithObservability(obs))
	boom := errors.New("disk full")

	require.NoError(t, s.Register(newTask(t, task.Config{Name: "bad", Stream: "meterA", Eager: true, OnError: task.Stop},
		func(context.Context) (bool, error) { return true, boom })))
	require.NoError(t, s.Register(newTask(t, task.Config{Name: "good", Stream: "meterB", Eager: true, RunOnce: true},
		func(context.Context) (bool, error) { return true, nil })))

	report, err := s.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "task bad")
	assert.False(t, report.AllClean())

	byName := map[string]TaskReport{}
	for _, tr := range report.Tasks {
		byName[tr.Name] = tr
	}
	assert.ErrorIs(t, byName["bad"].Err, boom)
	assert.NoError(t, byName["good"].Err)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Contains(t, obs.errors, "task_error")
	assert.Contains(t, obs.errors, "task_stopped_with_error")
}

func TestShutdownHooksRunInReverseOrderAfterTasks(t *testing.T) {
	s := New()
	var finished atomic.Bool
	require.NoError(t, s.Register(newTask(t, task.Config{Name: "a", Stream: "meterA", Eager: true, RunOnce: true},
		func(context.Context) (bool, error) {
			time.Sleep(20 * time.Millisecond)
			finished.Store(true)
			return true, nil
		})))

	var order []string
	s.OnShutdown("close-db", func(context.Context) error {
		assert.True(t, finished.Load(), "hook ran before task finished")
		order = append(order, "close-db")
		return nil
	})
	s.OnShutdown("flush", func(context.Context) error {
		order = append(order, "flush")
		return errors.New("flush failed")
	})

	report, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shutdown hook flush")
	assert.Equal(t, []string{"flush", "close-db"}, order)
	assert.Len(t, report.CleanupErrs, 1)
	assert.False(t, report.AllClean())
}

func TestEventsAreQueued(t *testing.T) {
	q := queue.NewMemQueue(64)
	s := New(WithEventQueue(q))
	require.NoError(t, s.Register(newTask(t, task.Config{Name: "a", Stream: "meterA", Eager: true, RunOnce: true},
		func(context.Context) (bool, error) { return true, nil })))

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	events := s.Events().DequeueBatch(0)
	require.NotEmpty(t, events)
	assert.Equal(t, domain.TaskPreparing, events[0].To)
	assert.Equal(t, domain.TaskStopped, events[len(events)-1].To)
	for _, ev := range events {
		assert.Equal(t, "a", ev.Task)
	}
}
