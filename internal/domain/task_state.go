package domain

import "time"

// TaskState tracks where a task is in its lifecycle.
type TaskState int

const (
	TaskIdle TaskState = iota
	TaskPreparing
	TaskPolling
	TaskExecuting
	TaskErrorHandling
	TaskFinishing
	TaskStopped
)

func (s TaskState) String() string {
	switch s {
	case TaskIdle:
		return "idle"
	case TaskPreparing:
		return "preparing"
	case TaskPolling:
		return "polling"
	case TaskExecuting:
		return "executing"
	case TaskErrorHandling:
		return "error_handling"
	case TaskFinishing:
		return "finishing"
	case TaskStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// TaskEvent is emitted on every task state change.
type TaskEvent struct {
	Task  string
	From  TaskState
	To    TaskState
	At    time.Time
	Cycle uint64
	Err   error
}
