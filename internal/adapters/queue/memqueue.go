package queue

import (
	"sync"

	"github.com/energywebfoundation/ew-link-bond/internal/domain"
	"github.com/energywebfoundation/ew-link-bond/internal/ports"
)

// MemQueue is a bounded in-memory FIFO of task events. Events offered while
// it is full are rejected and counted.
type MemQueue struct {
	mu      sync.Mutex
	data    []domain.TaskEvent
	cap     int
	dropped uint64
}

func NewMemQueue(capacity int) *MemQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemQueue{
		data: make([]domain.TaskEvent, 0, capacity),
		cap:  capacity,
	}
}

func (q *MemQueue) Enqueue(ev domain.TaskEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) >= q.cap {
		q.dropped++
		return false
	}
	q.data = append(q.data, ev)
	return true
}

func (q *MemQueue) DequeueBatch(max int) []domain.TaskEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.data) {
		max = len(q.data)
	}
	out := make([]domain.TaskEvent, max)
	copy(out, q.data[:max])
	q.data = append(q.data[:0], q.data[max:]...)
	return out
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

// Dropped reports how many events were rejected because the queue was full.
func (q *MemQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

var _ ports.EventQueue = (*MemQueue)(nil)
