package queue

import (
	"testing"

	"github.com/energywebfoundation/ew-link-bond/internal/domain"
)

func TestMemQueueEnqueueDequeueOrder(t *testing.T) {
	q := NewMemQueue(4)

	e1 := domain.TaskEvent{Task: "meterA", To: domain.TaskPreparing}
	e2 := domain.TaskEvent{Task: "meterA", To: domain.TaskPolling}

	if !q.Enqueue(e1) || !q.Enqueue(e2) {
		t.Fatalf("expected successful enqueue")
	}

	batch := q.DequeueBatch(1)
	if len(batch) != 1 || batch[0].To != domain.TaskPreparing {
		t.Fatalf("unexpected first batch: %+v", batch)
	}

	remaining := q.DequeueBatch(10)
	if len(remaining) != 1 || remaining[0].To != domain.TaskPolling {
		t.Fatalf("unexpected second batch: %+v", remaining)
	}

	if q.Len() != 0 {
		t.Fatalf("queue should be empty, got %d", q.Len())
	}
}

func TestMemQueueCapacity(t *testing.T) {
	q := NewMemQueue(2)

	ev := domain.TaskEvent{Task: "cap"}

	if !q.Enqueue(ev) || !q.Enqueue(ev) {
		t.Fatalf("expected enqueue within capacity")
	}
	if q.Enqueue(ev) {
		t.Fatalf("enqueue should fail when capacity exceeded")
	}
	if q.Dropped() != 1 {
		t.Fatalf("expected 1 dropped event, got %d", q.Dropped())
	}

	q.DequeueBatch(1)
	if !q.Enqueue(ev) {
		t.Fatalf("expected enqueue to succeed after dequeue")
	}
}
