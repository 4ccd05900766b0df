package ports

import "github.com/energywebfoundation/ew-link-bond/internal/domain"

// EventQueue buffers task lifecycle events for later inspection.
type EventQueue interface {
	Enqueue(ev domain.TaskEvent) bool
	DequeueBatch(max int) []domain.TaskEvent
	Len() int
}
