package ports

import (
	"context"

	"github.com/energywebfoundation/ew-link-bond/internal/domain"
)

// Ledger is the external append-only system of record.
type Ledger interface {
	// Submit makes one attempt to record r. A nil error with an unconfirmed
	// receipt means the write is still pending and may be retried.
	Submit(ctx context.Context, r *domain.Record) (domain.Receipt, error)
	// LastRecordedValue returns the latest accumulated value stored for the stream.
	LastRecordedValue(ctx context.Context, stream string) (int64, error)
	Name() string
}
