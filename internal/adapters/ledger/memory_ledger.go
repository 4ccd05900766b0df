package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/energywebfoundation/ew-link-bond/internal/domain"
	"github.com/energywebfoundation/ew-link-bond/internal/ports"
)

// MemoryLedger keeps records in process. It backs local runs and tests.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string][]domain.Record
	seq     uint64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string][]domain.Record)}
}

func (m *MemoryLedger) Name() string { return "memory" }

func (m *MemoryLedger) Submit(ctx context.Context, r *domain.Record) (domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return domain.Receipt{}, err
	}
	if r == nil {
		return domain.Receipt{}, errors.New("ledger: nil record")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.records[r.Stream] = append(m.records[r.Stream], *r)
	return domain.Receipt{Confirmed: true, BlockReference: fmt.Sprintf("mem#%d", m.seq)}, nil
}

func (m *MemoryLedger) LastRecordedValue(ctx context.Context, stream string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.records[stream]
	if len(recs) == 0 {
		return 0, nil
	}
	return recs[len(recs)-1].Value, nil
}

// Records returns a copy of everything submitted for stream.
func (m *MemoryLedger) Records(stream string) []domain.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Record(nil), m.records[stream]...)
}

var _ ports.Ledger = (*MemoryLedger)(nil)
