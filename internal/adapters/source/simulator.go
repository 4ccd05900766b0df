package source

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/energywebfoundation/ew-link-bond/internal/domain"
	"github.com/energywebfoundation/ew-link-bond/internal/ports"
)

// Simulator is a virtual meter. Every read returns the energy of one
// interval: a fixed per-meter base plus pseudo-random jitter, in kWh. It is
// not a running total, so streams using it stay non-accumulated.
type Simulator struct {
	mu   sync.Mutex
	name string
	rng  *rand.Rand
	base int
	now  func() time.Time
}

func NewSimulator(name string, seed uint64) *Simulator {
	if name == "" {
		name = "simulator"
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return &Simulator{
		name: name,
		rng:  rng,
		base: 1 + rng.IntN(20),
		now:  time.Now,
	}
}

func (s *Simulator) Name() string { return s.name }

func (s *Simulator) ReadLatest(ctx context.Context) (domain.Reading, error) {
	if err := ctx.Err(); err != nil {
		return domain.Reading{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	kwh := s.base + s.rng.IntN(22)
	wh, _ := domain.KiloWattHour.ToWh(float64(kwh))

	now := s.now()
	return domain.Reading{
		CapturedAt:      now,
		SourceTimestamp: now,
		Value:           wh,
		Raw:             fmt.Sprintf("virtual-meter;kwh=%d;t=%d", kwh, now.Unix()),
	}, nil
}

var _ ports.Source = (*Simulator)(nil)
