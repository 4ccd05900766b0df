package ledger

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/energywebfoundation/ew-link-bond/internal/domain"
	"github.com/energywebfoundation/ew-link-bond/internal/ports"
)

// BreakerConfig tunes the circuit breaker in front of a ledger.
type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
}

// BreakerLedger stops hammering a ledger that keeps failing. While open,
// calls fail fast with gobreaker.ErrOpenState and the pipeline's retry pause
// does the waiting.
type BreakerLedger struct {
	next ports.Ledger
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerLedger(next ports.Ledger, cfg BreakerConfig) *BreakerLedger {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	st := gobreaker.Settings{
		Name:    "ledger-" + next.Name(),
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
	}
	return &BreakerLedger{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *BreakerLedger) Name() string { return b.next.Name() }

// Unwrap returns the protected ledger.
func (b *BreakerLedger) Unwrap() ports.Ledger { return b.next }

// State exposes the breaker state for logging.
func (b *BreakerLedger) State() gobreaker.State { return b.cb.State() }

func (b *BreakerLedger) Submit(ctx context.Context, r *domain.Record) (domain.Receipt, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.next.Submit(ctx, r)
	})
	if err != nil {
		return domain.Receipt{}, err
	}
	return res.(domain.Receipt), nil
}

func (b *BreakerLedger) LastRecordedValue(ctx context.Context, stream string) (int64, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.next.LastRecordedValue(ctx, stream)
	})
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

var _ ports.Ledger = (*BreakerLedger)(nil)
