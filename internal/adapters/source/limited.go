package source

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/energywebfoundation/ew-link-bond/internal/domain"
	"github.com/energywebfoundation/ew-link-bond/internal/ports"
)

// RateLimit caps how often a device or API is queried.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Limited delays reads so a source is never polled faster than its limit,
// which matters when the task interval is 0 or several streams share one API.
type Limited struct {
	next    ports.Source
	limiter *rate.Limiter
}

// NewLimited wraps next. A non-positive RPS disables limiting.
func NewLimited(next ports.Source, rl RateLimit) ports.Source {
	if rl.RPS <= 0 {
		return next
	}
	burst := rl.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(rl.RPS), burst)}
}

func (l *Limited) Name() string { return l.next.Name() }

func (l *Limited) ReadLatest(ctx context.Context) (domain.Reading, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return domain.Reading{}, fmt.Errorf("%s: rate limit: %w", l.next.Name(), err)
	}
	return l.next.ReadLatest(ctx)
}

// Close releases the wrapped source when it holds a connection.
func (l *Limited) Close(ctx context.Context) error {
	if c, ok := l.next.(interface{ Close(context.Context) error }); ok {
		return c.Close(ctx)
	}
	return nil
}

var _ ports.Source = (*Limited)(nil)
