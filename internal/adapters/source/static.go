package source

import (
	"context"
	"strconv"
	"time"

	"github.com/energywebfoundation/ew-link-bond/internal/domain"
	"github.com/energywebfoundation/ew-link-bond/internal/ports"
)

// Static always reports the same value. Used for fixed emission factors
// (kg CO2 per Wh) when no carbon API is available.
type Static struct {
	name  string
	value float64
}

func NewStatic(name string, value float64) *Static {
	if name == "" {
		name = "static"
	}
	return &Static{name: name, value: value}
}

func (s *Static) Name() string { return s.name }

func (s *Static) ReadLatest(ctx context.Context) (domain.Reading, error) {
	if err := ctx.Err(); err != nil {
		return domain.Reading{}, err
	}
	return domain.Reading{
		CapturedAt: time.Now(),
		Value:      s.value,
		Raw:        strconv.FormatFloat(s.value, 'g', -1, 64),
	}, nil
}

var _ ports.Source = (*Static)(nil)
