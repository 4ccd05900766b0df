package ports

import (
	"context"

	"github.com/energywebfoundation/ew-link-bond/internal/domain"
)

// Source reads the latest value from a meter or emissions service. An
// implementation may either return an error or a reading flagged
// IsSourceDown; callers treat both as the source being down.
type Source interface {
	ReadLatest(ctx context.Context) (domain.Reading, error)
	Name() string
}
