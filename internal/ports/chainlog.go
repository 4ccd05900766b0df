package ports

import "github.com/energywebfoundation/ew-link-bond/internal/domain"

// ChainLog is the local hash-linked audit trail of one stream.
type ChainLog interface {
	Append(payload any) (string, error)
	LastHash() (string, error)
	Head() (domain.ChainEntry, bool)
}
