package ports

import "time"

// RetryPolicy bounds the ledger submission loop of a cycle.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Pause       time.Duration `yaml:"retry_pause"`
}
