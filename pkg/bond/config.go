package bond

import (
	"github.com/energywebfoundation/ew-link-bond/internal/adapters/ledger"
	"github.com/energywebfoundation/ew-link-bond/internal/adapters/observability"
	"github.com/energywebfoundation/ew-link-bond/internal/adapters/source"
	"github.com/energywebfoundation/ew-link-bond/internal/app/config"
	"github.com/energywebfoundation/ew-link-bond/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// ChainConfig locates the per-stream chains on disk.
	ChainConfig = config.ChainConfig
	// LedgerConfig selects and tunes the ledger client.
	LedgerConfig = config.LedgerConfig
	// RedisConfig configures the redis ledger driver.
	RedisConfig = config.RedisConfig
	// BreakerConfig configures the circuit breaker in front of the ledger.
	BreakerConfig = ledger.BreakerConfig
	// RetryPolicy bounds ledger submission attempts per cycle.
	RetryPolicy = ports.RetryPolicy
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// LogConfig configures the process logger.
	LogConfig = observability.LogConfig
	// StreamConfig binds one stream to its sources and schedule.
	StreamConfig = config.StreamConfig
	// SourceConfig selects a source implementation by kind.
	SourceConfig = config.SourceConfig
	// HTTPSourceConfig configures a JSON-over-HTTP source.
	HTTPSourceConfig = source.HTTPConfig
	// OPCUASourceConfig configures an OPC UA meter.
	OPCUASourceConfig = source.OPCUAConfig
	// RateLimit caps how often a source is polled.
	RateLimit = source.RateLimit
)

// ErrInvalidConfig wraps every configuration error.
var ErrInvalidConfig = config.ErrInvalid

// LoadConfig loads YAML from disk, checks it against the schema and applies
// defaults.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig decodes YAML from memory, applies defaults and validates it.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}
