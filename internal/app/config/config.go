package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/energywebfoundation/ew-link-bond/internal/adapters/ledger"
	"github.com/energywebfoundation/ew-link-bond/internal/adapters/observability"
	"github.com/energywebfoundation/ew-link-bond/internal/adapters/source"
	"github.com/energywebfoundation/ew-link-bond/internal/app/task"
	"github.com/energywebfoundation/ew-link-bond/internal/ports"
)

// ErrInvalid marks configuration that must be fixed before the process can
// start.
var ErrInvalid = errors.New("config: invalid")

// Source kinds understood by the registry.
const (
	SourceSimulator = "simulator"
	SourceStatic    = "static"
	SourceHTTP      = "http"
	SourceOPCUA     = "opcua"
)

// Ledger drivers understood by the registry.
const (
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
)

type Config struct {
	Chain   ChainConfig             `yaml:"chain"`
	Ledger  LedgerConfig            `yaml:"ledger"`
	Metrics MetricsConfig           `yaml:"metrics"`
	Log     observability.LogConfig `yaml:"log"`
	Streams []StreamConfig          `yaml:"streams"`
}

type ChainConfig struct {
	Dir   string `yaml:"dir"`
	Codec string `yaml:"codec"`
}

type LedgerConfig struct {
	Driver     string               `yaml:"driver"`
	ConnString string               `yaml:"conn_string"`
	Table      string               `yaml:"table"`
	Redis      RedisConfig          `yaml:"redis"`
	Retry      ports.RetryPolicy    `yaml:",inline"`
	Breaker    ledger.BreakerConfig `yaml:"breaker"`

	maxAttemptsSet bool
	pauseSet       bool
}

// UnmarshalYAML notes which retry keys are present so an explicit zero is
// not replaced by a default.
func (l *LedgerConfig) UnmarshalYAML(n *yaml.Node) error {
	type plain LedgerConfig
	if err := n.Decode((*plain)(l)); err != nil {
		return err
	}
	if n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		switch n.Content[i].Value {
		case "max_attempts":
			l.maxAttemptsSet = true
		case "retry_pause":
			l.pauseSet = true
		}
	}
	return nil
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// StreamConfig binds one stream to its sources and polling schedule.
type StreamConfig struct {
	ID          string        `yaml:"id"`
	Interval    time.Duration `yaml:"interval"`
	Eager       bool          `yaml:"eager"`
	RunOnce     bool          `yaml:"run_once"`
	OnError     string        `yaml:"on_error"`
	Accumulated bool          `yaml:"accumulated"`
	Energy      SourceConfig  `yaml:"energy"`
	Emission    *SourceConfig `yaml:"emission"`
}

// SourceConfig selects a source constructor by Kind. Only the block that
// matches Kind is read.
type SourceConfig struct {
	Kind      string             `yaml:"kind"`
	Seed      uint64             `yaml:"seed"`
	Value     float64            `yaml:"value"`
	HTTP      source.HTTPConfig  `yaml:"http"`
	OPCUA     source.OPCUAConfig `yaml:"opcua"`
	RateLimit source.RateLimit   `yaml:"rate_limit"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := ValidateSchema(path, raw); err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Chain.Dir == "" {
		c.Chain.Dir = "./data/chains"
	}
	if c.Chain.Codec == "" {
		c.Chain.Codec = "json"
	}
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = LedgerMemory
	}
	if c.Ledger.Table == "" {
		c.Ledger.Table = "bond_records"
	}
	if c.Ledger.Retry.MaxAttempts == 0 && !c.Ledger.maxAttemptsSet {
		c.Ledger.Retry.MaxAttempts = 300
	}
	// retry_pause: 0s means retry immediately
	if c.Ledger.Retry.Pause == 0 && !c.Ledger.pauseSet {
		c.Ledger.Retry.Pause = 5 * time.Second
	}
	if c.Ledger.Redis.Addr == "" {
		c.Ledger.Redis.Addr = "localhost:6379"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	for i := range c.Streams {
		s := &c.Streams[i]
		if s.OnError == "" {
			s.OnError = "continue"
		}
		s.Energy.applyDefaults()
		if s.Emission != nil {
			s.Emission.applyDefaults()
		}
	}
}

func (s *SourceConfig) applyDefaults() {
	switch s.Kind {
	case SourceHTTP:
		s.HTTP.ApplyDefaults()
	case SourceOPCUA:
		s.OPCUA.ApplyDefaults()
	}
}

func (c *Config) Validate() error {
	switch c.Chain.Codec {
	case "json", "cbor", "msgpack":
	default:
		return fmt.Errorf("%w: chain.codec %q: expected json, cbor or msgpack", ErrInvalid, c.Chain.Codec)
	}

	switch c.Ledger.Driver {
	case LedgerMemory, LedgerRedis:
	case LedgerPostgres:
		if c.Ledger.ConnString == "" {
			return fmt.Errorf("%w: ledger.conn_string is required for postgres", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: ledger.driver %q: expected memory, postgres or redis", ErrInvalid, c.Ledger.Driver)
	}
	if c.Ledger.Retry.MaxAttempts < 1 {
		return fmt.Errorf("%w: ledger.max_attempts must be >= 1, got %d", ErrInvalid, c.Ledger.Retry.MaxAttempts)
	}
	if c.Ledger.Retry.Pause < 0 {
		return fmt.Errorf("%w: ledger.retry_pause must be >= 0", ErrInvalid)
	}
	if c.Metrics.Addr == "" {
		return fmt.Errorf("%w: metrics.addr is required", ErrInvalid)
	}

	if len(c.Streams) == 0 {
		return fmt.Errorf("%w: at least one stream is required", ErrInvalid)
	}
	seen := make(map[string]int, len(c.Streams))
	for i, s := range c.Streams {
		if err := s.validate(); err != nil {
			return fmt.Errorf("%w: streams[%d]: %v", ErrInvalid, i, err)
		}
		// one writer per chain
		if j, dup := seen[s.ID]; dup {
			return fmt.Errorf("%w: streams[%d] and streams[%d] both use stream %q", ErrInvalid, j, i, s.ID)
		}
		seen[s.ID] = i
	}
	return nil
}

func (s StreamConfig) validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.ID == "." || s.ID == ".." || strings.ContainsAny(s.ID, `/\`) {
		return fmt.Errorf("id %q is not a valid directory name", s.ID)
	}
	if s.Interval < 0 {
		return fmt.Errorf("interval must be >= 0, got %s", s.Interval)
	}
	if _, err := task.ParseErrorPolicy(s.OnError); err != nil {
		return err
	}
	if err := s.Energy.validate(); err != nil {
		return fmt.Errorf("energy: %w", err)
	}
	if s.Emission != nil {
		if err := s.Emission.validate(); err != nil {
			return fmt.Errorf("emission: %w", err)
		}
	}
	return nil
}

func (s SourceConfig) validate() error {
	if s.RateLimit.RPS < 0 || s.RateLimit.Burst < 0 {
		return errors.New("rate_limit values must be >= 0")
	}
	switch s.Kind {
	case SourceSimulator:
		return nil
	case SourceStatic:
		if s.Value < 0 {
			return fmt.Errorf("static value must be >= 0, got %v", s.Value)
		}
		return nil
	case SourceHTTP:
		return s.HTTP.Validate()
	case SourceOPCUA:
		return s.OPCUA.Validate()
	case "":
		return errors.New("kind is required")
	default:
		return fmt.Errorf("unknown source kind %q", s.Kind)
	}
}

// Stream returns the configuration of one stream.
func (c *Config) Stream(id string) (StreamConfig, bool) {
	for _, s := range c.Streams {
		if s.ID == id {
			return s, true
		}
	}
	return StreamConfig{}, false
}
