package bond

import (
	"context"

	base "github.com/energywebfoundation/ew-link-bond/pkg/bond"
)

// Re-exported errors and constants for convenience.
var (
	ErrInvalidConfig       = base.ErrInvalidConfig
	ErrChannelLedgerClosed = base.ErrChannelLedgerClosed
	ErrChainBroken         = base.ErrChainBroken
)

const NoHistory = base.NoHistory

// Type aliases so consumers can import github.com/energywebfoundation/ew-link-bond directly.
type (
	Config            = base.Config
	ChainConfig       = base.ChainConfig
	LedgerConfig      = base.LedgerConfig
	RedisConfig       = base.RedisConfig
	BreakerConfig     = base.BreakerConfig
	RetryPolicy       = base.RetryPolicy
	MetricsConfig     = base.MetricsConfig
	LogConfig         = base.LogConfig
	StreamConfig      = base.StreamConfig
	SourceConfig      = base.SourceConfig
	HTTPSourceConfig  = base.HTTPSourceConfig
	OPCUASourceConfig = base.OPCUASourceConfig
	RateLimit         = base.RateLimit
	Flow              = base.Flow
	FlowOption        = base.FlowOption
	StreamInOption    = base.StreamInOption
	StreamOutOption   = base.StreamOutOption
	Runtime           = base.Runtime
	RuntimeOption     = base.RuntimeOption
	Report            = base.Report
	TaskReport        = base.TaskReport
	TaskState         = base.TaskState
	TaskEvent         = base.TaskEvent
	Reading           = base.Reading
	Record            = base.Record
	Receipt           = base.Receipt
	RecordHandler     = base.RecordHandler
	Source            = base.Source
	Ledger            = base.Ledger
	ChainLog          = base.ChainLog
	ChainHead         = base.ChainHead
	EventQueue        = base.EventQueue
	Observability     = base.Observability
	Field             = base.Field
	StreamStatus      = base.StreamStatus
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(raw []byte) (*Config, error) {
	return base.ParseConfig(raw)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInSource(stream string, src Source) StreamInOption {
	return base.StreamInSource(stream, src)
}

func StreamInEmission(stream string, src Source) StreamInOption {
	return base.StreamInEmission(stream, src)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutLedger(l Ledger) StreamOutOption {
	return base.StreamOutLedger(l)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

func StreamOutCallback(name string, fn RecordHandler) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func Run(ctx context.Context, cfg *Config, opts ...RuntimeOption) (Report, error) {
	rt, err := base.NewRuntime(cfg, opts...)
	if err != nil {
		return Report{}, err
	}
	return rt.Run(ctx)
}

func WithLedger(l Ledger) RuntimeOption {
	return base.WithLedger(l)
}

func WithSource(stream string, src Source) RuntimeOption {
	return base.WithSource(stream, src)
}

func WithEmissionSource(stream string, src Source) RuntimeOption {
	return base.WithEmissionSource(stream, src)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithEventQueue(q EventQueue) RuntimeOption {
	return base.WithEventQueue(q)
}

func WithoutStatusServer() RuntimeOption {
	return base.WithoutStatusServer()
}

// Ledger adapters.
func NewCallbackLedger(name string, fn RecordHandler) Ledger {
	return base.NewCallbackLedger(name, fn)
}

func NewChannelLedger(name string, buffer int) (Ledger, <-chan Record, func()) {
	return base.NewChannelLedger(name, buffer)
}

// Chain inspection.
func VerifyChain(dir, stream, codec string) (int, error) {
	return base.VerifyChain(dir, stream, codec)
}

func ReadChainHead(dir, stream, codec string) (ChainHead, error) {
	return base.ReadChainHead(dir, stream, codec)
}

func ReadChain(dir, stream, codec string, limit int) ([]Record, error) {
	return base.ReadChain(dir, stream, codec, limit)
}
