package bond

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// Flow builds a Runtime in three steps: Conf loads the streams, StreamIN
// replaces the meters and carbon sources of individual streams, StreamOUT
// picks where records go and checks that every override names a configured
// stream.
type Flow struct {
	cfg *Config

	energy   map[string]Source
	emission map[string]Source
	obs      Observability
	ledger   Ledger
	extra    []RuntimeOption
}

// FlowOption adjusts a Flow while it is created.
type FlowOption func(*Flow)

// StreamInOption overrides the reading side of one stream or of all of them.
type StreamInOption func(*Flow)

// StreamOutOption overrides where records are published.
type StreamOutOption func(*Flow)

// Conf loads YAML from disk and returns a Flow for its streams.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig returns a Flow for an in-memory Config.
func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	f := &Flow{
		cfg:      cfg,
		energy:   make(map[string]Source),
		emission: make(map[string]Source),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// Config returns the configuration the Flow was built from. Changes made to
// it before StreamOUT are honoured.
func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

// Options passes RuntimeOption values straight to the Runtime.
func (f *Flow) Options(opts ...RuntimeOption) *Flow {
	if f == nil {
		return nil
	}
	f.extra = append(f.extra, opts...)
	return f
}

// StreamIN applies reading-side overrides. A later override of the same
// stream wins.
func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	if f == nil {
		return nil
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// StreamOUT applies publishing overrides and builds the Runtime. Sources
// injected for a stream that is not configured fail with ErrInvalidConfig.
func (f *Flow) StreamOUT(opts ...StreamOutOption) (*Runtime, error) {
	if f == nil {
		return nil, errors.New("flow is nil")
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	runtimeOpts, err := f.runtimeOptions()
	if err != nil {
		return nil, err
	}
	return NewRuntime(f.cfg, runtimeOpts...)
}

// Run builds the Runtime with StreamOUT and runs it until every stream stops
// or ctx is cancelled.
func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) (Report, error) {
	rt, err := f.StreamOUT(opts...)
	if err != nil {
		return Report{}, err
	}
	return rt.Run(ctx)
}

func (f *Flow) runtimeOptions() ([]RuntimeOption, error) {
	known := make(map[string]bool, len(f.cfg.Streams))
	for _, s := range f.cfg.Streams {
		known[s.ID] = true
	}

	var opts []RuntimeOption
	for _, set := range []struct {
		role    string
		sources map[string]Source
		with    func(string, Source) RuntimeOption
	}{
		{"energy", f.energy, WithSource},
		{"emission", f.emission, WithEmissionSource},
	} {
		ids := make([]string, 0, len(set.sources))
		for id := range set.sources {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			if !known[id] {
				return nil, fmt.Errorf("%w: %s source given for unknown stream %q", ErrInvalidConfig, set.role, id)
			}
			opts = append(opts, set.with(id, set.sources[id]))
		}
	}
	if f.obs != nil {
		opts = append(opts, WithObservability(f.obs))
	}
	if f.ledger != nil {
		opts = append(opts, WithLedger(f.ledger))
	}
	return append(opts, f.extra...), nil
}

// WithFlowOptions passes RuntimeOption values to the Runtime from Conf.
func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return func(f *Flow) {
		f.extra = append(f.extra, opts...)
	}
}

// StreamInSource replaces the configured energy source of stream.
func StreamInSource(stream string, src Source) StreamInOption {
	return func(f *Flow) {
		if src != nil {
			f.energy[stream] = src
		}
	}
}

// StreamInEmission replaces the configured carbon-intensity source of stream.
func StreamInEmission(stream string, src Source) StreamInOption {
	return func(f *Flow) {
		if src != nil {
			f.emission[stream] = src
		}
	}
}

// StreamInObservability replaces the Prometheus and zerolog backend.
func StreamInObservability(obs Observability) StreamInOption {
	return func(f *Flow) {
		if obs != nil {
			f.obs = obs
		}
	}
}

// StreamOutLedger publishes every stream to l instead of the configured driver.
func StreamOutLedger(l Ledger) StreamOutOption {
	return func(f *Flow) {
		if l != nil {
			f.ledger = l
		}
	}
}

// StreamOutObservability is StreamInObservability for callers that configure
// the backend together with the ledger.
func StreamOutObservability(obs Observability) StreamOutOption {
	return func(f *Flow) {
		if obs != nil {
			f.obs = obs
		}
	}
}

// StreamOutCallback publishes every record to fn.
func StreamOutCallback(name string, fn RecordHandler) StreamOutOption {
	return func(f *Flow) {
		f.ledger = NewCallbackLedger(name, fn)
	}
}
