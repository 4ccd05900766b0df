package bond

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/energywebfoundation/ew-link-bond/internal/adapters/chainlog"
	"github.com/energywebfoundation/ew-link-bond/internal/adapters/observability"
	"github.com/energywebfoundation/ew-link-bond/internal/app/config"
	"github.com/energywebfoundation/ew-link-bond/internal/app/pipeline"
	"github.com/energywebfoundation/ew-link-bond/internal/app/registry"
	"github.com/energywebfoundation/ew-link-bond/internal/app/scheduler"
	"github.com/energywebfoundation/ew-link-bond/internal/app/task"
	"github.com/energywebfoundation/ew-link-bond/internal/ports"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	ledger        Ledger
	energy        map[string]Source
	emission      map[string]Source
	observability Observability
	logger        *zerolog.Logger
	registry      *registry.Registry
	events        EventQueue
	noStatus      bool
}

// WithLedger injects a ledger client so records can be sent to any system of
// record. The configured ledger driver is ignored.
func WithLedger(l Ledger) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.ledger = l
	}
}

// WithSource injects the energy source of one stream, replacing the
// configured kind.
func WithSource(stream string, src Source) RuntimeOption {
	return func(o *runtimeOverrides) {
		if o.energy == nil {
			o.energy = make(map[string]Source)
		}
		o.energy[stream] = src
	}
}

// WithEmissionSource injects the carbon-intensity source of one stream.
func WithEmissionSource(stream string, src Source) RuntimeOption {
	return func(o *runtimeOverrides) {
		if o.emission == nil {
			o.emission = make(map[string]Source)
		}
		o.emission[stream] = src
	}
}

// WithObservability plugs in a custom observability backend. The default
// backend registers its collectors with the global Prometheus registry, so a
// process building more than one Runtime must pass its own.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithLogger sets the logger used by the default Prometheus observability.
func WithLogger(l zerolog.Logger) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.logger = &l
	}
}

// WithRegistry replaces the built-in source and ledger constructors.
func WithRegistry(r *registry.Registry) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.registry = r
	}
}

// WithEventQueue replaces the bounded in-memory task event queue.
func WithEventQueue(q EventQueue) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.events = q
	}
}

// WithoutStatusServer keeps Run from serving /metrics and the status
// endpoints, for processes that expose their own.
func WithoutStatusServer() RuntimeOption {
	return func(o *runtimeOverrides) {
		o.noStatus = true
	}
}

// Runtime wires one chain, pipeline and task per configured stream and runs
// them under a scheduler.
type Runtime struct {
	cfg     Config
	obs     ports.Observability
	ledger  ports.Ledger
	chains  map[string]*chainlog.FileChain
	tasks   map[string]*task.Task
	streams []string
	sched   *scheduler.Scheduler

	serveStatus bool
	statusSrv   *http.Server
	statusAddr  string

	closeLedger func() error
	closers     []func(context.Context) error
	releaseOnce sync.Once
	releaseErr  error
}

// NewRuntime opens every stream's chain and builds its sources from the
// registry. Options override any dependency.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	c := *cfg
	c.Streams = append([]StreamConfig(nil), cfg.Streams...)
	c.ApplyDefaults()
	if err := checkStreams(c.Streams); err != nil {
		return nil, err
	}

	obs := overrides.observability
	if obs == nil {
		logger, err := resolveLogger(c.Log, overrides.logger)
		if err != nil {
			return nil, err
		}
		obs = observability.NewPromObs(logger)
	}

	reg := overrides.registry
	if reg == nil {
		reg = registry.Default()
	}

	rt := &Runtime{
		cfg:         c,
		obs:         obs,
		chains:      make(map[string]*chainlog.FileChain, len(c.Streams)),
		tasks:       make(map[string]*task.Task, len(c.Streams)),
		serveStatus: !overrides.noStatus && c.Metrics.Addr != "",
	}

	if overrides.ledger != nil {
		rt.ledger = overrides.ledger
	} else {
		l, closeFn, err := reg.Ledger(c.Ledger)
		if err != nil {
			return nil, err
		}
		rt.ledger, rt.closeLedger = l, closeFn
	}

	schedOpts := []scheduler.Option{scheduler.WithObservability(obs)}
	if overrides.events != nil {
		schedOpts = append(schedOpts, scheduler.WithEventQueue(overrides.events))
	}
	rt.sched = scheduler.New(schedOpts...)

	codec, err := chainlog.CodecByName(c.Chain.Codec)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	for _, s := range c.Streams {
		if err := rt.addStream(s, codec, reg, overrides); err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("stream %s: %w", s.ID, err)
		}
	}

	rt.sched.OnShutdown("release", rt.release)
	return rt, nil
}

func (r *Runtime) addStream(s StreamConfig, codec chainlog.Codec, reg *registry.Registry, o runtimeOverrides) error {
	chain, err := chainlog.Open(r.cfg.Chain.Dir, s.ID, chainlog.WithCodec(codec))
	if err != nil {
		return err
	}

	energy, ok := o.energy[s.ID]
	if !ok || energy == nil {
		if energy, err = reg.Source(s.ID+"-energy", s.Energy); err != nil {
			return err
		}
		r.trackCloser(energy)
	}

	var emission Source
	if src, ok := o.emission[s.ID]; ok && src != nil {
		emission = src
	} else if s.Emission != nil {
		if emission, err = reg.Source(s.ID+"-emission", *s.Emission); err != nil {
			return err
		}
		r.trackCloser(emission)
	}

	opts := []pipeline.Option{pipeline.WithObservability(r.obs)}
	if emission != nil {
		opts = append(opts, pipeline.WithEmissionSource(emission))
	}
	p, err := pipeline.New(pipeline.Config{
		Stream:      s.ID,
		Accumulated: s.Accumulated,
		Retry:       r.cfg.Ledger.Retry,
	}, chain, energy, r.ledger, opts...)
	if err != nil {
		return err
	}

	policy, err := task.ParseErrorPolicy(s.OnError)
	if err != nil {
		return err
	}
	t, err := task.New(task.Config{
		Name:     s.ID,
		Stream:   s.ID,
		Interval: s.Interval,
		Eager:    s.Eager,
		RunOnce:  s.RunOnce,
		OnError:  policy,
	}, p)
	if err != nil {
		return err
	}
	if err := r.sched.Register(t); err != nil {
		return err
	}

	r.chains[s.ID] = chain
	r.tasks[s.ID] = t
	r.streams = append(r.streams, s.ID)
	return nil
}

func (r *Runtime) trackCloser(src Source) {
	if c, ok := src.(interface{ Close(context.Context) error }); ok {
		r.closers = append(r.closers, c.Close)
	}
}

// Run starts the status server, prepares the ledger storage and blocks until
// every stream task has stopped. Cancelling ctx stops the tasks at their next
// safe point.
func (r *Runtime) Run(ctx context.Context) (Report, error) {
	if r.serveStatus {
		if err := r.startStatus(); err != nil {
			_ = r.Close()
			return Report{}, err
		}
	}

	if ok, err := registry.PrepareLedger(ctx, r.ledger); err != nil {
		r.obs.LogWarn("ledger_schema_failed",
			ports.Field{Key: "ledger", Value: r.ledger.Name()},
			ports.Field{Key: "error", Value: err.Error()})
	} else if ok {
		r.obs.LogInfo("ledger_schema_ready", ports.Field{Key: "ledger", Value: r.ledger.Name()})
	}

	return r.sched.Run(ctx)
}

// Close releases ledger connections, sources and the status server. Run does
// this on its own; Close is for runtimes that were built but never run.
func (r *Runtime) Close() error {
	return r.release(context.Background())
}

func (r *Runtime) release(ctx context.Context) error {
	r.releaseOnce.Do(func() {
		var errs []error

		if r.statusSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := r.statusSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs = append(errs, err)
			}
			cancel()
		}

		for _, closeFn := range r.closers {
			if err := closeFn(ctx); err != nil {
				errs = append(errs, err)
			}
		}

		if r.closeLedger != nil {
			if err := r.closeLedger(); err != nil {
				errs = append(errs, err)
			}
		}

		r.releaseErr = errors.Join(errs...)
	})
	return r.releaseErr
}

// Streams lists the configured stream ids in configuration order.
func (r *Runtime) Streams() []string {
	out := make([]string, len(r.streams))
	copy(out, r.streams)
	return out
}

// Chain returns the local chain of a stream.
func (r *Runtime) Chain(stream string) (ChainLog, bool) {
	c, ok := r.chains[stream]
	if !ok {
		return nil, false
	}
	return c, true
}

// Ledger returns the ledger client records are submitted to.
func (r *Runtime) Ledger() Ledger { return r.ledger }

// Events exposes task lifecycle events.
func (r *Runtime) Events() EventQueue { return r.sched.Events() }

// StatusAddr is the address the status server listens on once Run started
// it, or "" otherwise.
func (r *Runtime) StatusAddr() string { return r.statusAddr }

func (r *Runtime) startStatus() error {
	ln, err := net.Listen("tcp", r.cfg.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("status server: %w", err)
	}
	r.statusAddr = ln.Addr().String()
	r.statusSrv = &http.Server{
		Handler:           r.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := r.statusSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.obs.LogError("status_server_exited", err)
		}
	}()
	r.obs.LogInfo("status_server_started", ports.Field{Key: "addr", Value: r.statusAddr})
	return nil
}

func resolveLogger(cfg LogConfig, override *zerolog.Logger) (zerolog.Logger, error) {
	if override != nil {
		return *override, nil
	}
	return observability.NewLogger(cfg, os.Stderr)
}

func checkStreams(streams []StreamConfig) error {
	if len(streams) == 0 {
		return fmt.Errorf("%w: at least one stream is required", config.ErrInvalid)
	}
	seen := make(map[string]struct{}, len(streams))
	for _, s := range streams {
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("%w: stream %q is configured twice", config.ErrInvalid, s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}
