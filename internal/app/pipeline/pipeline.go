package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/energywebfoundation/ew-link-bond/internal/domain"
	"github.com/energywebfoundation/ew-link-bond/internal/ports"
)

const (
	DefaultMaxAttempts = 300
	DefaultRetryPause  = 5 * time.Second
)

var (
	ErrSourceUnavailable = errors.New("pipeline: source unavailable")
	ErrOffsetLookup      = errors.New("pipeline: offset lookup failed")
	ErrLedgerUnavailable = errors.New("pipeline: ledger unavailable")
	ErrChainAppend       = errors.New("pipeline: chain append failed")
	ErrInvalidReading    = errors.New("pipeline: invalid reading")
)

var errPending = errors.New("submission not confirmed")

// Config holds the per-stream settings of a pipeline.
type Config struct {
	Stream string
	// Accumulated is true when the meter reports a running total. Otherwise
	// the ledger's last recorded value is added to every reading.
	Accumulated bool
	Retry       ports.RetryPolicy
}

// Pipeline runs the measure, persist, publish cycle of one stream.
type Pipeline struct {
	stream      string
	accumulated bool
	retry       ports.RetryPolicy

	chain    ports.ChainLog
	energy   ports.Source
	emission ports.Source
	ledger   ports.Ledger
	obs      ports.Observability

	newCycleID func() string
	now        func() time.Time
}

type Option func(*Pipeline)

// WithEmissionSource adds a carbon-intensity source (kg CO2 per Wh). Records
// then carry co2_saved.
func WithEmissionSource(src ports.Source) Option {
	return func(p *Pipeline) { p.emission = src }
}

func WithObservability(obs ports.Observability) Option {
	return func(p *Pipeline) {
		if obs != nil {
			p.obs = obs
		}
	}
}

// WithCycleIDs overrides the cycle id generator.
func WithCycleIDs(fn func() string) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.newCycleID = fn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

func New(cfg Config, chain ports.ChainLog, energy ports.Source, ledger ports.Ledger, opts ...Option) (*Pipeline, error) {
	if cfg.Stream == "" {
		return nil, fmt.Errorf("pipeline: stream is required")
	}
	if chain == nil || energy == nil || ledger == nil {
		return nil, fmt.Errorf("pipeline %s: chain, energy source and ledger are required", cfg.Stream)
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Retry.Pause < 0 {
		cfg.Retry.Pause = 0
	}

	p := &Pipeline{
		stream:      cfg.Stream,
		accumulated: cfg.Accumulated,
		retry:       cfg.Retry,
		chain:       chain,
		energy:      energy,
		ledger:      ledger,
		obs:         nopObs{},
		newCycleID:  uuid.NewString,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

func (p *Pipeline) Stream() string { return p.stream }

// Outcome describes one completed cycle.
type Outcome struct {
	Record       domain.Record
	Hash         string
	Confirmation domain.Confirmation
}

// RunCycle performs one cycle. The record is appended to the chain before
// the ledger is tried, so an ErrLedgerUnavailable outcome still carries a
// persisted Record and Hash. Any error before the append means nothing was
// written.
func (p *Pipeline) RunCycle(ctx context.Context) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	p.obs.IncCounter("bond_cycles_total", 1)
	cycleID := p.newCycleID()
	fields := []ports.Field{{Key: "stream", Value: p.stream}, {Key: "cycle_id", Value: cycleID}}

	prevHash, err := p.chain.LastHash()
	if err != nil {
		err = fmt.Errorf("%w: read last hash: %v", ErrChainAppend, err)
		p.obs.LogCritical("chain_read_failed", err, fields...)
		return Outcome{}, err
	}

	energy := p.read(ctx, p.energy, fields)
	var emission *domain.Reading
	if p.emission != nil {
		r := p.read(ctx, p.emission, fields)
		emission = &r
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	rec, err := p.buildRecord(ctx, cycleID, prevHash, energy, emission)
	if err != nil {
		if errors.Is(err, ErrOffsetLookup) {
			p.obs.LogError("offset_lookup_failed", err, fields...)
		} else if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			p.obs.LogError("cycle_aborted", err, fields...)
		}
		return Outcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	hash, err := p.chain.Append(&rec)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrChainAppend, err)
		p.obs.LogCritical("chain_append_failed", err, fields...)
		return Outcome{Record: rec}, err
	}
	p.obs.IncCounter("bond_records_appended_total", 1)
	out := Outcome{Record: rec, Hash: hash}
	if err := ctx.Err(); err != nil {
		p.obs.LogWarn("cycle_interrupted", append(fields,
			ports.Field{Key: "hash", Value: hash},
			ports.Field{Key: "attempts", Value: 0})...)
		return out, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}

	start := p.now()
	conf, err := p.submit(ctx, &rec)
	out.Confirmation = conf
	p.obs.ObserveLatency("bond_ledger_submit_seconds", p.now().Sub(start).Seconds())
	p.obs.SetGauge("bond_ledger_attempts_last", float64(conf.Attempts))

	fields = append(fields,
		ports.Field{Key: "value", Value: rec.Value},
		ports.Field{Key: "hash", Value: hash},
		ports.Field{Key: "attempts", Value: conf.Attempts},
	)
	if rec.CO2Saved != nil {
		fields = append(fields, ports.Field{Key: "co2_saved", Value: *rec.CO2Saved})
	}
	if err != nil {
		// cancelled mid-submit; the record stays chained
		if ctx.Err() != nil {
			p.obs.LogWarn("cycle_interrupted", fields...)
			return out, err
		}
		p.obs.IncCounter("bond_ledger_failed_total", 1)
		p.obs.LogCritical("ledger_unavailable", err, fields...)
		return out, err
	}

	p.obs.IncCounter("bond_ledger_confirmed_total", 1)
	fields = append(fields, ports.Field{Key: "block", Value: conf.BlockReference})
	if rec.IsMeterDown || rec.IsCO2Down {
		p.obs.LogWarn("cycle_recorded_degraded", append(fields,
			ports.Field{Key: "is_meter_down", Value: rec.IsMeterDown},
			ports.Field{Key: "is_co2_down", Value: rec.IsCO2Down})...)
	} else {
		p.obs.LogInfo("cycle_recorded", fields...)
	}
	return out, nil
}

// read never fails: errors, panics and down-flagged readings all become a
// down reading with a zero value.
func (p *Pipeline) read(ctx context.Context, src ports.Source, fields []ports.Field) domain.Reading {
	r, err := safeRead(ctx, src)
	if err == nil && !r.IsSourceDown {
		if r.CapturedAt.IsZero() {
			r.CapturedAt = p.now()
		}
		return r
	}
	if err == nil {
		err = ErrSourceUnavailable
	}
	if ctx.Err() == nil {
		p.obs.IncCounter("bond_source_down_total", 1)
		p.obs.LogWarn("source_down", append(fields,
			ports.Field{Key: "source", Value: src.Name()},
			ports.Field{Key: "error", Value: err.Error()})...)
	}
	return domain.DownReading(p.now(), r.Raw)
}

func safeRead(ctx context.Context, src ports.Source) (r domain.Reading, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic: %v", ErrSourceUnavailable, rec)
		}
	}()
	r, err = src.ReadLatest(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return r, err
}

func (p *Pipeline) buildRecord(ctx context.Context, cycleID, prevHash string, energy domain.Reading, emission *domain.Reading) (domain.Record, error) {
	if err := checkValue(energy.Value); err != nil {
		return domain.Record{}, fmt.Errorf("%w: energy: %v", ErrInvalidReading, err)
	}
	wh := energy.Value

	if !p.accumulated {
		last, err := p.ledger.LastRecordedValue(ctx, p.stream)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return domain.Record{}, ctxErr
			}
			return domain.Record{}, fmt.Errorf("%w: %v", ErrOffsetLookup, err)
		}
		if last < 0 {
			return domain.Record{}, fmt.Errorf("%w: negative ledger value %d", ErrOffsetLookup, last)
		}
		wh += float64(last)
	}
	if wh >= math.MaxInt64 {
		return domain.Record{}, fmt.Errorf("%w: value %g overflows", ErrInvalidReading, wh)
	}

	rec := domain.Record{
		Stream:       p.stream,
		CycleID:      cycleID,
		Value:        int64(wh),
		PreviousHash: prevHash,
		IsMeterDown:  energy.IsSourceDown,
		CapturedAt:   energy.CapturedAt.Unix(),
		Raw:          energy.Raw,
	}
	if !energy.SourceTimestamp.IsZero() {
		rec.SourceTimestamp = energy.SourceTimestamp.Unix()
	}

	if emission != nil {
		if err := checkValue(emission.Value); err != nil {
			return domain.Record{}, fmt.Errorf("%w: emission: %v", ErrInvalidReading, err)
		}
		co2 := CO2Saved(wh, emission.Value)
		rec.CO2Saved = &co2
		rec.IsCO2Down = emission.IsSourceDown
	}
	return rec, nil
}

// CO2Saved returns grams of CO2 avoided for wh watt-hours at kgPerWh,
// truncated toward zero.
func CO2Saved(wh, kgPerWh float64) int64 {
	return int64(wh * kgPerWh * 1e3)
}

func checkValue(v float64) error {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return fmt.Errorf("non-finite value %v", v)
	case v < 0:
		return fmt.Errorf("negative value %v", v)
	}
	return nil
}

// submit tries the ledger up to MaxAttempts times, pausing between attempts,
// and stops at the first confirmed receipt.
func (p *Pipeline) submit(ctx context.Context, rec *domain.Record) (domain.Confirmation, error) {
	var lastErr error
	for attempt := 1; attempt <= p.retry.MaxAttempts; attempt++ {
		receipt, err := p.ledger.Submit(ctx, rec)
		if err == nil && receipt.Confirmed {
			return domain.Confirmation{Succeeded: true, BlockReference: receipt.BlockReference, Attempts: attempt}, nil
		}
		if err == nil {
			err = errPending
		}
		lastErr = err

		if attempt == p.retry.MaxAttempts {
			break
		}
		if err := sleep(ctx, p.retry.Pause); err != nil {
			return domain.Confirmation{Attempts: attempt}, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
		}
	}
	return domain.Confirmation{Attempts: p.retry.MaxAttempts},
		fmt.Errorf("%w after %d attempts: %v", ErrLedgerUnavailable, p.retry.MaxAttempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopObs struct{}

func (nopObs) LogInfo(string, ...ports.Field)            {}
func (nopObs) LogWarn(string, ...ports.Field)            {}
func (nopObs) LogError(string, error, ...ports.Field)    {}
func (nopObs) LogCritical(string, error, ...ports.Field) {}
func (nopObs) IncCounter(string, float64)                {}
func (nopObs) ObserveLatency(string, float64)            {}
func (nopObs) SetGauge(string, float64)                  {}
