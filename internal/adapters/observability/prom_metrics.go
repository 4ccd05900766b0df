package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/energywebfoundation/ew-link-bond/internal/ports"
)

const (
	CyclesTotal          = "bond_cycles_total"
	RecordsAppendedTotal = "bond_records_appended_total"
	LedgerConfirmedTotal = "bond_ledger_confirmed_total"
	LedgerFailedTotal    = "bond_ledger_failed_total"
	SourceDownTotal      = "bond_source_down_total"
	CriticalTotal        = "bond_critical_total"
	LedgerSubmitSeconds  = "bond_ledger_submit_seconds"
	TasksRunning         = "bond_tasks_running"
	LedgerAttemptsLast   = "bond_ledger_attempts_last"
	EventsDroppedTotal   = "bond_events_dropped_total"
)

// PromObs reports through zerolog and keeps Prometheus collectors for the
// pipeline counters.
type PromObs struct {
	log      zerolog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

func NewPromObs(logger zerolog.Logger) *PromObs {
	cycles := prometheus.NewCounter(prometheus.CounterOpts{
		Name: CyclesTotal,
		Help: "Pipeline cycles started.",
	})
	appended := prometheus.NewCounter(prometheus.CounterOpts{
		Name: RecordsAppendedTotal,
		Help: "Records appended to local chains.",
	})
	confirmed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: LedgerConfirmedTotal,
		Help: "Records confirmed by the ledger.",
	})
	failed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: LedgerFailedTotal,
		Help: "Records whose ledger submission exhausted its retries.",
	})
	down := prometheus.NewCounter(prometheus.CounterOpts{
		Name: SourceDownTotal,
		Help: "Source reads that were flagged down.",
	})
	critical := prometheus.NewCounter(prometheus.CounterOpts{
		Name: CriticalTotal,
		Help: "Events that need operator attention.",
	})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: EventsDroppedTotal,
		Help: "Task events rejected by a full event queue.",
	})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    LedgerSubmitSeconds,
		Help:    "Time from first ledger attempt to outcome.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})
	running := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: TasksRunning,
		Help: "Tasks currently running.",
	})
	attempts := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: LedgerAttemptsLast,
		Help: "Attempts used by the latest ledger submission.",
	})

	prometheus.MustRegister(cycles, appended, confirmed, failed, down, critical, dropped, latency, running, attempts)

	return &PromObs{
		log: logger,
		counters: map[string]prometheus.Counter{
			CyclesTotal:          cycles,
			RecordsAppendedTotal: appended,
			LedgerConfirmedTotal: confirmed,
			LedgerFailedTotal:    failed,
			SourceDownTotal:      down,
			CriticalTotal:        critical,
			EventsDroppedTotal:   dropped,
		},
		gauges: map[string]prometheus.Gauge{
			TasksRunning:       running,
			LedgerAttemptsLast: attempts,
		},
		histos: map[string]prometheus.Observer{
			LedgerSubmitSeconds: latency,
		},
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	withFields(p.log.Info(), fields).Msg(msg)
}

func (p *PromObs) LogWarn(msg string, fields ...ports.Field) {
	withFields(p.log.Warn(), fields).Msg(msg)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	withFields(p.log.Error().Err(err), fields).Msg(msg)
}

// LogCritical logs at error level tagged critical=true and bumps
// bond_critical_total so alerting can key on either.
func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.IncCounter(CriticalTotal, 1)
	withFields(p.log.Error().Err(err).Bool("critical", true), fields).Msg(msg)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func withFields(ev *zerolog.Event, fields []ports.Field) *zerolog.Event {
	for _, f := range fields {
		ev = ev.Interface(f.Key, f.Value)
	}
	return ev
}

var _ ports.Observability = (*PromObs)(nil)
