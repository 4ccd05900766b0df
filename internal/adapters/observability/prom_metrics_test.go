package observability

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/energywebfoundation/ew-link-bond/internal/ports"
)

func withTestRegistry(t *testing.T) {
	t.Helper()
	origReg := prometheus.DefaultRegisterer
	origGatherer := prometheus.DefaultGatherer
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = origReg
		prometheus.DefaultGatherer = origGatherer
	})

	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg
}

func TestPromObsMetrics(t *testing.T) {
	withTestRegistry(t)

	obs := NewPromObs(zerolog.Nop())

	obs.IncCounter(RecordsAppendedTotal, 5)
	if got := testutil.ToFloat64(obs.counters[RecordsAppendedTotal]); got != 5 {
		t.Fatalf("expected appended counter 5, got %f", got)
	}

	obs.IncCounter(SourceDownTotal, 2)
	if got := testutil.ToFloat64(obs.counters[SourceDownTotal]); got != 2 {
		t.Fatalf("expected source down counter 2, got %f", got)
	}

	obs.SetGauge(LedgerAttemptsLast, 42)
	if got := testutil.ToFloat64(obs.gauges[LedgerAttemptsLast]); got != 42 {
		t.Fatalf("expected attempts gauge 42, got %f", got)
	}

	obs.ObserveLatency(LedgerSubmitSeconds, 0.5)
	hCollector := obs.histos[LedgerSubmitSeconds].(prometheus.Collector)
	if samples := testutil.CollectAndCount(hCollector); samples != 1 {
		t.Fatalf("expected latency histogram to record 1 sample, got %d", samples)
	}

	obs.IncCounter("unknown_metric", 1)
}

func TestPromObsLogging(t *testing.T) {
	withTestRegistry(t)

	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{Level: "debug", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	obs := NewPromObs(logger)

	obs.LogWarn("source_down", ports.Field{Key: "stream", Value: "meterA"})
	obs.LogCritical("ledger_unavailable", errors.New("timeout"), ports.Field{Key: "stream", Value: "meterA"})

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `"stream":"meterA"`) {
		t.Fatalf("expected warn entry with stream field, got %s", out)
	}
	if !strings.Contains(out, `"critical":true`) || !strings.Contains(out, `"error":"timeout"`) {
		t.Fatalf("expected critical entry, got %s", out)
	}
	if got := testutil.ToFloat64(obs.counters[CriticalTotal]); got != 1 {
		t.Fatalf("expected critical counter 1, got %f", got)
	}
}

func TestNewLoggerRejectsBadConfig(t *testing.T) {
	if _, err := NewLogger(LogConfig{Level: "loud"}, nil); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := NewLogger(LogConfig{Format: "xml"}, nil); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
