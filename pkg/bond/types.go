package bond

import (
	"github.com/energywebfoundation/ew-link-bond/internal/app/scheduler"
	"github.com/energywebfoundation/ew-link-bond/internal/domain"
	"github.com/energywebfoundation/ew-link-bond/internal/ports"
)

// NoHistory is the previous_hash of the first record in a stream.
const NoHistory = domain.NoHistory

// Reading is one sample returned by a Source.
type Reading = domain.Reading

// Record is what every cycle appends to the local chain and submits to the
// ledger.
type Record = domain.Record

// Receipt is returned by a Ledger for a single submission attempt.
type Receipt = domain.Receipt

// Source reads the latest value from a meter or emission service.
type Source = ports.Source

// Ledger is the external append-only system of record.
type Ledger = ports.Ledger

// ChainLog is the local hash-linked record store of one stream.
type ChainLog = ports.ChainLog

// Observability receives logs and metrics from the runtime.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// TaskState is the lifecycle state of a stream task.
type TaskState = domain.TaskState

// TaskEvent records one task state change.
type TaskEvent = domain.TaskEvent

// Report summarizes a finished run.
type Report = scheduler.Report

// TaskReport is the final status of one stream task.
type TaskReport = scheduler.TaskReport

// EnergyUnit names a unit accepted by the sources.
type EnergyUnit = domain.EnergyUnit

// EventQueue buffers task lifecycle events.
type EventQueue = ports.EventQueue
