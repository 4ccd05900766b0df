package pipeline

import (
	"context"
	"errors"

	"github.com/energywebfoundation/ew-link-bond/internal/ports"
)

// Prepare logs the chain position the stream resumes from.
func (p *Pipeline) Prepare(ctx context.Context) error {
	hash, err := p.chain.LastHash()
	if err != nil {
		return err
	}
	fields := []ports.Field{
		{Key: "stream", Value: p.stream},
		{Key: "last_hash", Value: hash},
		{Key: "energy_source", Value: p.energy.Name()},
		{Key: "ledger", Value: p.ledger.Name()},
	}
	if head, ok := p.chain.Head(); ok {
		fields = append(fields, ports.Field{Key: "entries", Value: head.Seq})
	}
	p.obs.LogInfo("pipeline_ready", fields...)
	return nil
}

// Execute runs one cycle for the task loop. A ledger outage is already
// reported by the cycle and the record is on disk, so the task keeps going.
// Cancellation ends the loop without an error.
func (p *Pipeline) Execute(ctx context.Context) (bool, error) {
	_, err := p.RunCycle(ctx)
	switch {
	case err == nil:
		return true, nil
	case ctx.Err() != nil:
		return false, nil
	case errors.Is(err, ErrLedgerUnavailable):
		return true, nil
	default:
		return true, err
	}
}

func (p *Pipeline) Finish(ctx context.Context) error {
	p.obs.LogInfo("pipeline_stopped", ports.Field{Key: "stream", Value: p.stream})
	return nil
}
