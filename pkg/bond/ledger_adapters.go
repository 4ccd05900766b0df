package bond

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrChannelLedgerClosed is returned when a channel ledger is written to after being closed.
var ErrChannelLedgerClosed = errors.New("bond: channel ledger closed")

// RecordHandler receives every submitted record and returns the reference
// under which it was stored.
type RecordHandler func(ctx context.Context, rec Record) (string, error)

// NewCallbackLedger adapts a RecordHandler into a Ledger so callers can plug
// arbitrary functions without defining structs. The ledger remembers the
// last value accepted per stream for offset lookups.
func NewCallbackLedger(name string, fn RecordHandler) Ledger {
	if name == "" {
		name = "callback"
	}
	return &callbackLedger{name: name, fn: fn, last: make(map[string]int64)}
}

// NewChannelLedger exposes submitted records via a channel; it returns the
// ledger, the read-only channel, and a close function that the caller should
// invoke during shutdown. A submission is confirmed once the record was
// handed to the channel.
func NewChannelLedger(name string, buffer int) (Ledger, <-chan Record, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Record, buffer)
	l := &channelLedger{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
		last:   make(map[string]int64),
	}
	return l, ch, func() { l.close() }
}

type callbackLedger struct {
	name string
	fn   RecordHandler

	mu   sync.Mutex
	last map[string]int64
}

func (l *callbackLedger) Submit(ctx context.Context, rec *Record) (Receipt, error) {
	if l.fn == nil {
		return Receipt{}, fmt.Errorf("callback ledger %q: nil handler", l.name)
	}
	if rec == nil {
		return Receipt{}, fmt.Errorf("callback ledger %q: nil record", l.name)
	}
	ref, err := l.fn(ctx, *rec)
	if err != nil {
		return Receipt{}, err
	}
	l.mu.Lock()
	l.last[rec.Stream] = rec.Value
	l.mu.Unlock()
	return Receipt{Confirmed: true, BlockReference: ref}, nil
}

func (l *callbackLedger) LastRecordedValue(_ context.Context, stream string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last[stream], nil
}

func (l *callbackLedger) Name() string { return l.name }

type channelLedger struct {
	name   string
	ch     chan Record
	closed chan struct{}
	once   sync.Once

	// sends hold the read lock so close never races a send
	sendMu sync.RWMutex

	mu   sync.Mutex
	seq  uint64
	last map[string]int64
}

func (l *channelLedger) Submit(ctx context.Context, rec *Record) (Receipt, error) {
	if rec == nil {
		return Receipt{}, fmt.Errorf("channel ledger %q: nil record", l.name)
	}
	l.sendMu.RLock()
	defer l.sendMu.RUnlock()

	select {
	case <-l.closed:
		return Receipt{}, ErrChannelLedgerClosed
	default:
	}

	select {
	case <-l.closed:
		return Receipt{}, ErrChannelLedgerClosed
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	case l.ch <- *rec:
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.last[rec.Stream] = rec.Value
	return Receipt{Confirmed: true, BlockReference: fmt.Sprintf("%s#%d", l.name, l.seq)}, nil
}

func (l *channelLedger) LastRecordedValue(_ context.Context, stream string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last[stream], nil
}

func (l *channelLedger) Name() string { return l.name }

func (l *channelLedger) close() {
	l.once.Do(func() {
		close(l.closed)
		l.sendMu.Lock()
		close(l.ch)
		l.sendMu.Unlock()
	})
}
