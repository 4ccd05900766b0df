package bond

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewCallbackLedger(t *testing.T) {
	var received []Record
	l := NewCallbackLedger("cb", func(_ context.Context, rec Record) (string, error) {
		received = append(received, rec)
		return "block-1", nil
	})

	input := Record{Stream: "meter-1", CycleID: "c1", Value: 42, PreviousHash: NoHistory}
	receipt, err := l.Submit(context.Background(), &input)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if !receipt.Confirmed || receipt.BlockReference != "block-1" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	if len(received) != 1 || received[0].Value != 42 {
		t.Fatalf("mismatched record payload: %+v", received)
	}

	last, err := l.LastRecordedValue(context.Background(), "meter-1")
	if err != nil || last != 42 {
		t.Fatalf("expected last value 42, got %d (%v)", last, err)
	}
	if last, _ := l.LastRecordedValue(context.Background(), "other"); last != 0 {
		t.Fatalf("expected 0 for unknown stream, got %d", last)
	}
}

func TestNewCallbackLedgerHandlerError(t *testing.T) {
	boom := errors.New("boom")
	l := NewCallbackLedger("", func(context.Context, Record) (string, error) { return "", boom })
	if l.Name() != "callback" {
		t.Fatalf("expected default name, got %q", l.Name())
	}

	rec := Record{Stream: "s", Value: 7}
	if _, err := l.Submit(context.Background(), &rec); !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if last, _ := l.LastRecordedValue(context.Background(), "s"); last != 0 {
		t.Fatalf("failed submission must not move the offset, got %d", last)
	}
}

func TestNewCallbackLedgerNilHandler(t *testing.T) {
	l := NewCallbackLedger("", nil)
	rec := Record{Stream: "s"}
	if _, err := l.Submit(context.Background(), &rec); err == nil {
		t.Fatalf("expected error when callback is nil")
	}
}

func TestNewChannelLedger(t *testing.T) {
	l, ch, closeFn := NewChannelLedger("chan", 0)
	defer closeFn()

	input := Record{Stream: "meter-2", Value: 9}
	type result struct {
		receipt Receipt
		err     error
	}
	resCh := make(chan result, 1)

	go func() {
		r, err := l.Submit(context.Background(), &input)
		resCh <- result{r, err}
	}()

	var got Record
	select {
	case got = <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel record")
	}

	res := <-resCh
	if res.err != nil {
		t.Fatalf("Submit returned error: %v", res.err)
	}
	if got.Stream != input.Stream || got.Value != input.Value {
		t.Fatalf("unexpected record: %+v", got)
	}
	if res.receipt.BlockReference != "chan#1" {
		t.Fatalf("expected reference chan#1, got %q", res.receipt.BlockReference)
	}
	if last, _ := l.LastRecordedValue(context.Background(), "meter-2"); last != 9 {
		t.Fatalf("expected last value 9, got %d", last)
	}

	closeFn()
	if _, err := l.Submit(context.Background(), &input); !errors.Is(err, ErrChannelLedgerClosed) {
		t.Fatalf("expected ErrChannelLedgerClosed, got %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
}

func TestChannelLedgerHonoursContext(t *testing.T) {
	l, _, closeFn := NewChannelLedger("chan", 0)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	rec := Record{Stream: "s"}
	if _, err := l.Submit(ctx, &rec); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
