package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"

	"github.com/energywebfoundation/ew-link-bond/internal/domain"
)

func TestRedisLedgerSubmit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewRedisLedger(db, "")

	rec := &domain.Record{Stream: "meterA", CycleID: "c-1", Value: 100, PreviousHash: domain.NoHistory}
	mock.ExpectXAdd(&redis.XAddArgs{Stream: "bond:meterA", Values: recordValues(rec)}).SetVal("1700000000000-0")

	receipt, err := l.Submit(context.Background(), rec)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !receipt.Confirmed || receipt.BlockReference != "1700000000000-0" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("redis expectations not met: %v", err)
	}
}

func TestRedisLedgerSubmitError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewRedisLedger(db, "x:")

	rec := &domain.Record{Stream: "meterA"}
	mock.ExpectXAdd(&redis.XAddArgs{Stream: "x:meterA", Values: recordValues(rec)}).SetErr(errors.New("READONLY"))

	if _, err := l.Submit(context.Background(), rec); err == nil {
		t.Fatalf("expected submit error")
	}
}

func TestRedisLedgerLastRecordedValue(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewRedisLedger(db, "")

	mock.ExpectXRevRangeN("bond:meterA", "+", "-", 1).SetVal([]redis.XMessage{
		{ID: "1-0", Values: map[string]interface{}{"value": "4200"}},
	})
	mock.ExpectXRevRangeN("bond:meterB", "+", "-", 1).SetVal([]redis.XMessage{})

	if v, err := l.LastRecordedValue(context.Background(), "meterA"); err != nil || v != 4200 {
		t.Fatalf("expected 4200, got %d err=%v", v, err)
	}
	if v, err := l.LastRecordedValue(context.Background(), "meterB"); err != nil || v != 0 {
		t.Fatalf("expected 0 for empty stream, got %d err=%v", v, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("redis expectations not met: %v", err)
	}
}
