package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/energywebfoundation/ew-link-bond/internal/domain"
	"github.com/energywebfoundation/ew-link-bond/internal/ports"
)

// RedisLedger appends records to one Redis stream per meter stream. The
// entry id assigned by XADD is the block reference.
type RedisLedger struct {
	client *redis.Client
	prefix string
}

func NewRedisLedger(client *redis.Client, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "bond:"
	}
	return &RedisLedger{client: client, prefix: prefix}
}

func (l *RedisLedger) Name() string { return "redis" }

func (l *RedisLedger) key(stream string) string { return l.prefix + stream }

func (l *RedisLedger) Submit(ctx context.Context, r *domain.Record) (domain.Receipt, error) {
	if r == nil {
		return domain.Receipt{}, errors.New("ledger: nil record")
	}
	id, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.key(r.Stream),
		Values: recordValues(r),
	}).Result()
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("ledger xadd: %w", err)
	}
	return domain.Receipt{Confirmed: true, BlockReference: id}, nil
}

func (l *RedisLedger) LastRecordedValue(ctx context.Context, stream string) (int64, error) {
	msgs, err := l.client.XRevRangeN(ctx, l.key(stream), "+", "-", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("ledger last value: %w", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	raw, ok := msgs[0].Values["value"]
	if !ok {
		return 0, fmt.Errorf("ledger last value: entry %s has no value", msgs[0].ID)
	}
	v, err := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ledger last value: %w", err)
	}
	return v, nil
}

func recordValues(r *domain.Record) []interface{} {
	vals := []interface{}{
		"cycle_id", r.CycleID,
		"value", strconv.FormatInt(r.Value, 10),
		"previous_hash", r.PreviousHash,
		"is_meter_down", strconv.FormatBool(r.IsMeterDown),
		"is_co2_down", strconv.FormatBool(r.IsCO2Down),
		"captured_at", strconv.FormatInt(r.CapturedAt, 10),
	}
	if r.CO2Saved != nil {
		vals = append(vals, "co2_saved", strconv.FormatInt(*r.CO2Saved, 10))
	}
	return vals
}

var _ ports.Ledger = (*RedisLedger)(nil)
