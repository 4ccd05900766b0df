package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"

	"github.com/energywebfoundation/ew-link-bond/internal/domain"
	"github.com/energywebfoundation/ew-link-bond/internal/ports"
)

// SQLLedger records into an append-only Postgres table. The (stream,
// cycle_id) key makes resubmitting the same record return the original row.
type SQLLedger struct {
	db        *sqlx.DB
	tableName string
}

func NewSQLLedger(db *sqlx.DB, table string) *SQLLedger {
	return &SQLLedger{db: db, tableName: table}
}

func (l *SQLLedger) Name() string { return "postgres" }

// EnsureSchema creates the ledger table when missing.
func (l *SQLLedger) EnsureSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+l.tableName+` (
	id BIGSERIAL PRIMARY KEY,
	stream TEXT NOT NULL,
	cycle_id TEXT NOT NULL,
	value BIGINT NOT NULL,
	previous_hash TEXT NOT NULL,
	is_meter_down BOOLEAN NOT NULL,
	co2_saved BIGINT,
	is_co2_down BOOLEAN NOT NULL,
	captured_at BIGINT NOT NULL,
	UNIQUE (stream, cycle_id)
)`)
	return err
}

func (l *SQLLedger) Submit(ctx context.Context, r *domain.Record) (domain.Receipt, error) {
	if r == nil {
		return domain.Receipt{}, errors.New("ledger: nil record")
	}
	var co2 sql.NullInt64
	if r.CO2Saved != nil {
		co2 = sql.NullInt64{Int64: *r.CO2Saved, Valid: true}
	}

	query := "INSERT INTO " + l.tableName +
		" (stream, cycle_id, value, previous_hash, is_meter_down, co2_saved, is_co2_down, captured_at)" +
		" VALUES ($1,$2,$3,$4,$5,$6,$7,$8)" +
		" ON CONFLICT (stream, cycle_id) DO UPDATE SET cycle_id = EXCLUDED.cycle_id RETURNING id"

	var id int64
	err := l.db.QueryRowxContext(ctx, query,
		r.Stream,
		r.CycleID,
		r.Value,
		r.PreviousHash,
		r.IsMeterDown,
		co2,
		r.IsCO2Down,
		r.CapturedAt,
	).Scan(&id)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("ledger insert: %w", err)
	}
	return domain.Receipt{Confirmed: true, BlockReference: l.tableName + "#" + strconv.FormatInt(id, 10)}, nil
}

func (l *SQLLedger) LastRecordedValue(ctx context.Context, stream string) (int64, error) {
	var v int64
	err := l.db.GetContext(ctx, &v,
		"SELECT value FROM "+l.tableName+" WHERE stream = $1 ORDER BY id DESC LIMIT 1", stream)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger last value: %w", err)
	}
	return v, nil
}

var _ ports.Ledger = (*SQLLedger)(nil)
