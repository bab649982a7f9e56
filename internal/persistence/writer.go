package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Record mirrors breaker.Output to avoid an import cycle. The
// orchestrator (cmd/flowbreaker) bridges between the two.
type Record struct {
	EventRow    EventRow
	ParamRow    *ParamRow
	TickRows    []TickRow
	TickDeletes []TickKey
	GateRow     *GateRow
}

// EventRow is a row in breaker.events.
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Identifier     *string
	Payload        []byte // JSON-encoded operation payload
	Timestamp      int64
}

// ParamRow is a row in breaker.security_params. Amounts are decimal
// strings; the NUMERIC columns hold full 18-decimal token values.
type ParamRow struct {
	Identifier          string
	MinLiqRetainedBps   int64
	LimitBeginThreshold string
	SettlementModule    string
	LiquidityTotal      string
	RateLimited         bool
	LastTripTimestamp   int64
	Overridden          bool
}

// TickRow is a row in breaker.tick_nodes.
type TickRow struct {
	Identifier    string
	TickTimestamp int64
	AmountDelta   string
	NextTimestamp int64
}

// TickKey addresses a tick node for deletion.
type TickKey struct {
	Identifier    string
	TickTimestamp int64
}

// GateRow is the singleton row in breaker.gate.
type GateRow struct {
	Owner             string
	Operational       bool
	GracePeriodEnd    int64
	GlobalRateLimited bool
	Protected         []string
}

// Writer issues batched statements against the breaker schema. All
// methods run inside the transaction supplied by the worker's flush.
type Writer struct {
	db *sql.DB
}

func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

func (w *Writer) DB() *sql.DB {
	return w.db
}

// WriteEventBatch appends event rows using a multi-row INSERT. Replayed
// sequences are ignored so restarts stay idempotent.
func (w *Writer) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO breaker.events
		(sequence, event_type, idempotency_key, identifier, payload, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*6)

	for i, e := range events {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Identifier, e.Payload, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// UpsertParams applies param rows in order; the last write per
// identifier wins, matching engine application order.
func (w *Writer) UpsertParams(ctx context.Context, tx *sql.Tx, params []ParamRow) error {
	if len(params) == 0 {
		return nil
	}

	const query = `INSERT INTO breaker.security_params
		(identifier, min_liq_retained_bps, limit_begin_threshold, settlement_module,
		 liquidity_total, rate_limited, last_trip_timestamp, overridden, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (identifier) DO UPDATE SET
			min_liq_retained_bps  = EXCLUDED.min_liq_retained_bps,
			limit_begin_threshold = EXCLUDED.limit_begin_threshold,
			settlement_module     = EXCLUDED.settlement_module,
			liquidity_total       = EXCLUDED.liquidity_total,
			rate_limited          = EXCLUDED.rate_limited,
			last_trip_timestamp   = EXCLUDED.last_trip_timestamp,
			overridden            = EXCLUDED.overridden,
			updated_at            = NOW()`

	for _, p := range params {
		if _, err := tx.ExecContext(ctx, query,
			p.Identifier, p.MinLiqRetainedBps, p.LimitBeginThreshold, p.SettlementModule,
			p.LiquidityTotal, p.RateLimited, p.LastTripTimestamp, p.Overridden,
		); err != nil {
			return fmt.Errorf("upsert params %s: %w", p.Identifier, err)
		}
	}
	return nil
}

// UpsertTicks writes touched tick nodes, replacing delta and link.
func (w *Writer) UpsertTicks(ctx context.Context, tx *sql.Tx, ticks []TickRow) error {
	if len(ticks) == 0 {
		return nil
	}

	const query = `INSERT INTO breaker.tick_nodes
		(identifier, tick_timestamp, amount_delta, next_timestamp, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (identifier, tick_timestamp) DO UPDATE SET
			amount_delta   = EXCLUDED.amount_delta,
			next_timestamp = EXCLUDED.next_timestamp,
			updated_at     = NOW()`

	for _, t := range ticks {
		if _, err := tx.ExecContext(ctx, query,
			t.Identifier, t.TickTimestamp, t.AmountDelta, t.NextTimestamp,
		); err != nil {
			return fmt.Errorf("upsert tick %s/%d: %w", t.Identifier, t.TickTimestamp, err)
		}
	}
	return nil
}

// DeleteTicks removes evicted tick nodes.
func (w *Writer) DeleteTicks(ctx context.Context, tx *sql.Tx, keys []TickKey) error {
	if len(keys) == 0 {
		return nil
	}

	const query = `DELETE FROM breaker.tick_nodes
		WHERE identifier = $1 AND tick_timestamp = $2`

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, query, k.Identifier, k.TickTimestamp); err != nil {
			return fmt.Errorf("delete tick %s/%d: %w", k.Identifier, k.TickTimestamp, err)
		}
	}
	return nil
}

// UpsertGate replaces the singleton gate row.
func (w *Writer) UpsertGate(ctx context.Context, tx *sql.Tx, g *GateRow) error {
	if g == nil {
		return nil
	}

	const query = `INSERT INTO breaker.gate
		(singleton, owner_address, operational, grace_period_end, global_rate_limited,
		 protected_contracts, updated_at)
		VALUES (TRUE, $1, $2, $3, $4, $5, NOW())
		ON CONFLICT (singleton) DO UPDATE SET
			owner_address       = EXCLUDED.owner_address,
			operational         = EXCLUDED.operational,
			grace_period_end    = EXCLUDED.grace_period_end,
			global_rate_limited = EXCLUDED.global_rate_limited,
			protected_contracts = EXCLUDED.protected_contracts,
			updated_at          = NOW()`

	_, err := tx.ExecContext(ctx, query,
		g.Owner, g.Operational, g.GracePeriodEnd, g.GlobalRateLimited, pq.Array(g.Protected),
	)
	return err
}
