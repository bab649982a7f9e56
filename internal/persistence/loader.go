package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"FlowBreaker/internal/ledger"
	"FlowBreaker/internal/state"

	"cosmossdk.io/math"
	"github.com/lib/pq"
)

// RestoredState is the warm-restart image loaded at startup: the next
// sequence number, all registry rows, every retained tick node in chain
// order, the gate row, and recent idempotency keys for LRU warming.
type RestoredState struct {
	Sequence        int64
	Params          []*state.SecurityParams
	Ticks           []RestoredTick
	Gate            *GateRow
	IdempotencyKeys []string
}

type RestoredTick struct {
	Identifier state.Identifier
	Node       ledger.TickNode
}

// StateLoader reads the breaker schema on startup.
type StateLoader struct {
	db *sql.DB
}

func NewStateLoader(db *sql.DB) *StateLoader {
	return &StateLoader{db: db}
}

// Load reads the full restart image. warmKeys bounds how many recent
// idempotency keys are preloaded into the engine's LRU.
func (l *StateLoader) Load(ctx context.Context, warmKeys int) (*RestoredState, error) {
	st := &RestoredState{}

	if err := l.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence) + 1, 0) FROM breaker.events`,
	).Scan(&st.Sequence); err != nil {
		return nil, fmt.Errorf("load sequence: %w", err)
	}

	params, err := l.loadParams(ctx)
	if err != nil {
		return nil, err
	}
	st.Params = params

	ticks, err := l.loadTicks(ctx)
	if err != nil {
		return nil, err
	}
	st.Ticks = ticks

	gate, err := l.loadGate(ctx)
	if err != nil {
		return nil, err
	}
	st.Gate = gate

	keys, err := l.loadIdempotencyKeys(ctx, warmKeys)
	if err != nil {
		return nil, err
	}
	st.IdempotencyKeys = keys

	return st, nil
}

func parseAmount(col, s string) (math.Int, error) {
	v, ok := math.NewIntFromString(s)
	if !ok {
		return math.Int{}, fmt.Errorf("parse %s: invalid numeric %q", col, s)
	}
	return v, nil
}

func (l *StateLoader) loadParams(ctx context.Context) ([]*state.SecurityParams, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT identifier, min_liq_retained_bps, limit_begin_threshold, settlement_module,
		       liquidity_total, rate_limited, last_trip_timestamp, overridden
		FROM breaker.security_params
		ORDER BY identifier
	`)
	if err != nil {
		return nil, fmt.Errorf("load params: %w", err)
	}
	defer rows.Close()

	var out []*state.SecurityParams
	for rows.Next() {
		var (
			p                state.SecurityParams
			identifier       string
			threshold, total string
		)
		if err := rows.Scan(
			&identifier, &p.MinLiqRetainedBps, &threshold, &p.SettlementModule,
			&total, &p.RateLimited, &p.LastTripTimestamp, &p.Overridden,
		); err != nil {
			return nil, fmt.Errorf("scan params: %w", err)
		}

		p.Identifier = state.Identifier(identifier)
		if p.LimitBeginThreshold, err = parseAmount("limit_begin_threshold", threshold); err != nil {
			return nil, err
		}
		if p.LiquidityTotal, err = parseAmount("liquidity_total", total); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (l *StateLoader) loadTicks(ctx context.Context) ([]RestoredTick, error) {
	// Ascending tick order per identifier is chain order; RestoreNode
	// depends on it.
	rows, err := l.db.QueryContext(ctx, `
		SELECT identifier, tick_timestamp, amount_delta, next_timestamp
		FROM breaker.tick_nodes
		ORDER BY identifier, tick_timestamp
	`)
	if err != nil {
		return nil, fmt.Errorf("load ticks: %w", err)
	}
	defer rows.Close()

	var out []RestoredTick
	for rows.Next() {
		var (
			t     RestoredTick
			id    string
			delta string
		)
		if err := rows.Scan(&id, &t.Node.TickTimestamp, &delta, &t.Node.NextTimestamp); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		t.Identifier = state.Identifier(id)
		if t.Node.AmountDelta, err = parseAmount("amount_delta", delta); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (l *StateLoader) loadGate(ctx context.Context) (*GateRow, error) {
	var g GateRow
	err := l.db.QueryRowContext(ctx, `
		SELECT owner_address, operational, grace_period_end, global_rate_limited, protected_contracts
		FROM breaker.gate
	`).Scan(&g.Owner, &g.Operational, &g.GracePeriodEnd, &g.GlobalRateLimited, pq.Array(&g.Protected))
	if err == sql.ErrNoRows {
		return nil, nil // cold start
	}
	if err != nil {
		return nil, fmt.Errorf("load gate: %w", err)
	}
	return &g, nil
}

func (l *StateLoader) loadIdempotencyKeys(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT event_type || ':' || idempotency_key
		FROM breaker.events
		ORDER BY sequence DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("load idempotency keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan idempotency key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
