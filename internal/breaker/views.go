package breaker

import (
	"context"
	"fmt"

	"FlowBreaker/internal/state"

	"cosmossdk.io/math"
)

// Views run inside the engine loop so they observe state between
// operations, never mid-mutation. Each view borrows the loop briefly via
// the query channel.

func (e *Engine) inspect(ctx context.Context, fn func()) error {
	q := query{fn: fn, done: make(chan struct{})}

	select {
	case e.queryChan <- q:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StatusView is the gate-wide snapshot served by the status endpoint.
type StatusView struct {
	Operational           bool     `json:"operational"`
	GlobalRateLimited     bool     `json:"global_rate_limited"`
	GracePeriodEnd        int64    `json:"grace_period_end"`
	InGracePeriod         bool     `json:"in_grace_period"`
	Owner                 string   `json:"owner"`
	RegisteredIdentifiers int      `json:"registered_identifiers"`
	ProtectedContracts    []string `json:"protected_contracts"`
	Sequence              int64    `json:"sequence"`

	// Engine time parameters, unix seconds
	TickLength        int64 `json:"tick_length"`
	WithdrawalPeriod  int64 `json:"withdrawal_period"`
	RateLimitCooldown int64 `json:"rate_limit_cooldown"`
}

// Status reports the global breaker state as of the supplied clock.
func (e *Engine) Status(ctx context.Context, now int64) (StatusView, error) {
	var v StatusView
	err := e.inspect(ctx, func() {
		v = StatusView{
			Operational:           e.gate.IsOperational(),
			GlobalRateLimited:     e.registry.IsGlobalRateLimited(),
			GracePeriodEnd:        e.grace.EndTimestamp(),
			InGracePeriod:         e.grace.InGracePeriod(now),
			Owner:                 e.gate.Owner(),
			RegisteredIdentifiers: e.registry.Len(),
			ProtectedContracts:    e.gate.Protected(),
			Sequence:              e.sequence,
			TickLength:            e.cfg.TickLength,
			WithdrawalPeriod:      e.cfg.WithdrawalPeriod,
			RateLimitCooldown:     e.cfg.RateLimitCooldown,
		}
	})
	return v, err
}

// ParamView is the per-identifier configuration and live limiter state.
type ParamView struct {
	Identifier          string   `json:"identifier"`
	MinLiqRetainedBps   int64    `json:"min_liq_retained_bps"`
	LimitBeginThreshold math.Int `json:"limit_begin_threshold"`
	SettlementModule    string   `json:"settlement_module"`
	LiquidityTotal      math.Int `json:"liquidity_total"`
	RateLimited         bool     `json:"rate_limited"`
	LastTripTimestamp   int64    `json:"last_trip_timestamp"`
	Overridden          bool     `json:"overridden"`
	LimitState          string   `json:"limit_state"`
}

func (e *Engine) Param(ctx context.Context, id state.Identifier) (ParamView, error) {
	var v ParamView
	var lookupErr error

	err := e.inspect(ctx, func() {
		p, ok := e.registry.Get(id)
		if !ok {
			lookupErr = fmt.Errorf("%w: %s", state.ErrNotFound, id)
			return
		}
		v = ParamView{
			Identifier:          string(p.Identifier),
			MinLiqRetainedBps:   p.MinLiqRetainedBps,
			LimitBeginThreshold: p.LimitBeginThreshold,
			SettlementModule:    p.SettlementModule,
			LiquidityTotal:      p.LiquidityTotal,
			RateLimited:         p.RateLimited,
			LastTripTimestamp:   p.LastTripTimestamp,
			Overridden:          p.Overridden,
			LimitState:          p.LimitState().String(),
		}
	})
	if err != nil {
		return ParamView{}, err
	}
	return v, lookupErr
}

// TickView is one raw tick ledger node.
type TickView struct {
	TickTimestamp int64    `json:"tick_timestamp"`
	Amount        math.Int `json:"amount"`
	NextTimestamp int64    `json:"next_timestamp"`
}

// LiquidityChanges returns the node at an exact tick timestamp.
func (e *Engine) LiquidityChanges(ctx context.Context, id state.Identifier, tick int64) (TickView, error) {
	var v TickView
	var lookupErr error

	err := e.inspect(ctx, func() {
		next, amount, ok := e.ledger.LiquidityChanges(id, tick)
		if !ok {
			lookupErr = fmt.Errorf("%w: tick %d for %s", state.ErrNotFound, tick, id)
			return
		}
		v = TickView{TickTimestamp: tick, Amount: amount, NextTimestamp: next}
	})
	if err != nil {
		return TickView{}, err
	}
	return v, lookupErr
}

// InGracePeriod reports whether the grace period covers now. Expiry has
// no operation of its own, so this view also refreshes the grace gauge.
func (e *Engine) InGracePeriod(ctx context.Context, now int64) (bool, error) {
	var active bool
	err := e.inspect(ctx, func() {
		active = e.grace.InGracePeriod(now)
		if e.metrics != nil {
			if active {
				e.metrics.GraceActive.Set(1)
			} else {
				e.metrics.GraceActive.Set(0)
			}
		}
	})
	return active, err
}

// IsProtected reports protected-contract membership.
func (e *Engine) IsProtected(ctx context.Context, addr string) (bool, error) {
	var protected bool
	err := e.inspect(ctx, func() {
		protected = e.gate.IsProtected(addr)
	})
	return protected, err
}

// RegisteredIdentifiers lists all identifiers in deterministic order.
func (e *Engine) RegisteredIdentifiers(ctx context.Context) ([]state.Identifier, error) {
	var ids []state.Identifier
	err := e.inspect(ctx, func() {
		ids = e.registry.Identifiers()
	})
	return ids, err
}
