package state

import (
	"errors"
	"fmt"
	"sort"

	"cosmossdk.io/math"
)

// BpsDenominator is the basis-point scale for minLiqRetainedBps.
const BpsDenominator = 10_000

var (
	ErrAlreadyExists      = errors.New("security parameter already exists")
	ErrNotFound           = errors.New("security parameter not found")
	ErrInvalidBps         = errors.New("minLiqRetainedBps out of range")
	ErrNotRateLimited     = errors.New("identifier is not rate limited")
	ErrCooldownNotElapsed = errors.New("rate limit cooldown not elapsed")
)

// SecurityParams holds the configuration and live limiter state for one
// identifier.
type SecurityParams struct {
	Identifier          Identifier
	MinLiqRetainedBps   int64    // [0, 10000]
	LimitBeginThreshold math.Int // de-minimis amount, token scale
	SettlementModule    string   // collaborator that receives diverted flows

	LiquidityTotal    math.Int // signed accumulator, updated by every flow
	RateLimited       bool
	LastTripTimestamp int64 // unix seconds of the last trip
	Overridden        bool
}

// LimitState derives the effective enforcement state from the flags.
func (p *SecurityParams) LimitState() LimitState {
	if p.Overridden {
		return LimitStateOverridden
	}
	if p.RateLimited {
		return LimitStateLimited
	}
	return LimitStateNormal
}

// Clone returns a deep copy safe to hand outside the engine.
func (p *SecurityParams) Clone() *SecurityParams {
	c := *p
	return &c
}

// ValidateSecurityParams checks configuration inputs at registration time.
func ValidateSecurityParams(bps int64, threshold math.Int) error {
	if bps < 0 || bps > BpsDenominator {
		return fmt.Errorf("%w: got %d, want [0, %d]", ErrInvalidBps, bps, BpsDenominator)
	}
	if threshold.IsNil() || threshold.IsNegative() {
		return fmt.Errorf("limitBeginThreshold must be non-negative")
	}
	return nil
}

// Registry is the Parameter Registry: per-identifier configuration plus
// the global rate-limited flag derived from it. Not thread-safe; it is
// owned and mutated exclusively by the single-threaded breaker engine.
type Registry struct {
	params            map[Identifier]*SecurityParams
	globalRateLimited bool
}

func NewRegistry() *Registry {
	return &Registry{params: make(map[Identifier]*SecurityParams)}
}

// Add registers a new identifier.
func (r *Registry) Add(id Identifier, bps int64, threshold math.Int, settlementModule string) (*SecurityParams, error) {
	if _, exists := r.params[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	if err := ValidateSecurityParams(bps, threshold); err != nil {
		return nil, err
	}

	p := &SecurityParams{
		Identifier:          id,
		MinLiqRetainedBps:   bps,
		LimitBeginThreshold: threshold,
		SettlementModule:    settlementModule,
		LiquidityTotal:      math.ZeroInt(),
	}
	r.params[id] = p
	return p, nil
}

// Update replaces the configuration of an existing identifier. The live
// limiter state (liquidity, flags, timestamps) is preserved.
func (r *Registry) Update(id Identifier, bps int64, threshold math.Int, settlementModule string) (*SecurityParams, error) {
	p, exists := r.params[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := ValidateSecurityParams(bps, threshold); err != nil {
		return nil, err
	}

	p.MinLiqRetainedBps = bps
	p.LimitBeginThreshold = threshold
	p.SettlementModule = settlementModule
	return p, nil
}

func (r *Registry) Get(id Identifier) (*SecurityParams, bool) {
	p, ok := r.params[id]
	return p, ok
}

// SetOverride toggles the per-identifier override flag. Idempotent;
// returns the new value.
func (r *Registry) SetOverride(id Identifier, overridden bool) (bool, error) {
	p, exists := r.params[id]
	if !exists {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	p.Overridden = overridden
	return p.Overridden, nil
}

// MarkTripped records a trip for the identifier and raises the global flag.
func (r *Registry) MarkTripped(id Identifier, now int64) error {
	p, exists := r.params[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	p.RateLimited = true
	p.LastTripTimestamp = now
	r.globalRateLimited = true
	return nil
}

// ClearTrip lifts a live rate limit once the cooldown has elapsed, then
// recomputes the global flag as the OR over all identifiers.
func (r *Registry) ClearTrip(id Identifier, now, cooldown int64) error {
	p, exists := r.params[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !p.RateLimited {
		return fmt.Errorf("%w: %s", ErrNotRateLimited, id)
	}
	if now-p.LastTripTimestamp < cooldown {
		return fmt.Errorf("%w: tripped at %d, now %d, cooldown %ds",
			ErrCooldownNotElapsed, p.LastTripTimestamp, now, cooldown)
	}

	if !p.LimitState().CanTransitionTo(LimitStateNormal) {
		return fmt.Errorf("invalid limit state transition: %s -> Normal", p.LimitState())
	}

	p.RateLimited = false
	r.recomputeGlobal()
	return nil
}

func (r *Registry) recomputeGlobal() {
	for _, p := range r.params {
		if p.RateLimited {
			r.globalRateLimited = true
			return
		}
	}
	r.globalRateLimited = false
}

func (r *Registry) IsGlobalRateLimited() bool {
	return r.globalRateLimited
}

// RestoreGlobalRateLimited reinstates the global flag on warm restart.
func (r *Registry) RestoreGlobalRateLimited(v bool) {
	r.globalRateLimited = v
}

// Restore inserts a params row loaded from persistence, bypassing
// duplicate and validation checks (the row was validated when written).
func (r *Registry) Restore(p *SecurityParams) {
	r.params[p.Identifier] = p
}

// Identifiers returns all registered identifiers in deterministic order.
func (r *Registry) Identifiers() []Identifier {
	ids := make([]Identifier, 0, len(r.params))
	for id := range r.params {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of registered identifiers.
func (r *Registry) Len() int {
	return len(r.params)
}
