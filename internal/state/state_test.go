package state_test

import (
	"FlowBreaker/internal/state"
	"errors"
	"testing"

	"cosmossdk.io/math"
)

var testID = state.HashPair("WETH/USDC")

func mustAdd(t *testing.T, r *state.Registry, id state.Identifier) *state.SecurityParams {
	t.Helper()
	p, err := r.Add(id, 5000, math.NewInt(1000), "settlement")
	if err != nil {
		t.Fatalf("add params: %v", err)
	}
	return p
}

// ============================================================================
// Test: Identifier
// ============================================================================

func TestHashPair_Deterministic(t *testing.T) {
	a := state.HashPair("WETH/USDC")
	b := state.HashPair("WETH/USDC")
	if a != b {
		t.Errorf("got %s and %s, want equal", a, b)
	}
	if a == state.HashPair("WBTC/USDC") {
		t.Error("distinct pairs should hash to distinct identifiers")
	}
	if !a.Valid() {
		t.Errorf("derived identifier %s should be valid", a)
	}
}

func TestIdentifier_Valid(t *testing.T) {
	if state.Identifier("deadbeef").Valid() {
		t.Error("short key should be invalid")
	}

	notHex := state.Identifier("zz" + string(testID)[2:])
	if notHex.Valid() {
		t.Error("non-hex key should be invalid")
	}
}

// ============================================================================
// Test: Registry
// ============================================================================

func TestRegistry_AddAndGet(t *testing.T) {
	r := state.NewRegistry()
	mustAdd(t, r, testID)

	p, ok := r.Get(testID)
	if !ok {
		t.Fatal("registered identifier not found")
	}
	if p.MinLiqRetainedBps != 5000 {
		t.Errorf("got bps %d, want 5000", p.MinLiqRetainedBps)
	}
	if !p.LiquidityTotal.IsZero() {
		t.Errorf("fresh registration: got total %s, want 0", p.LiquidityTotal)
	}
	if p.LimitState() != state.LimitStateNormal {
		t.Errorf("got state %s, want Normal", p.LimitState())
	}
}

func TestRegistry_DuplicateAdd(t *testing.T) {
	r := state.NewRegistry()
	mustAdd(t, r, testID)

	_, err := r.Add(testID, 100, math.NewInt(1), "other")
	if !errors.Is(err, state.ErrAlreadyExists) {
		t.Errorf("got %v, want ErrAlreadyExists", err)
	}
}

func TestRegistry_BpsOutOfRange(t *testing.T) {
	r := state.NewRegistry()

	for _, bps := range []int64{-1, state.BpsDenominator + 1} {
		_, err := r.Add(testID, bps, math.NewInt(1000), "settlement")
		if !errors.Is(err, state.ErrInvalidBps) {
			t.Errorf("bps %d: got %v, want ErrInvalidBps", bps, err)
		}
	}

	// Both boundaries are legal.
	if _, err := r.Add(testID, 0, math.NewInt(0), "settlement"); err != nil {
		t.Errorf("bps 0: %v", err)
	}
	if _, err := r.Add(state.HashPair("WBTC/USDC"), state.BpsDenominator, math.NewInt(0), "settlement"); err != nil {
		t.Errorf("bps %d: %v", state.BpsDenominator, err)
	}
}

func TestRegistry_UpdatePreservesLiveState(t *testing.T) {
	r := state.NewRegistry()
	p := mustAdd(t, r, testID)
	p.LiquidityTotal = math.NewInt(777)
	if err := r.MarkTripped(testID, 100); err != nil {
		t.Fatalf("mark tripped: %v", err)
	}

	updated, err := r.Update(testID, 9000, math.NewInt(5), "newmodule")
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if updated.MinLiqRetainedBps != 9000 || updated.SettlementModule != "newmodule" {
		t.Errorf("config not replaced: bps=%d module=%s", updated.MinLiqRetainedBps, updated.SettlementModule)
	}
	if !updated.LiquidityTotal.Equal(math.NewInt(777)) {
		t.Errorf("liquidity total reset by update: got %s", updated.LiquidityTotal)
	}
	if !updated.RateLimited || updated.LastTripTimestamp != 100 {
		t.Error("trip state reset by update")
	}
}

func TestRegistry_UpdateUnknown(t *testing.T) {
	r := state.NewRegistry()
	_, err := r.Update(testID, 100, math.NewInt(1), "settlement")
	if !errors.Is(err, state.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

// ============================================================================
// Test: Trip / ClearTrip
// ============================================================================

func TestMarkTripped_RaisesGlobalFlag(t *testing.T) {
	r := state.NewRegistry()
	mustAdd(t, r, testID)

	if r.IsGlobalRateLimited() {
		t.Fatal("global flag set before any trip")
	}
	if err := r.MarkTripped(testID, 1000); err != nil {
		t.Fatalf("mark tripped: %v", err)
	}

	p, _ := r.Get(testID)
	if !p.RateLimited || p.LastTripTimestamp != 1000 {
		t.Errorf("got rateLimited=%v tripped=%d", p.RateLimited, p.LastTripTimestamp)
	}
	if p.LimitState() != state.LimitStateLimited {
		t.Errorf("got state %s, want Limited", p.LimitState())
	}
	if !r.IsGlobalRateLimited() {
		t.Error("global flag should be raised")
	}
}

func TestClearTrip_CooldownGate(t *testing.T) {
	const cooldown = 3600
	r := state.NewRegistry()
	mustAdd(t, r, testID)
	if err := r.MarkTripped(testID, 1000); err != nil {
		t.Fatalf("mark tripped: %v", err)
	}

	err := r.ClearTrip(testID, 1000+cooldown-1, cooldown)
	if !errors.Is(err, state.ErrCooldownNotElapsed) {
		t.Errorf("one second early: got %v, want ErrCooldownNotElapsed", err)
	}

	if err := r.ClearTrip(testID, 1000+cooldown, cooldown); err != nil {
		t.Errorf("exactly at cooldown: %v", err)
	}

	p, _ := r.Get(testID)
	if p.RateLimited {
		t.Error("trip not cleared")
	}
	if r.IsGlobalRateLimited() {
		t.Error("global flag should drop with the last live trip")
	}
}

func TestClearTrip_NotRateLimited(t *testing.T) {
	r := state.NewRegistry()
	mustAdd(t, r, testID)

	err := r.ClearTrip(testID, 10_000, 3600)
	if !errors.Is(err, state.ErrNotRateLimited) {
		t.Errorf("got %v, want ErrNotRateLimited", err)
	}
}

func TestGlobalFlag_IsOrOverIdentifiers(t *testing.T) {
	const cooldown = 3600
	other := state.HashPair("WBTC/USDC")

	r := state.NewRegistry()
	mustAdd(t, r, testID)
	mustAdd(t, r, other)

	r.MarkTripped(testID, 1000)
	r.MarkTripped(other, 2000)

	if err := r.ClearTrip(testID, 1000+cooldown, cooldown); err != nil {
		t.Fatalf("clear first: %v", err)
	}
	if !r.IsGlobalRateLimited() {
		t.Error("global flag must stay up while any identifier is limited")
	}

	if err := r.ClearTrip(other, 2000+cooldown, cooldown); err != nil {
		t.Fatalf("clear second: %v", err)
	}
	if r.IsGlobalRateLimited() {
		t.Error("global flag must drop once all trips are cleared")
	}
}

// ============================================================================
// Test: Override
// ============================================================================

func TestSetOverride_TakesPrecedenceOverTrip(t *testing.T) {
	r := state.NewRegistry()
	mustAdd(t, r, testID)
	r.MarkTripped(testID, 1000)

	v, err := r.SetOverride(testID, true)
	if err != nil || !v {
		t.Fatalf("set override: got %v, %v", v, err)
	}

	p, _ := r.Get(testID)
	if p.LimitState() != state.LimitStateOverridden {
		t.Errorf("got state %s, want Overridden", p.LimitState())
	}

	// Dropping the override exposes the still-live trip underneath.
	if _, err := r.SetOverride(testID, false); err != nil {
		t.Fatalf("unset override: %v", err)
	}
	if p.LimitState() != state.LimitStateLimited {
		t.Errorf("got state %s, want Limited", p.LimitState())
	}
}

func TestSetOverride_Unknown(t *testing.T) {
	r := state.NewRegistry()
	_, err := r.SetOverride(testID, true)
	if !errors.Is(err, state.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

// ============================================================================
// Test: Identifiers / Restore
// ============================================================================

func TestIdentifiers_DeterministicOrder(t *testing.T) {
	r := state.NewRegistry()
	ids := []state.Identifier{
		state.HashPair("WETH/USDC"),
		state.HashPair("WBTC/USDC"),
		state.HashPair("DAI/USDC"),
	}
	for _, id := range ids {
		mustAdd(t, r, id)
	}

	got := r.Identifiers()
	if len(got) != len(ids) {
		t.Fatalf("got %d identifiers, want %d", len(got), len(ids))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Errorf("identifiers not sorted: %s before %s", got[i-1], got[i])
		}
	}
}

func TestRegistry_Restore(t *testing.T) {
	r := state.NewRegistry()
	r.Restore(&state.SecurityParams{
		Identifier:          testID,
		MinLiqRetainedBps:   7000,
		LimitBeginThreshold: math.NewInt(500),
		SettlementModule:    "settlement",
		LiquidityTotal:      math.NewInt(-42),
		RateLimited:         true,
		LastTripTimestamp:   1234,
	})
	r.RestoreGlobalRateLimited(true)

	p, ok := r.Get(testID)
	if !ok {
		t.Fatal("restored identifier not found")
	}
	if !p.LiquidityTotal.Equal(math.NewInt(-42)) || !p.RateLimited {
		t.Errorf("restored row mangled: total=%s rateLimited=%v", p.LiquidityTotal, p.RateLimited)
	}
	if !r.IsGlobalRateLimited() {
		t.Error("global flag not restored")
	}
}

// ============================================================================
// Test: LimitState
// ============================================================================

func TestLimitState_Transitions(t *testing.T) {
	cases := []struct {
		from, to state.LimitState
		want     bool
	}{
		{state.LimitStateNormal, state.LimitStateLimited, true},
		{state.LimitStateNormal, state.LimitStateOverridden, true},
		{state.LimitStateNormal, state.LimitStateNormal, false},
		{state.LimitStateLimited, state.LimitStateNormal, true},
		{state.LimitStateLimited, state.LimitStateOverridden, true},
		{state.LimitStateLimited, state.LimitStateLimited, false},
		{state.LimitStateOverridden, state.LimitStateNormal, true},
		{state.LimitStateOverridden, state.LimitStateLimited, true},
		{state.LimitStateOverridden, state.LimitStateOverridden, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

// ============================================================================
// Test: GraceController
// ============================================================================

func TestGrace_StartRequiresFutureEnd(t *testing.T) {
	g := state.NewGraceController()

	err := g.Start(1000, 1000)
	if !errors.Is(err, state.ErrInvalidGracePeriodEnd) {
		t.Errorf("end == now: got %v, want ErrInvalidGracePeriodEnd", err)
	}
	err = g.Start(1000, 999)
	if !errors.Is(err, state.ErrInvalidGracePeriodEnd) {
		t.Errorf("end < now: got %v, want ErrInvalidGracePeriodEnd", err)
	}
	if err := g.Start(1000, 1001); err != nil {
		t.Errorf("end > now: %v", err)
	}
}

func TestGrace_ExpiresNaturally(t *testing.T) {
	g := state.NewGraceController()
	if err := g.Start(1000, 2000); err != nil {
		t.Fatalf("start: %v", err)
	}

	if !g.InGracePeriod(1999) {
		t.Error("one second before end should be in grace")
	}
	if g.InGracePeriod(2000) {
		t.Error("at the end timestamp the period has lapsed")
	}
}

func TestGrace_NeverStarted(t *testing.T) {
	g := state.NewGraceController()
	if g.InGracePeriod(0) || g.InGracePeriod(1) {
		t.Error("unstarted controller should never report grace")
	}
	if g.EndTimestamp() != 0 {
		t.Errorf("got end %d, want 0", g.EndTimestamp())
	}
}

func TestGrace_Restore(t *testing.T) {
	g := state.NewGraceController()
	g.Restore(5000)

	if !g.InGracePeriod(4999) {
		t.Error("restored period should be active before end")
	}
	if g.EndTimestamp() != 5000 {
		t.Errorf("got end %d, want 5000", g.EndTimestamp())
	}
}
