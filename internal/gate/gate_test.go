package gate_test

import (
	"FlowBreaker/internal/gate"
	"errors"
	"testing"
)

const (
	ownerAddr = "0xowner"
	poolAddr  = "0xpool"
)

// ============================================================================
// Test: AuthorizeFlow
// ============================================================================

func TestAuthorizeFlow_ProtectedAndOperational(t *testing.T) {
	g := gate.NewAccessGate(ownerAddr)
	g.AddProtected([]string{poolAddr})

	if err := g.AuthorizeFlow(poolAddr); err != nil {
		t.Errorf("protected caller on operational gate: %v", err)
	}
}

func TestAuthorizeFlow_UnprotectedCaller(t *testing.T) {
	g := gate.NewAccessGate(ownerAddr)

	err := g.AuthorizeFlow(poolAddr)
	if !errors.Is(err, gate.ErrNotAProtectedContract) {
		t.Errorf("got %v, want ErrNotAProtectedContract", err)
	}
}

func TestAuthorizeFlow_MembershipCheckedFirst(t *testing.T) {
	g := gate.NewAccessGate(ownerAddr)
	g.SetOperational(false)

	// An unknown caller gets the membership error even while paused.
	err := g.AuthorizeFlow(poolAddr)
	if !errors.Is(err, gate.ErrNotAProtectedContract) {
		t.Errorf("got %v, want ErrNotAProtectedContract", err)
	}

	g.AddProtected([]string{poolAddr})
	err = g.AuthorizeFlow(poolAddr)
	if !errors.Is(err, gate.ErrNotOperational) {
		t.Errorf("got %v, want ErrNotOperational", err)
	}
}

func TestAuthorizeFlow_ResumesAfterPause(t *testing.T) {
	g := gate.NewAccessGate(ownerAddr)
	g.AddProtected([]string{poolAddr})

	g.SetOperational(false)
	if err := g.AuthorizeFlow(poolAddr); err == nil {
		t.Error("paused gate should reject flows")
	}

	g.SetOperational(true)
	if err := g.AuthorizeFlow(poolAddr); err != nil {
		t.Errorf("resumed gate: %v", err)
	}
}

// ============================================================================
// Test: RequireOwner
// ============================================================================

func TestRequireOwner(t *testing.T) {
	g := gate.NewAccessGate(ownerAddr)

	if err := g.RequireOwner(ownerAddr); err != nil {
		t.Errorf("owner: %v", err)
	}
	err := g.RequireOwner(poolAddr)
	if !errors.Is(err, gate.ErrNotOwner) {
		t.Errorf("got %v, want ErrNotOwner", err)
	}
}

func TestRequireOwner_IgnoresOperationalFlag(t *testing.T) {
	g := gate.NewAccessGate(ownerAddr)
	g.SetOperational(false)

	// Admin access survives the kill switch, otherwise the breaker
	// could never be turned back on.
	if err := g.RequireOwner(ownerAddr); err != nil {
		t.Errorf("owner on paused gate: %v", err)
	}
}

// ============================================================================
// Test: Protected set
// ============================================================================

func TestProtected_AddRemoveIdempotent(t *testing.T) {
	g := gate.NewAccessGate(ownerAddr)

	g.AddProtected([]string{poolAddr, poolAddr, "0xvault"})
	if got := len(g.Protected()); got != 2 {
		t.Errorf("got %d protected, want 2", got)
	}

	g.RemoveProtected([]string{poolAddr, "0xnever-added"})
	if g.IsProtected(poolAddr) {
		t.Error("removed contract still protected")
	}
	if !g.IsProtected("0xvault") {
		t.Error("unrelated contract lost protection")
	}
}

func TestProtected_SortedOrder(t *testing.T) {
	g := gate.NewAccessGate(ownerAddr)
	g.AddProtected([]string{"0xccc", "0xaaa", "0xbbb"})

	got := g.Protected()
	want := []string{"0xaaa", "0xbbb", "0xccc"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("protected[%d]: got %s, want %s", i, got[i], want[i])
		}
	}
}

// ============================================================================
// Test: Restore
// ============================================================================

func TestRestore_ReinstatesGateState(t *testing.T) {
	g := gate.NewAccessGate(ownerAddr)
	g.Restore(false, []string{poolAddr, "0xvault"})

	if g.IsOperational() {
		t.Error("restored gate should be paused")
	}
	if !g.IsProtected(poolAddr) || !g.IsProtected("0xvault") {
		t.Error("restored protected set incomplete")
	}
	if g.Owner() != ownerAddr {
		t.Errorf("got owner %s, want %s", g.Owner(), ownerAddr)
	}
}
