// Package gate authorizes callers of the circuit breaker: a single owner
// for admin operations, a protected-contract set for flow operations, and
// the global operational kill switch.
package gate

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrNotOwner              = errors.New("caller is not the owner")
	ErrNotAProtectedContract = errors.New("caller is not a protected contract")
	ErrNotOperational        = errors.New("circuit breaker is not operational")
)

// AccessGate is not thread-safe; it is owned by the breaker engine.
type AccessGate struct {
	owner       string
	protected   map[string]bool
	operational bool
}

// NewAccessGate creates a gate with the given owner. The breaker starts
// operational.
func NewAccessGate(owner string) *AccessGate {
	return &AccessGate{
		owner:       owner,
		protected:   make(map[string]bool),
		operational: true,
	}
}

// AuthorizeFlow performs the entry-point check for increase/decrease:
// caller membership first, then operational status.
func (g *AccessGate) AuthorizeFlow(caller string) error {
	if !g.protected[caller] {
		return fmt.Errorf("%w: %s", ErrNotAProtectedContract, caller)
	}
	if !g.operational {
		return ErrNotOperational
	}
	return nil
}

// RequireOwner guards admin operations.
func (g *AccessGate) RequireOwner(caller string) error {
	if caller != g.owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller)
	}
	return nil
}

// AddProtected adds contracts to the protected set. Idempotent.
func (g *AccessGate) AddProtected(addrs []string) {
	for _, a := range addrs {
		g.protected[a] = true
	}
}

// RemoveProtected removes contracts from the protected set. Idempotent.
func (g *AccessGate) RemoveProtected(addrs []string) {
	for _, a := range addrs {
		delete(g.protected, a)
	}
}

func (g *AccessGate) IsProtected(addr string) bool {
	return g.protected[addr]
}

func (g *AccessGate) SetOperational(v bool) {
	g.operational = v
}

func (g *AccessGate) IsOperational() bool {
	return g.operational
}

func (g *AccessGate) Owner() string {
	return g.owner
}

// Protected returns the protected set in deterministic order.
func (g *AccessGate) Protected() []string {
	out := make([]string, 0, len(g.protected))
	for a := range g.protected {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Restore reinstates gate state on warm restart.
func (g *AccessGate) Restore(operational bool, protected []string) {
	g.operational = operational
	for _, a := range protected {
		g.protected[a] = true
	}
}
