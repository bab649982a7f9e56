package breaker

import (
	"errors"

	"FlowBreaker/internal/gate"
	"FlowBreaker/internal/state"
)

var (
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidMaxIterations = errors.New("maxIterations must be positive")
)

// rejectReason maps an apply error to a bounded metrics label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, gate.ErrNotOwner),
		errors.Is(err, gate.ErrNotAProtectedContract):
		return "unauthorized"
	case errors.Is(err, gate.ErrNotOperational):
		return "not_operational"
	case errors.Is(err, state.ErrAlreadyExists),
		errors.Is(err, state.ErrNotFound),
		errors.Is(err, state.ErrInvalidBps):
		return "config"
	case errors.Is(err, state.ErrNotRateLimited),
		errors.Is(err, state.ErrCooldownNotElapsed),
		errors.Is(err, state.ErrInvalidGracePeriodEnd):
		return "precondition"
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidMaxIterations):
		return "invalid_input"
	default:
		return "internal"
	}
}
