package state

// LimitState is the per-identifier enforcement state. The overridden flag
// takes precedence over a live trip, so the effective state is derived
// from the two flags rather than stored separately.
type LimitState int32

const (
	LimitStateNormal LimitState = iota
	LimitStateLimited
	LimitStateOverridden
)

func (s LimitState) String() string {
	switch s {
	case LimitStateNormal:
		return "Normal"
	case LimitStateLimited:
		return "Limited"
	case LimitStateOverridden:
		return "Overridden"
	default:
		return "Unknown"
	}
}

// CanTransitionTo reports whether a direct transition is legal.
// Normal -> Limited on trip; Limited -> Normal on admin override after
// cooldown; Overridden is entered and left only by the admin toggle and
// may wrap either underlying state.
func (s LimitState) CanTransitionTo(next LimitState) bool {
	switch s {
	case LimitStateNormal:
		return next == LimitStateLimited || next == LimitStateOverridden
	case LimitStateLimited:
		return next == LimitStateNormal || next == LimitStateOverridden
	case LimitStateOverridden:
		return next == LimitStateNormal || next == LimitStateLimited
	default:
		return false
	}
}
