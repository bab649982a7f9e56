package breaker

import (
	"FlowBreaker/internal/state"

	"cosmossdk.io/math"
)

// Decision is the outcome of evaluating a liquidity decrease. A trip is
// not an error: the call commits, flags are raised, and the flow is
// diverted to settlement.
type Decision int32

const (
	DecisionAllow Decision = iota
	DecisionTrip
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionTrip:
		return "trip"
	default:
		return "unknown"
	}
}

// shouldTrip compares the projected remaining liquidity against the
// minimum retained floor. The floor is taken on the baseline — the
// liquidity level as it stood at the start of the rolling window — so
// rapid interleaved top-ups inside the window cannot reset it.
func shouldTrip(baseline, projected math.Int, minLiqRetainedBps int64) bool {
	floor := baseline.MulRaw(minLiqRetainedBps).QuoRaw(state.BpsDenominator)
	return projected.LT(floor)
}
