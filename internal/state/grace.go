package state

import (
	"errors"
	"fmt"
)

var ErrInvalidGracePeriodEnd = errors.New("grace period end must be in the future")

// GraceController holds the global grace period. Enforcement is suspended
// while now < endTimestamp; the period expires naturally with no explicit
// deactivation.
type GraceController struct {
	endTimestamp int64
}

func NewGraceController() *GraceController {
	return &GraceController{}
}

// Start sets the global grace period end time.
func (g *GraceController) Start(now, endTimestamp int64) error {
	if endTimestamp <= now {
		return fmt.Errorf("%w: end %d <= now %d", ErrInvalidGracePeriodEnd, endTimestamp, now)
	}
	g.endTimestamp = endTimestamp
	return nil
}

// InGracePeriod is a pure function of the supplied clock.
func (g *GraceController) InGracePeriod(now int64) bool {
	return now < g.endTimestamp
}

// EndTimestamp returns the configured end time (0 if never started).
func (g *GraceController) EndTimestamp() int64 {
	return g.endTimestamp
}

// Restore reinstates the end time on warm restart.
func (g *GraceController) Restore(endTimestamp int64) {
	g.endTimestamp = endTimestamp
}
