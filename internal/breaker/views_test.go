package breaker_test

import (
	"context"
	"testing"

	"FlowBreaker/internal/breaker"
	"FlowBreaker/internal/event"
	"FlowBreaker/internal/observability"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// newMeteredEngine is newTestEngine with live metrics instead of nil.
// Registration goes to the default registry, so tests share one instance.
var meteredMetrics = observability.NewMetrics()

func newMeteredEngine(t *testing.T) *breaker.Engine {
	t.Helper()

	cfg := breaker.Config{
		TickLength:          tickLength,
		WithdrawalPeriod:    withdrawalPeriod,
		RateLimitCooldown:   cooldown,
		IdempotencyCapacity: 1024,
	}
	eng := breaker.NewEngine(cfg, 0, ownerAddr,
		make(chan breaker.Output, 64),
		make(chan breaker.Output, 64),
		make(chan event.Diversion, 8),
		meteredMetrics,
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)

	return eng
}

// Grace expiry has no closing operation, so the gauge stays raised until
// a periodic InGracePeriod call refreshes it.
func TestEngine_InGracePeriodRefreshesGauge(t *testing.T) {
	eng := newMeteredEngine(t)
	ctx := context.Background()

	end := t0 + 1_000
	if _, err := eng.Submit(ctx, event.NewStartGracePeriod(ownerAddr, t0, end)); err != nil {
		t.Fatalf("start grace: %v", err)
	}
	if got := testutil.ToFloat64(meteredMetrics.GraceActive); got != 1 {
		t.Fatalf("grace gauge after start = %v, want 1", got)
	}

	active, err := eng.InGracePeriod(ctx, end-1)
	if err != nil {
		t.Fatalf("in grace period: %v", err)
	}
	if !active {
		t.Errorf("InGracePeriod(end-1) = false, want true")
	}
	if got := testutil.ToFloat64(meteredMetrics.GraceActive); got != 1 {
		t.Errorf("grace gauge inside period = %v, want 1", got)
	}

	active, err = eng.InGracePeriod(ctx, end)
	if err != nil {
		t.Fatalf("in grace period: %v", err)
	}
	if active {
		t.Errorf("InGracePeriod(end) = true, want false")
	}
	if got := testutil.ToFloat64(meteredMetrics.GraceActive); got != 0 {
		t.Errorf("grace gauge after expiry = %v, want 0", got)
	}
}
