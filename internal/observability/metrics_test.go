package observability_test

import (
	"testing"

	"FlowBreaker/internal/observability"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// metrics registers in the default registry, so the package shares one
// instance across tests.
var metrics = observability.NewMetrics()

func TestObserveChannel_SetsDepthAndCapacity(t *testing.T) {
	metrics.ObserveChannel("persist", 7, 1024)

	if got := testutil.ToFloat64(metrics.ChannelSize.WithLabelValues("persist")); got != 7 {
		t.Errorf("channel size = %v, want 7", got)
	}
	if got := testutil.ToFloat64(metrics.ChannelCapacity.WithLabelValues("persist")); got != 1024 {
		t.Errorf("channel capacity = %v, want 1024", got)
	}
}

func TestObserveChannel_OverwritesPreviousSample(t *testing.T) {
	metrics.ObserveChannel("publish", 100, 2048)
	metrics.ObserveChannel("publish", 0, 2048)

	if got := testutil.ToFloat64(metrics.ChannelSize.WithLabelValues("publish")); got != 0 {
		t.Errorf("channel size = %v, want 0", got)
	}
}
