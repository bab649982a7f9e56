package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"FlowBreaker/internal/breaker"
	"FlowBreaker/internal/event"
	"FlowBreaker/internal/observability"
	"FlowBreaker/internal/server"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

const ownerAddr = "owner-0001"

// metrics registers in the default registry, so the package shares one
// instance across tests.
var metrics = observability.NewMetrics()

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	cfg := breaker.Config{
		TickLength:          600,
		WithdrawalPeriod:    172_800,
		RateLimitCooldown:   3_600,
		IdempotencyCapacity: 1024,
	}
	eng := breaker.NewEngine(cfg, 0, ownerAddr,
		make(chan breaker.Output, 64),
		make(chan breaker.Output, 64),
		make(chan event.Diversion, 8),
		nil,
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)

	return server.NewHandler(eng, metrics).Router()
}

func TestRouter_Status(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/status?now=1700000400", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
}

// Every request increments the request counter and observes a latency
// sample, labelled by method, matched route, and response code.
func TestRouter_RecordsRequestMetrics(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rec.Code, http.StatusOK)
	}

	got := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("GET", "/v1/status", "200"))
	if got < 1 {
		t.Errorf("request counter = %v, want at least 1", got)
	}
	if n := testutil.CollectAndCount(metrics.HTTPDuration); n < 1 {
		t.Errorf("duration series = %d, want at least 1", n)
	}
}

func TestRouter_UnmatchedRouteLabelled(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/no-such-route", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status code = %d, want %d", rec.Code, http.StatusNotFound)
	}

	got := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("GET", "unmatched", "404"))
	if got < 1 {
		t.Errorf("unmatched counter = %v, want at least 1", got)
	}
}
