package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

func TestObserveCheckoutCountsOnlyCommittedAmounts(t *testing.T) {
	m := New()
	m.ObserveCheckout("committed", decimal.RequireFromString("470.00"), 12*time.Millisecond)
	m.ObserveCheckout("rejected", decimal.RequireFromString("999.00"), time.Millisecond)

	if got := testutil.ToFloat64(m.Checkouts.WithLabelValues("committed")); got != 1 {
		t.Fatalf("expected 1 committed checkout, got %v", got)
	}
	if got := testutil.ToFloat64(m.SalesAmount); got != 470 {
		t.Fatalf("expected sales amount 470, got %v", got)
	}
}

func TestHandlerExposesOwnRegistry(t *testing.T) {
	first := New()
	second := New()
	first.ObserveRequest("checkout", http.StatusCreated, time.Millisecond)
	second.ObserveFulfillment("send_to_inventory", "committed", time.Millisecond)

	rec := httptest.NewRecorder()
	first.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `ahontrack_http_requests_total{handler="checkout",status="201"} 1`) {
		t.Fatalf("expected request counter in output")
	}
	if strings.Contains(body, `operation="send_to_inventory"`) {
		t.Fatalf("metrics from another instance leaked into this registry")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCheckout("committed", decimal.Zero, 0)
	m.ObserveFulfillment("reverse", "failed", 0)
	m.ObserveRequest("x", 200, 0)
}
