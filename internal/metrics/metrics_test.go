package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_ObserveContribution(t *testing.T) {
	m := New()
	m.ObserveContribution(OutcomeSuccess, 500)
	m.ObserveContribution(OutcomeSuccess, 250)
	m.ObserveContribution(OutcomeRejected, 999)

	if got := testutil.ToFloat64(m.contributions.WithLabelValues(OutcomeSuccess)); got != 2 {
		t.Fatalf("expected 2 successful contributions, got %v", got)
	}
	if got := testutil.ToFloat64(m.contributions.WithLabelValues(OutcomeRejected)); got != 1 {
		t.Fatalf("expected 1 rejected contribution, got %v", got)
	}
	if got := testutil.ToFloat64(m.contributionAmount); got != 750 {
		t.Fatalf("expected contributed amount 750, got %v", got)
	}
}

func TestMetrics_PhaseGaugeIsExclusive(t *testing.T) {
	m := New()
	m.SetPhase("failed")

	if got := testutil.ToFloat64(m.phase.WithLabelValues("failed")); got != 1 {
		t.Fatalf("expected failed phase gauge 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.phase.WithLabelValues("open")); got != 0 {
		t.Fatalf("expected open phase gauge 0, got %v", got)
	}
}

func TestMetrics_HandlerExposesCollectors(t *testing.T) {
	m := New()
	m.SetEscrowBalance(1234)
	m.SetUnsettledTransfers(2)
	m.ObservePayout(OutcomeSuccess, 1234)
	m.ObservePayout(OutcomeUnknown, 99)
	m.ObserveRefund(OutcomeFailed, 10)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		"crowdfund_escrow_balance_kobo 1234",
		"crowdfund_paid_out_kobo_total 1234",
		"crowdfund_unsettled_transfers 2",
		`crowdfund_payouts_total{outcome="unknown"} 1`,
		`crowdfund_refunds_total{outcome="failed"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected exposition to contain %q", want)
		}
	}
}
