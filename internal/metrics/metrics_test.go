package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestDecisionIncrements(t *testing.T) {
	before := testutil.ToFloat64(AdmissionDecisions.WithLabelValues(StageRateLimit, OutcomeDeny))
	Decision(StageRateLimit, OutcomeDeny)
	after := testutil.ToFloat64(AdmissionDecisions.WithLabelValues(StageRateLimit, OutcomeDeny))
	if after-before != 1 {
		t.Fatalf("expected increment by 1, got %v", after-before)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	Degraded("check")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "gateway_quota_degraded_total") {
		t.Fatalf("expected degraded counter in exposition")
	}
}
