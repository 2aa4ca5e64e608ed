package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAdmission("transcribe", true)
	m.SetInFlight("transcribe", 1)
	m.IncStale()
	m.IncRetry("rate_limited")
	m.ObserveCacheLookup(true)
	m.AddEvictions(3)
	m.AddReclaimed("graduated", 2)
	m.ObserveStoreWrite(false)
	m.AddCost("synthesize", "elevenlabs", 4)
	m.ObserveProvider("openai", "speech", "200", time.Second)

	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
}

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveAdmission("synthesize", true)
	m.ObserveAdmission("synthesize", false)
	m.ObserveAdmission("synthesize", false)
	if got := testutil.ToFloat64(m.admissions.WithLabelValues("synthesize", "rejected")); got != 2 {
		t.Errorf("rejected admissions = %v, want 2", got)
	}

	m.ObserveCacheLookup(true)
	m.ObserveCacheLookup(false)
	if got := testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}

	m.AddCost("synthesize", "elevenlabs", 6)
	m.AddCost("synthesize", "elevenlabs", 0)
	if got := testutil.ToFloat64(m.usageCost.WithLabelValues("synthesize", "elevenlabs")); got != 6 {
		t.Errorf("cost = %v, want 6", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.IncStale()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "speechkit_stale_operations_total 1") {
		t.Error("expected stale counter in exposition output")
	}
}
