package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, true)
	Init(reg, true) // second registration is a no-op
	ObserveHTTP("GET", "/v2/geostore/{hash}", 200, 0.001)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `http_requests_total{method="GET",route="/v2/geostore/{hash}",status="200"}`) {
		t.Fatalf("metrics payload did not contain expected series; got:\n%s", body)
	}
}

func TestInit_Disabled(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, false)
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) != 0 {
		t.Fatalf("disabled metrics registered %d families", len(mfs))
	}
}

func TestLookupAndCreateCounters(t *testing.T) {
	beforeHit := testutil.ToFloat64(lookupResults.WithLabelValues("descriptor", "hit"))
	beforeMiss := testutil.ToFloat64(lookupResults.WithLabelValues("descriptor", "miss"))

	IncLookup("descriptor", true)
	IncLookup("descriptor", false)
	IncLookup("descriptor", false)

	if got := testutil.ToFloat64(lookupResults.WithLabelValues("descriptor", "hit")) - beforeHit; got != 1 {
		t.Fatalf("hit delta=%v want 1", got)
	}
	if got := testutil.ToFloat64(lookupResults.WithLabelValues("descriptor", "miss")) - beforeMiss; got != 2 {
		t.Fatalf("miss delta=%v want 2", got)
	}

	before := testutil.ToFloat64(recordsCreated.WithLabelValues("conflict"))
	IncCreate("conflict")
	if got := testutil.ToFloat64(recordsCreated.WithLabelValues("conflict")) - before; got != 1 {
		t.Fatalf("conflict delta=%v want 1", got)
	}
}

func TestStoreOpAndUpstreamSeries(t *testing.T) {
	ObserveStoreOp("redis", "create", nil, 0.002)
	ObserveStoreOp("redis", "create", errors.New("x"), 0.002)
	ObserveUpstreamLatency("postgis", "country", 0.1)
	IncUpstreamAttempt("postgis", "country", "retry")

	if n := testutil.CollectAndCount(storeOpSeconds, "geostore_store_op_seconds"); n < 2 {
		t.Fatalf("store op series=%d want >=2", n)
	}
	if n := testutil.CollectAndCount(upstreamAttempts, "upstream_attempts_total"); n < 1 {
		t.Fatalf("upstream attempt series=%d", n)
	}
}
