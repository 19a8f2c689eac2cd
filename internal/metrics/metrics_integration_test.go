package metrics

import (
	"strings"
	"testing"

	"github.com/mohammed-shakir/geostore/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && (len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9') {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func Test_ServiceMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(Config{Enabled: true, Build: BuildInfo{Version: "test"}})

	observability.ObserveHTTP("GET", "/v2/geostore/{hash}", 200, 0.004)
	observability.IncLookup("descriptor", false)
	observability.IncCreate("created")
	observability.ObserveStoreOp("redis", "create", nil, 0.002)
	observability.ObserveUpstreamLatency("postgis", "country", 0.3)
	observability.IncUpstreamAttempt("postgis", "country", "ok")
	observability.IncEvent("sent")

	body := scrape(t, p.Handler(), "/metrics")
	for _, s := range []string{
		`http_request_duration_seconds_bucket`,
		`geostore_store_op_seconds_count`,
		`upstream_latency_seconds_count`,
	} {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}

	assertHasMetricLine(t, body, "http_requests_total", `route="/v2/geostore/{hash}"`, `status="200"`)
	assertHasMetricLine(t, body, "geostore_lookups_total", `kind="descriptor"`, `outcome="miss"`)
	assertHasMetricLine(t, body, "geostore_records_total", `result="created"`)
	assertHasMetricLine(t, body, "upstream_attempts_total", `outcome="ok"`)
	assertHasMetricLine(t, body, "geostore_events_total", `result="sent"`)
	assertHasMetricLine(t, body, "geostore_build_info", `version="test"`)
}

func TestInit_DisabledSkipsServiceCollectors(t *testing.T) {
	p := Init(Config{Enabled: false})
	observability.IncCreate("created")
	body := scrape(t, p.Handler(), "/metrics")
	if strings.Contains(body, "geostore_records_total") {
		t.Fatalf("service collectors exported while disabled:\n%s", body)
	}
}
