package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/hottrack/internal/observability"
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

func Test_TrackerMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := New(BuildInfo{Version: "test"})
	observability.Init(p.Registerer(), true)
	t.Cleanup(func() { observability.Init(nil, false) })

	observability.IncAccess("vol0", false)
	observability.IncAccess("vol0", true)
	observability.SetItems("vol0", "range", 42)
	observability.SetBucketed("vol0", 7)
	observability.ObserveAgingPass("vol0", 0.003)
	observability.IncEviction("vol0", "range")
	observability.ObserveExport("redis", errors.New("down"))
	observability.IncIngested("ok")
	observability.ObserveHTTP(http.MethodPost, "/v1/domains/{domain}/access", http.StatusAccepted, 0.001)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	mustContain := []string{
		`hottrack_aging_pass_seconds_bucket`,
		`hottrack_items{domain="vol0",kind="range"} 42`,
		`hottrack_bucketed_items{domain="vol0"} 7`,
		`hottrack_export_ops_total{outcome="error",sink="redis"} 1`,
		`hottrack_ingested_events_total{outcome="ok"} 1`,
	}
	for _, s := range mustContain {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}

	assertHasMetricLine(t, body, "hottrack_accesses_total", `domain="vol0"`, `op="read"`)
	assertHasMetricLine(t, body, "hottrack_accesses_total", `domain="vol0"`, `op="write"`)
	assertHasMetricLine(t, body, "http_requests_total", `route="/v1/domains/{domain}/access"`, `status="202"`)
	assertHasMetricLine(t, body, "hottrack_build_info", `version="test"`)
}

func Test_TrackerMetrics_DisabledIsNoop(t *testing.T) {
	p := New(BuildInfo{})
	observability.Init(p.Registerer(), false)

	observability.IncAccess("vol0", false)

	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if strings.Contains(rr.Body.String(), "hottrack_accesses_total") {
		t.Fatal("disabled metrics were registered")
	}
}
