// Package observability holds the Prometheus collectors of the tracker.
// Every helper is a no-op until Init is called with enabled=true.
package observability

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type collectors struct {
	accesses        *prometheus.CounterVec
	recordErrors    *prometheus.CounterVec
	items           *prometheus.GaugeVec
	bucketed        *prometheus.GaugeVec
	agingPass       *prometheus.HistogramVec
	agingItemErrors *prometheus.CounterVec
	evictions       *prometheus.CounterVec
	exportOps       *prometheus.CounterVec
	ingested        *prometheus.CounterVec
	policyBuckets   *prometheus.HistogramVec
	policyVerdicts  *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

var cur atomic.Pointer[collectors]

func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		cur.Store(nil)
		return
	}
	f := promauto.With(reg)
	c := &collectors{
		accesses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hottrack_accesses_total",
			Help: "Recorded accesses by direction.",
		}, []string{"domain", "op"}),
		recordErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hottrack_record_errors_total",
			Help: "Accesses that could not be fully recorded.",
		}, []string{"domain", "reason"}),
		items: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hottrack_items",
			Help: "Tracked items by kind.",
		}, []string{"domain", "kind"}),
		bucketed: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hottrack_bucketed_items",
			Help: "Items linked into a heat map bucket.",
		}, []string{"domain"}),
		agingPass: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hottrack_aging_pass_seconds",
			Help:    "Duration of aging passes.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}, []string{"domain"}),
		agingItemErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hottrack_aging_item_errors_total",
			Help: "Items skipped by an aging pass because scoring failed.",
		}, []string{"domain"}),
		evictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hottrack_evictions_total",
			Help: "Items released by aging because they became obsolete.",
		}, []string{"domain", "kind"}),
		exportOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hottrack_export_ops_total",
			Help: "Heat map exports by outcome.",
		}, []string{"sink", "outcome"}),
		ingested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hottrack_ingested_events_total",
			Help: "Access events consumed from the message bus by outcome.",
		}, []string{"outcome"}),
		policyBuckets: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hottrack_policy_bucket",
			Help:    "Heat map bucket of each temperature a policy computed.",
			Buckets: prometheus.LinearBuckets(0, 32, 8),
		}, []string{"policy"}),
		policyVerdicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hottrack_policy_verdicts_total",
			Help: "Obsolescence checks by verdict.",
		}, []string{"policy", "verdict"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"method", "route", "status"}),
	}
	cur.Store(c)
}

func IncAccess(domain string, write bool) {
	c := cur.Load()
	if c == nil {
		return
	}
	op := "read"
	if write {
		op = "write"
	}
	c.accesses.WithLabelValues(domain, op).Inc()
}

func IncRecordError(domain, reason string) {
	if c := cur.Load(); c != nil {
		c.recordErrors.WithLabelValues(domain, reason).Inc()
	}
}

func SetItems(domain, kind string, n int64) {
	if c := cur.Load(); c != nil {
		c.items.WithLabelValues(domain, kind).Set(float64(n))
	}
}

func SetBucketed(domain string, n int) {
	if c := cur.Load(); c != nil {
		c.bucketed.WithLabelValues(domain).Set(float64(n))
	}
}

func ObserveAgingPass(domain string, seconds float64) {
	if c := cur.Load(); c != nil {
		c.agingPass.WithLabelValues(domain).Observe(seconds)
	}
}

func IncAgingItemError(domain string) {
	if c := cur.Load(); c != nil {
		c.agingItemErrors.WithLabelValues(domain).Inc()
	}
}

func IncEviction(domain, kind string) {
	if c := cur.Load(); c != nil {
		c.evictions.WithLabelValues(domain, kind).Inc()
	}
}

func ObserveExport(sink string, err error) {
	c := cur.Load()
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.exportOps.WithLabelValues(sink, outcome).Inc()
}

func IncIngested(outcome string) {
	if c := cur.Load(); c != nil {
		c.ingested.WithLabelValues(outcome).Inc()
	}
}

func ObservePolicyBucket(policy string, bucket int) {
	if c := cur.Load(); c != nil {
		c.policyBuckets.WithLabelValues(policy).Observe(float64(bucket))
	}
}

func IncPolicyVerdict(policy string, obsolete bool) {
	c := cur.Load()
	if c == nil {
		return
	}
	verdict := "live"
	if obsolete {
		verdict = "obsolete"
	}
	c.policyVerdicts.WithLabelValues(policy, verdict).Inc()
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	c := cur.Load()
	if c == nil {
		return
	}
	st := strconv.Itoa(status)
	c.httpRequests.WithLabelValues(method, route, st).Inc()
	c.httpDuration.WithLabelValues(method, route, st).Observe(durationSeconds)
}
