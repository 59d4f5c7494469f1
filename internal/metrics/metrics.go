// Package metrics owns the Prometheus registry the daemon serves on
// /metrics: runtime collectors, the build identity and a per-domain view of
// the tracked roots read at scrape time.
package metrics

import (
	"net/http"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/hottrack/internal/hottrack"
)

type BuildInfo struct {
	Version   string
	Revision  string
	BuildDate string
}

// resolve fills what the linker flags left empty from the VCS stamp the go
// command embeds.
func (b BuildInfo) resolve(read func() (*debug.BuildInfo, bool)) BuildInfo {
	bi, ok := read()
	if ok {
		if b.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			b.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && b.Revision == "":
				b.Revision = s.Value
			case s.Key == "vcs.time" && b.BuildDate == "":
				b.BuildDate = s.Value
			}
		}
	}
	if b.Version == "" {
		b.Version = "dev"
	}
	return b
}

// Domains is the view of the tracked roots the registry reports on;
// tracking.Manager implements it.
type Domains interface {
	Domains() []string
	Get(domain string) (*hottrack.Root, bool)
}

type Provider struct {
	reg *prometheus.Registry
}

func New(build BuildInfo) *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	b := build.resolve(debug.ReadBuildInfo)
	info := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hottrack_build_info",
		Help: "Build of this binary (value is always 1).",
		ConstLabels: prometheus.Labels{
			"version":    b.Version,
			"revision":   b.Revision,
			"build_date": b.BuildDate,
		},
	})
	info.Set(1)
	reg.MustRegister(info)
	return &Provider{reg: reg}
}

// TrackDomains reports every root of src on each scrape.
func (p *Provider) TrackDomains(src Domains) {
	p.reg.MustRegister(&domainCollector{src: src})
}

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{Registry: p.reg})
}

func (p *Provider) Registerer() prometheus.Registerer { return p.reg }
func (p *Provider) Gatherer() prometheus.Gatherer     { return p.reg }

var (
	domainInfoDesc = prometheus.NewDesc("hottrack_domain_info",
		"Tracked domain with its policy and aging state (value is always 1).",
		[]string{"domain", "policy", "aging"}, nil)
	generationDesc = prometheus.NewDesc("hottrack_aging_generation",
		"Completed aging passes of a domain.",
		[]string{"domain"}, nil)
	rangeBytesDesc = prometheus.NewDesc("hottrack_range_bytes",
		"Length of one tracked range of a domain.",
		[]string{"domain"}, nil)
)

type domainCollector struct {
	src Domains
}

func (c *domainCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- domainInfoDesc
	ch <- generationDesc
	ch <- rangeBytesDesc
}

func (c *domainCollector) Collect(ch chan<- prometheus.Metric) {
	for _, d := range c.src.Domains() {
		r, ok := c.src.Get(d)
		if !ok {
			continue
		}
		info := r.Info()
		ch <- prometheus.MustNewConstMetric(domainInfoDesc, prometheus.GaugeValue, 1, d, info.Policy, info.Aging)
		ch <- prometheus.MustNewConstMetric(generationDesc, prometheus.CounterValue, float64(info.Generation), d)
		ch <- prometheus.MustNewConstMetric(rangeBytesDesc, prometheus.GaugeValue, float64(r.RangeSize()), d)
	}
}
