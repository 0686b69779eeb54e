// Package metrics assembles the /metrics endpoint of one extraction run.
//
// The pipeline's own series live on observability.Registry(). A Provider adds
// process and build collectors, the identity of the run (run id and lake) and,
// when a progress source is attached, gauges for the stage the run is in.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/lakeextract/internal/core/observability"
)

const namespace = "lakeextract"

type BuildInfo struct {
	Version   string
	Revision  string
	Branch    string
	BuildDate string
}

type Config struct {
	Build BuildInfo
	RunID string
	Lake  string
}

// Progress reports the stage of the running extraction. *health.Tracker satisfies it.
type Progress interface {
	Progress() (stage string, done bool, err error)
}

type Provider struct {
	reg  *prometheus.Registry
	once sync.Once
}

func Init(cfg Config) *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	build := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build info for this binary (value is always 1).",
	}, []string{"version", "revision", "branch", "build_date"})
	v := cfg.Build
	if v.Version == "" {
		v.Version = "dev"
	}
	build.WithLabelValues(v.Version, v.Revision, v.Branch, v.BuildDate).Set(1)

	run := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_info",
		Help:      "Identity of the running extraction (value is always 1).",
	}, []string{"run_id", "lake"})
	run.WithLabelValues(cfg.RunID, cfg.Lake).Set(1)

	reg.MustRegister(build, run)
	return &Provider{reg: reg}
}

// TrackProgress exports the current stage and outcome of src. Only the first
// call has an effect.
func (p *Provider) TrackProgress(src Progress) {
	p.once.Do(func() { p.reg.MustRegister(newProgressCollector(src)) })
}

// Handler serves the provider registry merged with the pipeline metrics.
func (p *Provider) Handler() http.Handler {
	g := prometheus.Gatherers{p.reg, observability.Registry()}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (p *Provider) Register(cs ...prometheus.Collector) {
	for _, c := range cs {
		p.reg.MustRegister(c)
	}
}

// progressCollector reads the progress source on every scrape.
type progressCollector struct {
	src   Progress
	stage *prometheus.Desc
	state *prometheus.Desc
}

func newProgressCollector(src Progress) *progressCollector {
	return &progressCollector{
		src: src,
		stage: prometheus.NewDesc(namespace+"_run_stage",
			"Stage the run is in (value is always 1).", []string{"stage"}, nil),
		state: prometheus.NewDesc(namespace+"_run_state",
			"Run state: 0 running, 1 finished, 2 failed.", nil, nil),
	}
}

func (c *progressCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.stage
	ch <- c.state
}

func (c *progressCollector) Collect(ch chan<- prometheus.Metric) {
	stage, done, err := c.src.Progress()
	if stage != "" {
		ch <- prometheus.MustNewConstMetric(c.stage, prometheus.GaugeValue, 1, stage)
	}
	state := 0.0
	switch {
	case done && err != nil:
		state = 2
	case done:
		state = 1
	}
	ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, state)
}
