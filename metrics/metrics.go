// Package metrics defines the Prometheus collectors exported by the pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	FetchAttempts   *prometheus.CounterVec
	RetryAttempts   *prometheus.CounterVec
	ItemsFinished   *prometheus.CounterVec
	PhaseDuration   *prometheus.HistogramVec
	LinksInjected   prometheus.Counter
	LinksRepaired   *prometheus.CounterVec
	VideoCorrection prometheus.Counter
	CacheLookups    *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		FetchAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "seo_pipeline_fetch_attempts_total",
			Help: "Fetch attempts by transport and outcome (ok, unusable, error)",
		}, []string{"transport", "outcome"}),
		RetryAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "seo_pipeline_retry_attempts_total",
			Help: "Provider call attempts by classification (success, retriable, terminal, exhausted)",
		}, []string{"result"}),
		ItemsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "seo_pipeline_items_finished_total",
			Help: "Content items leaving the generating state, by final status",
		}, []string{"status"}),
		PhaseDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "seo_pipeline_phase_duration_seconds",
			Help:    "Time spent per generation phase",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"phase"}),
		LinksInjected: f.NewCounter(prometheus.CounterOpts{
			Name: "seo_pipeline_links_injected_total",
			Help: "Internal links injected by quota enforcement",
		}),
		LinksRepaired: f.NewCounterVec(prometheus.CounterOpts{
			Name: "seo_pipeline_links_repaired_total",
			Help: "Placeholder repairs by outcome (rewritten, dropped)",
		}, []string{"outcome"}),
		VideoCorrection: f.NewCounter(prometheus.CounterOpts{
			Name: "seo_pipeline_video_corrections_total",
			Help: "Duplicate video embeds rewritten",
		}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "seo_pipeline_cache_lookups_total",
			Help: "TTL cache lookups by result (hit, miss)",
		}, []string{"result"}),
	}
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Fetch(transport, outcome string) {
	if m == nil {
		return
	}
	m.FetchAttempts.WithLabelValues(transport, outcome).Inc()
}

func (m *Metrics) Retry(result string) {
	if m == nil {
		return
	}
	m.RetryAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) ItemFinished(status string) {
	if m == nil {
		return
	}
	m.ItemsFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) Phase(phase string, seconds float64) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase).Observe(seconds)
}

func (m *Metrics) Links(injected, rewritten, dropped int) {
	if m == nil {
		return
	}
	m.LinksInjected.Add(float64(injected))
	m.LinksRepaired.WithLabelValues("rewritten").Add(float64(rewritten))
	m.LinksRepaired.WithLabelValues("dropped").Add(float64(dropped))
}

func (m *Metrics) Video(corrected bool) {
	if m == nil || !corrected {
		return
	}
	m.VideoCorrection.Inc()
}

func (m *Metrics) Cache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}
