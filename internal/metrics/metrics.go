// Package metrics exposes the proxy's own health as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/leoncaiau912/prometheus-proxy/internal/proxy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "proxy"

// Scrape outcomes recorded on proxy_scrape_requests_total.
const (
	OutcomeSuccess      = "success"
	OutcomeUnknownAgent = "unknown_agent"
	OutcomeUnknownPath  = "unknown_path"
	OutcomeQueueFull    = "queue_full"
	OutcomeInvalidated  = "invalidated"
	OutcomeTimeout      = "timeout"
	OutcomeAgentFailure = "agent_failure"
	OutcomeCancelled    = "cancelled"
)

type ProxyMetrics struct {
	registry *prometheus.Registry

	scrapeRequests *prometheus.CounterVec
	scrapeDuration prometheus.Histogram
	connectCount   prometheus.Counter
	evictionCount  prometheus.Counter
}

// NewProxyMetrics builds a registry whose gauges read the managers on every
// collection, so they never drift from the live maps.
func NewProxyMetrics(agents *proxy.AgentContextManager, scrapes *proxy.ScrapeRequestManager, paths *proxy.PathManager) *ProxyMetrics {
	m := &ProxyMetrics{
		registry: prometheus.NewRegistry(),
		scrapeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrape_requests_total",
			Help:      "Scrape requests received, by outcome",
		}, []string{"outcome"}),
		scrapeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scrape_request_duration_seconds",
			Help:      "Time from scrape intake to the agent's answer",
			Buckets:   prometheus.DefBuckets,
		}),
		connectCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_count",
			Help:      "Agent connections accepted",
		}),
		evictionCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eviction_count",
			Help:      "Agents evicted for inactivity or by an operator",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.scrapeRequests,
		m.scrapeDuration,
		m.connectCount,
		m.evictionCount,
		gaugeFunc("agent_map_size", "Registered agent sessions", func() float64 {
			return float64(agents.AgentContextSize())
		}),
		gaugeFunc("chunk_context_map_size", "Chunked transfers in flight", func() float64 {
			return float64(agents.ChunkedContextSize())
		}),
		gaugeFunc("scrape_request_backlog_size", "Scrape requests queued across all agents", func() float64 {
			return float64(agents.TotalAgentScrapeRequestBacklogSize())
		}),
		gaugeFunc("scrape_map_size", "Scrape requests waiting for an agent answer", func() float64 {
			return float64(scrapes.Count())
		}),
		gaugeFunc("path_map_size", "Scrape paths announced by agents", func() float64 {
			return float64(paths.Size())
		}),
	)

	return m
}

func gaugeFunc(name, help string, fn func() float64) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

func (m *ProxyMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *ProxyMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *ProxyMetrics) ObserveScrape(outcome string, elapsed time.Duration) {
	m.scrapeRequests.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess {
		m.scrapeDuration.Observe(elapsed.Seconds())
	}
}

func (m *ProxyMetrics) IncConnect() {
	m.connectCount.Inc()
}

func (m *ProxyMetrics) IncEviction() {
	m.evictionCount.Inc()
}
