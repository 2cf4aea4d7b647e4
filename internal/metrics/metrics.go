// Package metrics exposes Prometheus metrics for tool calls, Atlassian
// requests, the response cache and the user context store.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HendryAvila/atlassian-mcp/internal/cache"
	"github.com/HendryAvila/atlassian-mcp/internal/contextstore"
)

const namespace = "atlassian_mcp"

// CacheStats is satisfied by *cache.Store.
type CacheStats interface {
	Stats() cache.Stats
}

// ContextStats is satisfied by *contextstore.Store.
type ContextStats interface {
	Stats() contextstore.Stats
}

// Metrics owns a private registry. Nothing is registered globally.
type Metrics struct {
	reg *prometheus.Registry

	ToolCalls        *prometheus.CounterVec
	ToolDuration     *prometheus.HistogramVec
	APIRequests      *prometheus.CounterVec
	APIDuration      *prometheus.HistogramVec
	CacheInvalidated *prometheus.CounterVec
}

// New creates the registry with Go and process collectors plus the
// server's own metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		ToolCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Total number of MCP tool calls",
			},
			[]string{"tool", "status"},
		),
		ToolDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_call_duration_seconds",
				Help:      "MCP tool call duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
			},
			[]string{"tool"},
		),
		APIRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "atlassian_requests_total",
				Help:      "Total number of HTTP requests sent to Atlassian",
			},
			[]string{"method", "family", "code"},
		),
		APIDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "atlassian_request_duration_seconds",
				Help:      "Atlassian request duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
			[]string{"method", "family"},
		),
		CacheInvalidated: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_invalidated_keys_total",
				Help:      "Keys removed by explicit invalidation",
			},
			[]string{"kind"},
		),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// WatchCache publishes cache size and hit/miss counters, read on scrape.
func (m *Metrics) WatchCache(c CacheStats) {
	f := promauto.With(m.reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "cache_entries",
		Help: "Entries currently held by the response cache",
	}, func() float64 { return float64(c.Stats().Size) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Name: "cache_hits_total",
		Help: "Cache lookups that found a live entry",
	}, func() float64 { return float64(c.Stats().Hits) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Name: "cache_misses_total",
		Help: "Cache lookups that found nothing or an expired entry",
	}, func() float64 { return float64(c.Stats().Misses) })
}

// WatchContexts publishes user context store gauges.
func (m *Metrics) WatchContexts(s ContextStats) {
	f := promauto.With(m.reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "active_users",
		Help: "User contexts held in memory",
	}, func() float64 { return float64(s.Stats().ActiveUsers) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "avg_tools_per_user",
		Help: "Average number of tool executions recorded per active user today",
	}, func() float64 { return s.Stats().AvgToolsPerUser })
}

// ObserveTool records one tool call. Nil-safe.
func (m *Metrics) ObserveTool(tool string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveRequest implements atlassian.Observer.
func (m *Metrics) ObserveRequest(method, family string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.APIRequests.WithLabelValues(method, family, strconv.Itoa(status)).Inc()
	m.APIDuration.WithLabelValues(method, family).Observe(d.Seconds())
}

// ObserveInvalidation counts keys dropped by an explicit invalidation of
// the given kind (tag, pattern, hierarchy or all). Nil-safe.
func (m *Metrics) ObserveInvalidation(kind string, removed int) {
	if m == nil {
		return
	}
	m.CacheInvalidated.WithLabelValues(kind).Add(float64(removed))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
