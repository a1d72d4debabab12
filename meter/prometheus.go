package meter

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ineyio/sitegen"
)

const namespace = "sitegen"

// PromMeter exports ledger, provider and HTTP metrics on its own registry.
type PromMeter struct {
	registry *prometheus.Registry

	quotaDecisions *prometheus.CounterVec
	quotaErrors    *prometheus.CounterVec
	quotaUsed      prometheus.Histogram

	providerAttempts *prometheus.CounterVec
	providerResults  *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerTokens   *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var _ sitegen.Meter = (*PromMeter)(nil)

// NewPromMeter creates a PromMeter with a fresh registry that also carries
// the Go runtime and process collectors.
func NewPromMeter() *PromMeter {
	m := &PromMeter{
		registry: prometheus.NewRegistry(),
		quotaDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "decisions_total",
			Help:      "Quota consume decisions by outcome.",
		}, []string{"outcome"}),
		quotaErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "errors_total",
			Help:      "Ledger operations that failed.",
		}, []string{"op"}),
		quotaUsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "used_after_grant",
			Help:      "Subject usage right after a granted consume.",
			Buckets:   prometheus.LinearBuckets(1, 5, 10),
		}),
		providerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "attempts_total",
			Help:      "Provider calls attempted.",
		}, []string{"provider", "model"}),
		providerResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "results_total",
			Help:      "Provider call outcomes.",
		}, []string{"provider", "model", "success"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "duration_seconds",
			Help:      "Provider call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 9), // 250ms to ~64s
		}, []string{"provider", "model"}),
		providerTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "tokens_total",
			Help:      "Tokens reported by providers.",
		}, []string{"provider", "kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		}, []string{"method", "path"}),
	}

	m.registry.MustRegister(
		m.quotaDecisions,
		m.quotaErrors,
		m.quotaUsed,
		m.providerAttempts,
		m.providerResults,
		m.providerDuration,
		m.providerTokens,
		m.httpRequests,
		m.httpDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry the meter's collectors live on.
func (m *PromMeter) Registry() *prometheus.Registry { return m.registry }

// Handler exposes the registry in the Prometheus text format.
func (m *PromMeter) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PromMeter) OnQuota(e sitegen.QuotaEvent) {
	if e.Error != nil {
		m.quotaErrors.WithLabelValues(string(e.Op)).Inc()
		return
	}
	if e.Op != sitegen.QuotaOpConsume {
		return
	}
	if e.Granted {
		m.quotaDecisions.WithLabelValues("granted").Inc()
		m.quotaUsed.Observe(float64(e.Status.Used))
		return
	}
	m.quotaDecisions.WithLabelValues("denied").Inc()
}

func (m *PromMeter) OnRoute(e sitegen.RouteEvent) {
	m.providerAttempts.WithLabelValues(e.Provider, e.Model).Inc()
}

func (m *PromMeter) OnResult(e sitegen.ResultEvent) {
	m.providerResults.WithLabelValues(e.Provider, e.Model, strconv.FormatBool(e.Success)).Inc()
	m.providerDuration.WithLabelValues(e.Provider, e.Model).Observe(e.Duration.Seconds())
	if e.Success {
		m.providerTokens.WithLabelValues(e.Provider, "prompt").Add(float64(e.Usage.PromptTokens))
		m.providerTokens.WithLabelValues(e.Provider, "completion").Add(float64(e.Usage.CompletionTokens))
	}
}

// ObserveHTTP records one served HTTP request. path should be the route
// template, not the raw URL, to keep label cardinality bounded.
func (m *PromMeter) ObserveHTTP(method, path string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
