// Package metrics owns the Prometheus registry of the editor: HTTP RED
// metrics, build info, rate limiting, and the preview, save and Github
// counters the editor flows report through callbacks.
//
// Labels are bounded. Routes are chi patterns, results are short fixed
// strings, Github operations are named by the store.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-editor/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight  prometheus.Gauge
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	respBytes *prometheus.HistogramVec
	panics    prometheus.Counter

	buildInfo *prometheus.GaugeVec
	profiling prometheus.Gauge

	rateDenied   prometheus.Counter
	rateCapacity prometheus.Counter

	contentSource   *prometheus.GaugeVec
	contentLoadedAt prometheus.Gauge

	previewEnter   *prometheus.CounterVec
	previewExit    prometheus.Counter
	resolves       *prometheus.CounterVec
	saves          *prometheus.CounterVec
	githubLatency  *prometheus.HistogramVec
	oauthExchanges *prometheus.CounterVec
}

// New builds a registry with the Go and process collectors plus every
// editor metric, and the /metrics handler that serves it.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &ServerMetrics{
		reg: reg,
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "HTTP requests currently being served",
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "HTTP 5xx responses by method and route",
		}, []string{"method", "route"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response size by method and route",
			Buckets: prometheus.ExponentialBuckets(256, 4, 9),
		}, []string{"method", "route"}),
		panics: f.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Handler panics recovered by the servers",
		}),
		buildInfo: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata, the value is always 1",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profiling: f.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "1 while continuous profiling is running",
		}),
		rateDenied: f.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Requests rejected by the per IP rate limiter",
		}),
		rateCapacity: f.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Times the rate limiter visitor map filled up",
		}),
		contentSource: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "content_source_info",
			Help: "Where the published snapshot came from, the value is always 1",
		}, []string{"source"}),
		contentLoadedAt: f.NewGauge(prometheus.GaugeOpts{
			Name: "content_loaded_timestamp_seconds",
			Help: "Unix time the published snapshot was loaded",
		}),
		previewEnter: f.NewCounterVec(prometheus.CounterOpts{
			Name: "preview_enter_total",
			Help: "Attempts to enter preview mode by result",
		}, []string{"result"}),
		previewExit: f.NewCounter(prometheus.CounterOpts{
			Name: "preview_exit_total",
			Help: "Preview sessions ended",
		}),
		resolves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "content_resolve_total",
			Help: "Document lookups by source and result",
		}, []string{"source", "result"}),
		saves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "content_save_total",
			Help: "Editor saves by result",
		}, []string{"result"}),
		githubLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "github_api_request_duration_seconds",
			Help:    "Github API call latency by operation and result",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"op", "result"}),
		oauthExchanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "github_oauth_exchange_total",
			Help: "Github OAuth callbacks by result",
		}, []string{"result"}),
	}
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// SetBuildInfoFromVersion is called once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.WithLabelValues(app, component, vi.Version, vi.Commit, vi.CommitDate,
		vi.BuildId, vi.BuildDate, dirty, vi.GoVersion).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) { m.profiling.Set(boolGauge(active)) }

func (m *ServerMetrics) IncHttpPanic()         { m.panics.Inc() }
func (m *ServerMetrics) IncRateLimitDenied()   { m.rateDenied.Inc() }
func (m *ServerMetrics) IncRateLimitCapacity() { m.rateCapacity.Inc() }

// SetContentSource replaces the previous source label.
func (m *ServerMetrics) SetContentSource(source string) {
	m.contentSource.Reset()
	m.contentSource.WithLabelValues(source).Set(1)
}

func (m *ServerMetrics) SetContentLoadedTimestamp(t time.Time) {
	m.contentLoadedAt.Set(float64(t.Unix()))
}

func (m *ServerMetrics) IncPreviewEnter(result string) { m.previewEnter.WithLabelValues(result).Inc() }
func (m *ServerMetrics) IncPreviewExit()               { m.previewExit.Inc() }

// IncContentResolve counts one document lookup, result is "ok" or the failure kind.
func (m *ServerMetrics) IncContentResolve(source, result string) {
	m.resolves.WithLabelValues(source, result).Inc()
}

func (m *ServerMetrics) IncContentSave(result string) { m.saves.WithLabelValues(result).Inc() }
func (m *ServerMetrics) IncOAuthExchange(result string) {
	m.oauthExchanges.WithLabelValues(result).Inc()
}

// ObserveGitHubRequest records the latency of one Github API call.
func (m *ServerMetrics) ObserveGitHubRequest(op string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.githubLatency.WithLabelValues(op, result).Observe(d.Seconds())
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
