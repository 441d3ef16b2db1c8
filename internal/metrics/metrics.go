// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"fusionbrain-proxy-go/internal/imaging"
	"fusionbrain-proxy-go/internal/rewrite"
)

// Default histogram buckets for API latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

// Transcoding a multi-megapixel image typically lands in the 10ms-2s range.
var transcodeBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	TranscodesTotal   *prometheus.CounterVec
	TranscodeDuration *prometheus.HistogramVec
	TranscodeBytes    *prometheus.CounterVec
	RewritesTotal     *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fusionbrain_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fusionbrain_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fusionbrain_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fusionbrain_proxy_upstream_request_duration_seconds",
			Help:    "Upstream call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fusionbrain_proxy_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		TranscodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fusionbrain_proxy_transcodes_total",
			Help: "Image transcodes by outcome and source format.",
		}, []string{"outcome", "source_format"}),

		TranscodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fusionbrain_proxy_transcode_duration_seconds",
			Help:    "Time spent decoding and re-encoding one image.",
			Buckets: transcodeBuckets,
		}, []string{"outcome"}),

		TranscodeBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fusionbrain_proxy_transcode_bytes_total",
			Help: "Decoded image bytes read (in) and JPEG bytes written (out).",
		}, []string{"direction"}),

		RewritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fusionbrain_proxy_responses_rewritten_total",
			Help: "Upstream responses seen by the rewriter, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.TranscodesTotal,
		m.TranscodeDuration,
		m.TranscodeBytes,
		m.RewritesTotal,
	)

	return m
}

// ReportTranscode records one transcode event. It satisfies imaging.Reporter.
func (m *Metrics) ReportTranscode(_ context.Context, ev imaging.Event) {
	outcome := ev.Outcome.String()
	m.TranscodesTotal.WithLabelValues(outcome, NormalizeFormat(ev.Format)).Inc()
	m.TranscodeDuration.WithLabelValues(outcome).Observe(ev.Duration.Seconds())
	if ev.Outcome == imaging.Converted {
		m.TranscodeBytes.WithLabelValues("in").Add(float64(ev.InputBytes))
		m.TranscodeBytes.WithLabelValues("out").Add(float64(ev.OutputBytes))
	}
}

// ReportRewrite records one rewrite summary. It satisfies rewrite.Reporter.
func (m *Metrics) ReportRewrite(_ context.Context, s rewrite.Summary) {
	m.RewritesTotal.WithLabelValues(string(s.Outcome)).Inc()
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
var knownPrefixes = []string{"/key/api", "/health", "/proxy/status", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}

var knownFormats = map[string]bool{
	"png": true, "jpeg": true, "gif": true, "webp": true, "bmp": true, "tiff": true,
}

// NormalizeFormat returns a bounded image format label; formats the decoder
// did not recognise are reported as "unknown".
func NormalizeFormat(format string) string {
	if knownFormats[format] {
		return format
	}
	return "unknown"
}
