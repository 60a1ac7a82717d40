package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	PostsCreated    *prometheus.CounterVec
	BlobUploads     *prometheus.CounterVec
	DeviceFixes     *prometheus.CounterVec
	Submissions     *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	VisibleComputed prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zachatter_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zachatter_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		PostsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zachatter_posts_created_total",
			Help: "Posts written to the store, by kind.",
		}, []string{"kind"}),
		BlobUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zachatter_blob_uploads_total",
			Help: "Photo uploads by result.",
		}, []string{"result"}),
		DeviceFixes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zachatter_device_fixes_total",
			Help: "Device location fixes by result.",
		}, []string{"result"}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zachatter_submissions_total",
			Help: "Composition submissions by outcome.",
		}, []string{"outcome"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zachatter_active_sessions",
			Help: "Connected map sessions.",
		}),
		VisibleComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zachatter_visibility_recomputes_total",
			Help: "Visible set recomputations.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests,
		m.HTTPDuration,
		m.PostsCreated,
		m.BlobUploads,
		m.DeviceFixes,
		m.Submissions,
		m.ActiveSessions,
		m.VisibleComputed,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Middleware records every request against its matched route.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m == nil {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		route := c.Route().Path
		m.HTTPRequests.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		m.HTTPDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}

func (m *Metrics) IncPostCreated(booth bool) {
	if m == nil {
		return
	}
	kind := "post"
	if booth {
		kind = "booth"
	}
	m.PostsCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncBlobUpload(result string) {
	if m == nil {
		return
	}
	m.BlobUploads.WithLabelValues(result).Inc()
}

func (m *Metrics) IncDeviceFix(accepted bool) {
	if m == nil {
		return
	}
	result := "accepted"
	if !accepted {
		result = "throttled"
	}
	m.DeviceFixes.WithLabelValues(result).Inc()
}

func (m *Metrics) IncSubmission(outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncVisibleComputed() {
	if m == nil {
		return
	}
	m.VisibleComputed.Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}
