package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/frostdev-ops/hmip-go/internal/adapters/hmip"
	"github.com/frostdev-ops/hmip-go/pkg/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements hmip.MetricsObserver with Prometheus metrics on its own registry
type Collector struct {
	registry *prometheus.Registry

	// Cloud metrics
	restCallsTotal   *prometheus.CounterVec
	restCallDuration *prometheus.HistogramVec

	// Session metrics
	eventsTotal      *prometheus.CounterVec
	reconnectsTotal  prometheus.Counter
	sessionConnected prometheus.Gauge

	// Mirror metrics
	mirrorEntities *prometheus.GaugeVec

	// Admin API metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector registers all metrics under namespace
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "hmip"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	c := &Collector{registry: reg}

	c.restCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rest_calls_total",
			Help:      "Total number of REST calls to the HmIP cloud",
		},
		[]string{"path", "status"},
	)

	c.restCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rest_call_duration_seconds",
			Help:      "HmIP cloud REST call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	c.eventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of pushed events received",
		},
		[]string{"type"},
	)

	c.reconnectsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_reconnects_total",
			Help:      "Total number of WebSocket reconnect attempts",
		},
	)

	c.sessionConnected = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_connected",
			Help:      "1 while the event WebSocket is open",
		},
	)

	c.mirrorEntities = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mirror_entities",
			Help:      "Number of entities in the local mirror",
		},
		[]string{"kind"},
	)

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of admin API requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Admin API request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	info := version.GetBuildInfo()
	factory.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Build information",
		ConstLabels: prometheus.Labels{"version": info.Version, "go_version": info.GoVersion},
	}).Set(1)

	return c
}

func (c *Collector) ObserveRESTCall(path string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	if statusCode == 0 {
		status = "error"
	}
	c.restCallsTotal.WithLabelValues(path, status).Inc()
	c.restCallDuration.WithLabelValues(path).Observe(duration.Seconds())
}

func (c *Collector) ObserveEvent(eventType hmip.EventType) {
	c.eventsTotal.WithLabelValues(string(eventType)).Inc()
}

func (c *Collector) ObserveReconnect() {
	c.reconnectsTotal.Inc()
}

func (c *Collector) SetConnected(connected bool) {
	if connected {
		c.sessionConnected.Set(1)
		return
	}
	c.sessionConnected.Set(0)
}

// SetMirrorCounts publishes the mirror size
func (c *Collector) SetMirrorCounts(counts hmip.MirrorCounts) {
	c.mirrorEntities.WithLabelValues("device").Set(float64(counts.Devices))
	c.mirrorEntities.WithLabelValues("group").Set(float64(counts.Groups))
	c.mirrorEntities.WithLabelValues("client").Set(float64(counts.Clients))
}

// RecordHTTPRequest records one admin API request
func (c *Collector) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Registry exposes the underlying registry for tests and extra collectors
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

var _ hmip.MetricsObserver = (*Collector)(nil)
