// Package metrics provides Prometheus metrics collection for hyperchannels.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/artpar/hyperchannels/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeOmitted = "omitted"
)

// Collector holds all Prometheus metrics for hyperchannels.
type Collector struct {
	// Reference metrics
	EncodeTotal    *prometheus.CounterVec
	DecodeTotal    *prometheus.CounterVec
	DecodeDuration *prometheus.HistogramVec

	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Registry metrics
	RegistryStreams prometheus.Gauge

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates a collector registered on the default Prometheus registry.
func New() *Collector {
	c := NewWithRegistry(prometheus.DefaultRegisterer)
	c.gatherer = prometheus.DefaultGatherer
	return c
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	c := &Collector{
		EncodeTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hyperchannels",
				Name:      "encode_total",
				Help:      "Total number of references encoded",
			},
			[]string{"stream", "outcome"},
		),
		DecodeTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hyperchannels",
				Name:      "decode_total",
				Help:      "Total number of references decoded",
			},
			[]string{"stream", "outcome"},
		),
		DecodeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "hyperchannels",
				Name:      "decode_duration_seconds",
				Help:      "Reference decode duration in seconds, including the object lookup",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"stream"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hyperchannels",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "hyperchannels",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "hyperchannels",
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),
		RegistryStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "hyperchannels",
				Name:      "registry_streams",
				Help:      "Number of streams in the active registry",
			},
		),
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hyperchannels",
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hyperchannels",
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "hyperchannels",
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	}
	return c
}

// ObserveEncode counts one encode attempt. outcome is OutcomeOK,
// OutcomeOmitted or an error code.
func (c *Collector) ObserveEncode(stream, outcome string) {
	if c == nil {
		return
	}
	c.EncodeTotal.WithLabelValues(label(stream), outcome).Inc()
}

// ObserveDecode counts one decode and records its latency.
func (c *Collector) ObserveDecode(stream, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.DecodeTotal.WithLabelValues(label(stream), outcome).Inc()
	c.DecodeDuration.WithLabelValues(label(stream)).Observe(d.Seconds())
}

// ObserveRequest records a finished HTTP request.
func (c *Collector) ObserveRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.RequestsTotal.WithLabelValues(method, label(route), StatusClass(status)).Inc()
	c.RequestDuration.WithLabelValues(method, label(route)).Observe(d.Seconds())
}

// ConfigReloaded records a reload attempt.
func (c *Collector) ConfigReloaded(err error, streams int) {
	if c == nil {
		return
	}
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.SetToCurrentTime()
	c.RegistryStreams.Set(float64(streams))
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// StatusClass buckets a status code as 2xx, 4xx, ...
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return strconv.Itoa(status)
	}
	return strconv.Itoa(status/100) + "xx"
}

func label(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// Ensure interface compliance.
var _ ports.ReferenceMetrics = (*Collector)(nil)
