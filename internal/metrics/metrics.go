// Package metrics exposes collection operations and HTTP traffic as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements vectorstore.MetricsCollector on a private registry.
type Collector struct {
	registry *prometheus.Registry

	operations      *prometheus.CounterVec
	records         *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	candidates      *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates a Collector. An empty namespace defaults to "hako".
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = "hako"
	}
	c := &Collector{registry: prometheus.NewRegistry()}

	c.operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collection_operations_total",
			Help:      "Collection operations by kind and outcome",
		},
		[]string{"collection", "op", "status"},
	)
	c.records = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collection_records_total",
			Help:      "Records touched by successful upserts and deletes",
		},
		[]string{"collection", "op"},
	)
	c.latency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collection_operation_duration_seconds",
			Help:      "Collection operation latency",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"collection", "op"},
	)
	c.candidates = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_candidates",
			Help:      "ANN candidates fetched per search",
			Buckets:   prometheus.ExponentialBuckets(4, 2, 10),
		},
		[]string{"collection"},
	)
	c.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	c.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	c.registry.MustRegister(
		c.operations,
		c.records,
		c.latency,
		c.candidates,
		c.requestsTotal,
		c.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry all metrics are registered on.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (c *Collector) record(collection, op string, n int, d time.Duration, err error) {
	c.operations.WithLabelValues(collection, op, status(err)).Inc()
	c.latency.WithLabelValues(collection, op).Observe(d.Seconds())
	if err == nil && n > 0 {
		c.records.WithLabelValues(collection, op).Add(float64(n))
	}
}

func (c *Collector) RecordUpsert(collection string, records int, d time.Duration, err error) {
	c.record(collection, "upsert", records, d, err)
}

func (c *Collector) RecordDelete(collection string, records int, d time.Duration, err error) {
	c.record(collection, "delete", records, d, err)
}

func (c *Collector) RecordSearch(collection string, candidates, _ int, d time.Duration, err error) {
	c.record(collection, "search", 0, d, err)
	if err == nil {
		c.candidates.WithLabelValues(collection).Observe(float64(candidates))
	}
}

// ObserveRequest records one served HTTP request. route is the matched pattern, not the raw path.
func (c *Collector) ObserveRequest(method, route string, code int, d time.Duration) {
	c.requestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
