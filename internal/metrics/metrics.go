// Package metrics exposes Prometheus counters for classification, search and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the interface used by services and middleware.
type Recorder interface {
	RecordClassification(label string, err error)
	RecordSearch(posts int, duration time.Duration, err error)
	RecordHTTPStatus(statusCode int)
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	classifications *prometheus.CounterVec
	searches        *prometheus.CounterVec
	searchPosts     prometheus.Counter
	searchLatency   prometheus.Histogram
	httpStatus      *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_classifications_total",
			Help: "Sentiment classifications by label and outcome.",
		}, []string{"label", "outcome"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_searches_total",
			Help: "Social searches by outcome.",
		}, []string{"outcome"}),
		searchPosts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pulse_search_posts_total",
			Help: "Posts returned by successful searches.",
		}),
		searchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulse_search_latency_seconds",
			Help:    "End-to-end latency of search and classify calls.",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_http_responses_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.classifications,
		c.searches,
		c.searchPosts,
		c.searchLatency,
		c.httpStatus,
	)

	return c
}

func (c *Collector) RecordClassification(label string, err error) {
	if err != nil {
		c.classifications.WithLabelValues("", "error").Inc()
		return
	}
	c.classifications.WithLabelValues(label, "ok").Inc()
}

func (c *Collector) RecordSearch(posts int, duration time.Duration, err error) {
	c.searchLatency.Observe(duration.Seconds())
	if err != nil {
		c.searches.WithLabelValues("error").Inc()
		return
	}
	c.searches.WithLabelValues("ok").Inc()
	c.searchPosts.Add(float64(posts))
}

func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler returns the exposition handler for the given gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards all measurements.
type Nop struct{}

func (Nop) RecordClassification(string, error)     {}
func (Nop) RecordSearch(int, time.Duration, error) {}
func (Nop) RecordHTTPStatus(int)                   {}
