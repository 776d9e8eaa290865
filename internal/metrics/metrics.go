// Package metrics exposes Prometheus collectors for the lookup service.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/pinellas-property-scraper/internal/property"
)

var (
	lookupsTotal               *prometheus.CounterVec
	fetchesTotal               *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	fieldsMissingTotal         *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeLookups              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		lookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "property_lookups_total",
				Help: "Total number of property lookups, labeled by outcome.",
			},
			[]string{"status"},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "property_fetches_total",
				Help: "Total number of county site fetches, labeled by fetch mode and outcome.",
			},
			[]string{"mode", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "property_fetch_duration_seconds",
				Help:    "Histogram of county site fetch latencies, labeled by fetch mode.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
			},
			[]string{"mode"},
		)

		fieldsMissingTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "property_fields_missing_total",
				Help: "Total number of fields reported as not found on resolved detail pages.",
			},
			[]string{"field"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "route"},
		)

		activeLookups = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "property_active_lookups",
				Help: "Number of lookups currently in flight.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "property_rate_limit_delays_seconds",
				Help:    "Histogram of outbound rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLookup counts a finished lookup.
func ObserveLookup(status string) {
	Init()
	lookupsTotal.WithLabelValues(status).Inc()
}

// ObserveFetch records one fetch against the county site.
func ObserveFetch(mode, outcome string, duration time.Duration) {
	Init()
	fetchesTotal.WithLabelValues(mode, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveFieldMissing counts a field the extractor could not locate.
func ObserveFieldMissing(field string) {
	Init()
	fieldsMissingTotal.WithLabelValues(field).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveLookups increments the in-flight lookup gauge.
func IncActiveLookups() {
	Init()
	activeLookups.Inc()
}

// DecActiveLookups decrements the in-flight lookup gauge.
func DecActiveLookups() {
	Init()
	activeLookups.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// FetchOutcome labels a fetch error for property_fetches_total.
func FetchOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, property.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "transport"
	}
}
