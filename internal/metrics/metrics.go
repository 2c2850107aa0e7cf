// Package metrics exposes Prometheus collectors for the report crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	escalationsTotal           *prometheus.CounterVec
	exhaustedTotal             *prometheus.CounterVec
	parseRuleHitsTotal         *prometheus.CounterVec
	lowConfidenceTotal         *prometheus.CounterVec
	jobsTotal                  *prometheus.CounterVec
	reportsTotal               *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reportcrawler_fetch_attempts_total",
				Help: "Fetch attempts, labeled by strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reportcrawler_fetch_duration_seconds",
				Help:    "Histogram of single fetch attempt latencies, labeled by strategy.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"strategy"},
		)

		escalationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reportcrawler_escalations_total",
				Help: "Times a fetch moved past a strategy, labeled by fetcher and the strategy left behind.",
			},
			[]string{"fetcher", "from"},
		)

		exhaustedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reportcrawler_fetch_exhausted_total",
				Help: "Fetches that ran out of strategies, labeled by fetcher.",
			},
			[]string{"fetcher"},
		)

		parseRuleHitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reportcrawler_parse_rule_hits_total",
				Help: "Parser rule that produced the accepted result, labeled by parser and rule.",
			},
			[]string{"parser", "rule"},
		)

		lowConfidenceTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reportcrawler_parse_low_confidence_total",
				Help: "Heuristic classifications with low confidence, labeled by reason.",
			},
			[]string{"reason"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reportcrawler_jobs_total",
				Help: "Total number of jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		reportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reportcrawler_reports_total",
				Help: "Reports processed by jobs, labeled by status.",
			},
			[]string{"status"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reportcrawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
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

// ObserveFetchAttempt records one attempt against one strategy.
func ObserveFetchAttempt(strategy, outcome string, duration time.Duration) {
	Init()
	fetchAttemptsTotal.WithLabelValues(strategy, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(strategy).Observe(duration.Seconds())
}

// ObserveEscalation counts a fetcher leaving a strategy behind.
func ObserveEscalation(fetcher, from string) {
	Init()
	escalationsTotal.WithLabelValues(fetcher, from).Inc()
}

// ObserveExhausted counts a fetch that produced nothing.
func ObserveExhausted(fetcher string) {
	Init()
	exhaustedTotal.WithLabelValues(fetcher).Inc()
}

// ObserveRuleHit counts the rule whose output a parser accepted.
func ObserveRuleHit(parser, rule string) {
	Init()
	parseRuleHitsTotal.WithLabelValues(parser, rule).Inc()
}

// ObserveLowConfidence counts a heuristic classification worth reviewing.
func ObserveLowConfidence(reason string) {
	Init()
	lowConfidenceTotal.WithLabelValues(reason).Inc()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveReport increments the report counter for the given status.
func ObserveReport(status string) {
	Init()
	reportsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
