package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ideaflow_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ideaflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	analysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ideaflow_analyses_total",
			Help: "Analyses produced, by source and score provenance",
		},
		[]string{"source", "provenance"},
	)

	analysisScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ideaflow_analysis_score",
			Help:    "Distribution of business value scores",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		},
	)

	generativeFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ideaflow_generative_fallbacks_total",
			Help: "Generative analyses replaced by the rule-based path",
		},
	)

	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ideaflow_initiative_transitions_total",
			Help: "Initiative lifecycle transitions",
		},
		[]string{"transition"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, route string, statusCode int, durationSeconds float64) {
	status := strconv.Itoa(statusCode/100) + "xx"
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

// RecordAnalysis counts an analysis and observes its score.
func RecordAnalysis(source string, userProvided bool, score int) {
	provenance := "computed"
	if userProvided {
		provenance = "user"
	}
	analysesTotal.WithLabelValues(source, provenance).Inc()
	analysisScores.Observe(float64(score))
}

func RecordGenerativeFallback() {
	generativeFallbacksTotal.Inc()
}

// RecordTransition counts a lifecycle transition such as "approved".
func RecordTransition(transition string) {
	transitionsTotal.WithLabelValues(transition).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
