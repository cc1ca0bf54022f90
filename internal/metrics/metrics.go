package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	matchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_match_attempts_total",
			Help: "Match attempts by the matcher that fired (none when nothing matched).",
		},
		[]string{"matcher"},
	)
	readinessEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_readiness_evaluations_total",
			Help: "Readiness evaluations by channel and outcome.",
		},
		[]string{"channel", "ready"},
	)
	outboxEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_outbox_emitted_total",
			Help: "Outbox emit decisions by event type and result.",
		},
		[]string{"event_type", "result"},
	)
	outboxClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalogsync_outbox_claimed_total",
			Help: "Outbox events claimed by workers.",
		},
	)
	pushOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_push_outcomes_total",
			Help: "Channel push outcomes per product group.",
		},
		[]string{"channel", "outcome"},
	)
	importRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalogsync_import_records_total",
			Help: "Imported supplier records by disposition.",
		},
		[]string{"disposition"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalogsync_http_request_duration_seconds",
			Help:    "Histogram of admin API request durations.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		matchAttempts,
		readinessEvaluations,
		outboxEmitted,
		outboxClaimed,
		pushOutcomes,
		importRecords,
		httpRequestDuration,
	)
}

// Push outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeTransient = "transient"
	OutcomePermanent = "permanent"
	OutcomeSkipped   = "skipped"
)

func MatchAttempt(matcher string) {
	matchAttempts.WithLabelValues(matcher).Inc()
}

func ReadinessEvaluated(channel string, ready bool) {
	readinessEvaluations.WithLabelValues(channel, strconv.FormatBool(ready)).Inc()
}

// Emitted records an emit decision; result is "queued" or "gated".
func Emitted(eventType string, result string) {
	outboxEmitted.WithLabelValues(eventType, result).Inc()
}

func Claimed(n int) {
	outboxClaimed.Add(float64(n))
}

func PushOutcome(channel string, outcome string) {
	pushOutcomes.WithLabelValues(channel, outcome).Inc()
}

func ImportRecord(disposition string) {
	importRecords.WithLabelValues(disposition).Inc()
}

func ObserveRequest(method, route string, statusCode int, d time.Duration) {
	httpRequestDuration.WithLabelValues(method, route, classifyStatus(statusCode)).Observe(d.Seconds())
}

func classifyStatus(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500 && statusCode < 600:
		return "5xx"
	}
	return "unknown"
}

func Handler() http.Handler {
	return promhttp.Handler()
}
