package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "milha_alerta"

var (
	// HTTP
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "route", "code"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "code"},
	)

	// Lifecycle
	alertsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      "Total number of alerts created.",
		},
	)
	statusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_status_transitions_total",
			Help:      "Alert status transitions by target status.",
		},
		[]string{"to"},
	)
	candidates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Submitted opportunity candidates by outcome.",
		},
		[]string{"outcome"},
	)
	candidateMiles = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "accepted_opportunity_miles",
			Help:      "Mileage cost of accepted opportunities.",
			Buckets:   []float64{5000, 10000, 20000, 35000, 50000, 60000, 80000, 100000, 150000, 250000},
		},
	)
	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "expiry_sweep_duration_seconds",
			Help:      "Time spent in one expiry sweep.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	versionConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_conflicts_total",
			Help:      "Optimistic concurrency conflicts while saving alerts.",
		},
	)

	// Outbound
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "WhatsApp notifications by result.",
		},
		[]string{"result"},
	)
	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events published to the broker by sink and result.",
		},
		[]string{"sink", "result"},
	)

	// Cache
	cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Cache lookups by result.",
		},
		[]string{"result"},
	)

	registerOnce sync.Once
)

// Register registers all collectors with the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			alertsCreated,
			statusTransitions,
			candidates,
			candidateMiles,
			sweepDuration,
			versionConflicts,
			notifications,
			eventsPublished,
			cacheRequests,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveHTTPRequest(method, route, code string, d time.Duration) {
	httpRequests.WithLabelValues(method, route, code).Inc()
	httpDuration.WithLabelValues(method, route, code).Observe(d.Seconds())
}

func IncAlertsCreated() {
	alertsCreated.Inc()
}

func IncStatusTransition(to string) {
	statusTransitions.WithLabelValues(to).Inc()
}

// Candidate outcomes.
const (
	OutcomeAccepted       = "accepted"
	OutcomeOverCeiling    = "over_ceiling"
	OutcomeInactive       = "inactive"
	OutcomeNotImprovement = "not_improvement"
)

func IncCandidate(outcome string) {
	candidates.WithLabelValues(outcome).Inc()
}

func ObserveAcceptedMiles(miles int64) {
	candidateMiles.Observe(float64(miles))
}

func ObserveSweep(d time.Duration, expired int) {
	sweepDuration.Observe(d.Seconds())
	if expired > 0 {
		statusTransitions.WithLabelValues("expired").Add(float64(expired))
	}
}

func IncVersionConflict() {
	versionConflicts.Inc()
}

func IncNotification(result string) {
	notifications.WithLabelValues(result).Inc()
}

func IncEventPublished(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	eventsPublished.WithLabelValues(sink, result).Inc()
}

func IncCache(hit bool) {
	if hit {
		cacheRequests.WithLabelValues("hit").Inc()
		return
	}
	cacheRequests.WithLabelValues("miss").Inc()
}

func fmtInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
