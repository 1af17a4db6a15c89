package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "formula",
		Name:      "live_connections",
		Help:      "Current number of registered websocket connections",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "formula",
		Name:      "matchmaking_queue_depth",
		Help:      "Current number of users waiting in the matchmaking queue",
	})

	MatchesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "formula",
		Name:      "matches_started_total",
		Help:      "Total number of rooms that reached the active phase",
	})

	RoomsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "formula",
		Name:      "rooms_settled_total",
		Help:      "Total number of settled rooms by reason",
	}, []string{"reason"})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "formula",
		Name:      "messages_sent_total",
		Help:      "Total outbound websocket events by type",
	}, []string{"type"})

	StaleEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "formula",
		Name:      "stale_evictions_total",
		Help:      "Total connections evicted by the heartbeat monitor",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "formula",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"method", "path", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "formula",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Middleware records request metrics with Prometheus labels.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		labels := prometheus.Labels{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": strconv.Itoa(rec.status),
		}
		httpRequests.With(labels).Inc()
		httpLatency.With(labels).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the default Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
