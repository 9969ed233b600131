package metricsx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	eventAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_appends_total",
			Help: "Total event store append attempts by aggregate type and outcome.",
		},
		[]string{"aggregate_type", "outcome"},
	)
	eventAppendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "event_append_duration_seconds",
			Help:    "Event store append latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"aggregate_type"},
	)
	concurrencyConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_append_conflicts_total",
			Help: "Optimistic concurrency conflicts by aggregate type.",
		},
		[]string{"aggregate_type"},
	)
	projectionUpdateFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projection_update_failures_total",
			Help: "Best-effort projection updates that failed after a committed append.",
		},
		[]string{"projection"},
	)
	projectionLag = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "projection_apply_lag_seconds",
			Help:    "Delay between event commit and read-model apply.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"projection"},
	)
	outboxQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_pending_events",
			Help: "Outbox events waiting for dispatch.",
		},
	)
	kafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Consumer group lag per topic.",
		},
		[]string{"topic", "group"},
	)
)

func Register() {
	prometheus.MustRegister(
		httpRequests, httpLatency,
		eventAppends, eventAppendLatency, concurrencyConflicts,
		projectionUpdateFailures, projectionLag, outboxQueueDepth, kafkaConsumerLag,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpLatency.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

func ObserveAppend(aggregateType string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	eventAppends.WithLabelValues(aggregateType, outcome).Inc()
	eventAppendLatency.WithLabelValues(aggregateType).Observe(d.Seconds())
}

func IncConcurrencyConflict(aggregateType string) {
	concurrencyConflicts.WithLabelValues(aggregateType).Inc()
}

func IncProjectionUpdateFailure(projection string) {
	projectionUpdateFailures.WithLabelValues(projection).Inc()
}

func ObserveProjectionLag(projection string, lag time.Duration) {
	projectionLag.WithLabelValues(projection).Observe(lag.Seconds())
}

func SetOutboxDepth(depth int) {
	outboxQueueDepth.Set(float64(depth))
}

func SetKafkaLag(topic string, group string, lag int64) {
	kafkaConsumerLag.WithLabelValues(topic, group).Set(float64(lag))
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
