package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPAttempts counts executor attempts by outcome kind.
	HTTPAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdk_http_attempts_total",
			Help: "HTTP attempts by outcome",
		}, []string{"outcome"},
	)
	// QueueDispositions counts what happened to a request after an attempt or a submit.
	QueueDispositions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdk_queue_dispositions_total",
			Help: "Offline queue dispositions",
		}, []string{"disposition"},
	)
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sdk_queue_depth",
		Help: "Requests currently persisted in the offline queue",
	})
	RealtimeFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdk_realtime_frames_total",
			Help: "Realtime frames by result",
		}, []string{"result"},
	)
	RealtimeReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sdk_realtime_reconnects_total",
		Help: "Realtime reconnect attempts",
	})
	TriggerWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sdk_trigger_wait_seconds",
		Help:    "Time spent waiting for a realtime campaign response",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30},
	}, []string{"result"})

	BridgeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdk_bridge_requests_total",
			Help: "Total bridge requests",
		}, []string{"code"},
	)
	BridgeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sdk_bridge_request_duration_seconds",
		Help:    "Bridge request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	BridgeInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sdk_bridge_in_flight",
		Help: "In-flight bridge requests",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPAttempts, QueueDispositions, QueueDepth,
		RealtimeFrames, RealtimeReconnects, TriggerWait,
		BridgeRequests, BridgeLatency, BridgeInFlight,
	)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		BridgeInFlight.Inc()
		defer BridgeInFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		BridgeLatency.Observe(time.Since(start).Seconds())
		BridgeRequests.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}
