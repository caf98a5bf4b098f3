// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "diceonline"

// Metrics holds every collector the server exports. It satisfies lobby.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	lobbiesCreated  prometheus.Counter
	operations      *prometheus.CounterVec
	diceRolled      prometheus.Counter
	deliveryGaps    *prometheus.CounterVec
	liveConnections prometheus.Gauge
	requestDuration *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry, together with the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		lobbiesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lobbies_created_total",
			Help:      "Lobbies successfully created.",
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lobby_operations_total",
			Help:      "Lobby operations by name and outcome.",
		}, []string{"op", "result"}),
		diceRolled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dice_rolled_total",
			Help:      "Individual dice rolled.",
		}),
		deliveryGaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_delivery_gaps_total",
			Help:      "Event deliveries that did not reach a connection after a committed change.",
		}, []string{"event"}),
		liveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_connections",
			Help:      "Open websocket connections.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		m.lobbiesCreated,
		m.operations,
		m.diceRolled,
		m.deliveryGaps,
		m.liveConnections,
		m.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) LobbyCreated() { m.lobbiesCreated.Inc() }

func (m *Metrics) Operation(op, result string) {
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) DiceRolled(n int) { m.diceRolled.Add(float64(n)) }

func (m *Metrics) DeliveryGap(event string, n int) {
	m.deliveryGaps.WithLabelValues(event).Add(float64(n))
}

// Connections is the gauge handed to the websocket hub.
func (m *Metrics) Connections() prometheus.Gauge { return m.liveConnections }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument observes the latency of next under the given route label. Route labels must
// be low cardinality, so pass the pattern rather than the raw path.
func (m *Metrics) Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.requestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).
			Observe(time.Since(start).Seconds())
	})
}
