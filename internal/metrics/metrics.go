package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"studysync/pkg/types"
)

const namespace = "studysync"

// Metrics owns a private registry so several instances can coexist in tests.
// It satisfies the observer hooks of the hub, fanout, websocket and passage
// packages.
type Metrics struct {
	registry *prometheus.Registry

	liveRooms      prometheus.Gauge
	roomsOpened    prometheus.Counter
	connections    prometheus.Gauge
	authRejected   *prometheus.CounterVec
	events         *prometheus.CounterVec
	delivered      *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	passageLookups *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		liveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions",
			Help:      "Sessions with at least one connected member.",
		}),
		roomsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_bootstrapped_total",
			Help:      "Live sessions created from persisted study data.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open WebSocket connections.",
		}),
		authRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_rejected_total",
			Help:      "Connection attempts rejected by credential verification.",
		}, []string{"kind"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Session events handled, by type and outcome.",
		}, []string{"type", "outcome"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_delivered_total",
			Help:      "Frames handed to member outboxes.",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames that could not be queued for a member.",
		}, []string{"type"}),
		passageLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passage_lookups_total",
			Help:      "Passage lookups by cache result.",
		}, []string{"cache"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.liveRooms,
		m.roomsOpened,
		m.connections,
		m.authRejected,
		m.events,
		m.delivered,
		m.dropped,
		m.passageLookups,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RoomOpened() {
	m.liveRooms.Inc()
	m.roomsOpened.Inc()
}

func (m *Metrics) RoomClosed() {
	m.liveRooms.Dec()
}

// EventHandled labels the outcome with the wire error kind, or "ok".
func (m *Metrics) EventHandled(eventType string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(types.KindOf(err))
	}
	m.events.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) ObserveDelivery(eventType string, delivered, failed int) {
	m.delivered.WithLabelValues(eventType).Add(float64(delivered))
	if failed > 0 {
		m.dropped.WithLabelValues(eventType).Add(float64(failed))
	}
}

func (m *Metrics) ConnectionOpened() {
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	m.connections.Dec()
}

func (m *Metrics) AuthRejected(kind types.ErrorKind) {
	m.authRejected.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) PassageLookup(hit bool) {
	label := "miss"
	if hit {
		label = "hit"
	}
	m.passageLookups.WithLabelValues(label).Inc()
}
