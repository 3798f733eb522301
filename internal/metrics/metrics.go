// Package metrics exposes relay counters and gauges in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "roomrelay"

// Recorder owns a private registry. All methods are safe on a nil receiver.
type Recorder struct {
	registry      *prometheus.Registry
	rooms         prometheus.Gauge
	sessions      *prometheus.GaugeVec
	reservations  *prometheus.CounterVec
	broadcasts    *prometheus.CounterVec
	framesWritten prometheus.Counter
	writeFailures prometheus.Counter
	evictions     *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms currently present in the registry.",
		}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Sessions by lifecycle state.",
		}, []string{"state"}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Reservation attempts by result code.",
		}, []string{"result"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Broadcasts by event kind.",
		}, []string{"event"}),
		framesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_written_total",
			Help:      "Frames accepted by peer connections.",
		}),
		writeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_failures_total",
			Help:      "Frames rejected by peer connections.",
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Sessions removed by the server by reason.",
		}, []string{"reason"}),
	}

	r.registry.MustRegister(
		r.rooms,
		r.sessions,
		r.reservations,
		r.broadcasts,
		r.framesWritten,
		r.writeFailures,
		r.evictions,
		collectors.NewGoCollector(),
	)
	return r
}

// Handler serves the registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// SetOccupancy records the current room and session counts.
func (r *Recorder) SetOccupancy(rooms, pending, active int) {
	if r == nil {
		return
	}
	r.rooms.Set(float64(rooms))
	r.sessions.WithLabelValues("pending").Set(float64(pending))
	r.sessions.WithLabelValues("active").Set(float64(active))
}

// Reservation counts a reservation attempt.
func (r *Recorder) Reservation(result string) {
	if r == nil {
		return
	}
	r.reservations.WithLabelValues(result).Inc()
}

// Broadcast counts one broadcast and its per-peer outcome.
func (r *Recorder) Broadcast(event string, delivered, failed int) {
	if r == nil {
		return
	}
	r.broadcasts.WithLabelValues(event).Inc()
	r.framesWritten.Add(float64(delivered))
	r.writeFailures.Add(float64(failed))
}

// Eviction counts a server-initiated removal.
func (r *Recorder) Eviction(reason string) {
	if r == nil {
		return
	}
	r.evictions.WithLabelValues(reason).Inc()
}
