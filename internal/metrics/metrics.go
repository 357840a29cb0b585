// Package metrics exposes the relay's Prometheus counters and gauges,
// registered against a private registry and served over /metrics via
// promhttp — the same client_golang + promhttp pairing the teacher's
// sfu-ws example wires up for its own signaling server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the relay's observability surface: the media-loop error
// taxonomy from §7 (ProtocolReject by reason, AuthMismatch,
// HandshakeTimeout by stage), plus room/viewer gauges and thumbnail
// failure/drop counters fed from internal/thumbnail.
type Registry struct {
	reg *prometheus.Registry

	protocolReject   *prometheus.CounterVec
	authMismatch     prometheus.Counter
	handshakeTimeout *prometheus.CounterVec

	activeRooms   prometheus.Gauge
	activeViewers prometheus.Gauge

	thumbnailDropped prometheus.Counter
	thumbnailFailed  prometheus.Counter
}

// New constructs and registers every collector.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		protocolReject: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_protocol_reject_total",
			Help: "Datagrams dropped by the media plane, by reason.",
		}, []string{"reason"}),
		authMismatch: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_auth_mismatch_total",
			Help: "DTLS handshakes terminated for certificate/fingerprint mismatch.",
		}),
		handshakeTimeout: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_handshake_timeout_total",
			Help: "ICE/DTLS handshakes terminated by deadline, by stage.",
		}, []string{"stage"}),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_rooms",
			Help: "Number of rooms currently open.",
		}),
		activeViewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_viewers",
			Help: "Number of viewer sessions currently attached across all rooms.",
		}),
		thumbnailDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_thumbnail_jobs_dropped_total",
			Help: "Thumbnail decode/encode jobs dropped because the worker queue was full.",
		}),
		thumbnailFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_thumbnail_jobs_failed_total",
			Help: "Thumbnail decode/encode jobs that reached a worker but failed.",
		}),
	}

	reg.MustRegister(
		m.protocolReject,
		m.authMismatch,
		m.handshakeTimeout,
		m.activeRooms,
		m.activeViewers,
		m.thumbnailDropped,
		m.thumbnailFailed,
	)
	return m
}

// ProtocolReject implements medialoop.Counters.
func (m *Registry) ProtocolReject(reason string) {
	m.protocolReject.WithLabelValues(reason).Inc()
}

// AuthMismatch implements medialoop.Counters.
func (m *Registry) AuthMismatch() {
	m.authMismatch.Inc()
}

// HandshakeTimeout implements medialoop.Counters.
func (m *Registry) HandshakeTimeout(stage string) {
	m.handshakeTimeout.WithLabelValues(stage).Inc()
}

// SetActiveRooms reports the current room count, sampled from a
// room.Table snapshot.
func (m *Registry) SetActiveRooms(n int) { m.activeRooms.Set(float64(n)) }

// SetActiveViewers reports the current total viewer count.
func (m *Registry) SetActiveViewers(n int) { m.activeViewers.Set(float64(n)) }

// AddThumbnailDropped increments the dropped-job counter by delta, meant to
// be called with the delta between successive internal/thumbnail.Extractor
// Dropped() samples.
func (m *Registry) AddThumbnailDropped(delta uint64) { m.thumbnailDropped.Add(float64(delta)) }

// AddThumbnailFailed mirrors AddThumbnailDropped for Failed() samples.
func (m *Registry) AddThumbnailFailed(delta uint64) { m.thumbnailFailed.Add(float64(delta)) }

// Handler serves the registered collectors for Prometheus scraping.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
