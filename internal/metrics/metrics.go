// Package metrics exposes Prometheus counters for the sync daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "taptoon"

var (
	// SocketConnects counts successful socket opens, by channel kind.
	SocketConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "socket",
		Name:      "connects_total",
		Help:      "Successful socket opens.",
	}, []string{"kind"})

	// ReconnectAttempts counts scheduled reconnects, by channel kind.
	ReconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "socket",
		Name:      "reconnect_attempts_total",
		Help:      "Reconnects scheduled after a close.",
	}, []string{"kind"})

	// ConnectionsLost counts sockets that exhausted their retry budget.
	ConnectionsLost = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "socket",
		Name:      "lost_total",
		Help:      "Sockets that gave up reconnecting.",
	}, []string{"kind"})

	// FramesReceived counts inbound frames, by channel kind.
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "socket",
		Name:      "frames_received_total",
		Help:      "Inbound socket frames.",
	}, []string{"kind"})

	// FramesDropped counts frames that could not be decoded.
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "socket",
		Name:      "frames_dropped_total",
		Help:      "Inbound frames dropped as undecodable.",
	}, []string{"kind"})

	// Uploads counts attachment uploads by result (ready, failed, cancelled, rejected).
	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upload",
		Name:      "attachments_total",
		Help:      "Attachment uploads by result.",
	}, []string{"result"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
