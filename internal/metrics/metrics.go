package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	connectionsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "omniclip_connections_accepted_total",
			Help: "Number of inbound sync connections accepted",
		},
	)
	framesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omniclip_frames_rejected_total",
			Help: "Number of inbound frames that could not be read or decoded",
		},
		[]string{"kind"},
	)
	pairings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omniclip_pairings_total",
			Help: "Number of pairing attempts by role and outcome",
		},
		[]string{"role", "outcome"},
	)
	clipboardMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omniclip_clipboard_messages_total",
			Help: "Number of clipboard sync messages by direction and outcome",
		},
		[]string{"direction", "outcome"},
	)
	pairedDevices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "omniclip_paired_devices",
			Help: "Number of currently paired devices",
		},
	)
	discoveredPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "omniclip_discovered_peers",
			Help: "Number of peers currently visible through discovery",
		},
	)
)

func init() {
	prometheus.MustRegister(
		connectionsAccepted,
		framesRejected,
		pairings,
		clipboardMessages,
		pairedDevices,
		discoveredPeers,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func ConnectionAccepted() {
	connectionsAccepted.Inc()
}

func FrameRejected(kind string) {
	framesRejected.WithLabelValues(kind).Inc()
}

// Pairing records a pairing attempt. role is "responder" or "requester".
func Pairing(role, outcome string) {
	pairings.WithLabelValues(role, outcome).Inc()
}

// Clipboard records a clipboard message. direction is "in" or "out".
func Clipboard(direction, outcome string) {
	clipboardMessages.WithLabelValues(direction, outcome).Inc()
}

func SetPairedDevices(n int) {
	pairedDevices.Set(float64(n))
}

func SetDiscoveredPeers(n int) {
	discoveredPeers.Set(float64(n))
}
