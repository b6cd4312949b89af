package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "framelink_build_info",
			Help: "Build information",
		},
		[]string{"component", "date", "sha", "version"},
	)

	callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framelink_calls_total",
			Help: "Correlated calls issued by surfaces, by message type and outcome",
		},
		[]string{"type", "outcome"},
	)

	callsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "framelink_calls_pending",
			Help: "Correlated calls waiting for a host reply",
		},
	)

	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "framelink_call_duration_seconds",
			Help:    "Time from post to settlement of a correlated call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	hostDispatch = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "framelink_host_dispatch_total",
			Help: "Messages handled by hosts, by message type and outcome",
		},
		[]string{"type", "outcome"},
	)

	hostSurfaces = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "framelink_host_surfaces",
			Help: "Surfaces currently connected to the host",
		},
	)
)

// Outcome labels.
const (
	OutcomeSuccess   = "success"
	OutcomeHostError = "host_error"
	OutcomeInvalid   = "invalid"
	OutcomeNoHost    = "no_host"
	OutcomeCanceled  = "canceled"
	OutcomeError     = "error"
)

// Register registers all metrics with the provided registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, callsTotal, callsPending, callDuration, hostDispatch, hostSurfaces)
}

// SetBuildInfo sets the build info metric for a component.
func SetBuildInfo(component, version, sha, date string) {
	buildInfo.WithLabelValues(component, date, sha, version).Set(1)
}

// CallStarted marks a correlated call as pending.
func CallStarted() { callsPending.Inc() }

// CallFinished records the settlement of a pending call.
func CallFinished(msgType, outcome string, d time.Duration) {
	callsPending.Dec()
	callsTotal.WithLabelValues(msgType, outcome).Inc()
	callDuration.WithLabelValues(msgType).Observe(d.Seconds())
}

// CallRejected records a call that failed before anything was posted.
func CallRejected(msgType, outcome string) {
	callsTotal.WithLabelValues(msgType, outcome).Inc()
}

// RecordDispatch counts a message handled by a host.
func RecordDispatch(msgType, outcome string) {
	hostDispatch.WithLabelValues(msgType, outcome).Inc()
}

// SurfaceConnected increments the connected surface gauge.
func SurfaceConnected() { hostSurfaces.Inc() }

// SurfaceDisconnected decrements the connected surface gauge.
func SurfaceDisconnected() { hostSurfaces.Dec() }
