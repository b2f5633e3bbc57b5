package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "streamd"
	metricsSubsystem = "discovery"
)

// Response outcomes.
const (
	resultOK          = "ok"
	resultMalformed   = "malformed"
	resultFailure     = "failure"
	resultUnsupported = "unsupported"
)

type Metrics struct {
	Announces        *prometheus.CounterVec
	AnnounceFailures *prometheus.CounterVec
	Responses        *prometheus.CounterVec
	Candidates       prometheus.Gauge
	Pending          prometheus.Gauge
	Connected        prometheus.Gauge
	Dials            prometheus.Counter
	Rejections       prometheus.Counter
	Established      prometheus.Counter
	Failures         prometheus.Counter
	Subscriptions    prometheus.Counter
}

// NewMetrics registers the discovery collectors on reg. A nil reg yields
// working but unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Announces: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "announces_total",
			Help:      "Tracker announces issued, by event.",
		}, []string{"event"}),
		AnnounceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "announce_failures_total",
			Help:      "Tracker announces that could not be sent or completed, by event.",
		}, []string{"event"}),
		Responses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "responses_total",
			Help:      "Tracker responses handled, by result.",
		}, []string{"result"}),
		Candidates: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "candidates",
			Help:      "Entries in the candidate set.",
		}),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "pending_connections",
			Help:      "Connections dialed but not yet established.",
		}),
		Connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connected_peers",
			Help:      "Established connections.",
		}),
		Dials: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "dials_total",
			Help:      "Connection attempts issued.",
		}),
		Rejections: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "rejections_total",
			Help:      "Connections torn down because the handshake did not complete in time.",
		}),
		Established: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "established_total",
			Help:      "Connections promoted after the rejection check.",
		}),
		Failures: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connection_failures_total",
			Help:      "Connection attempts that failed.",
		}),
		Subscriptions: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "subscriptions_total",
			Help:      "SUBSCRIBE requests sent.",
		}),
	}
}
