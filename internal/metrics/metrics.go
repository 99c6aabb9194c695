// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lswitch"

// Metrics holds the controller's collectors on a private registry so
// several controllers (or tests) can coexist in one process.
type Metrics struct {
	Registry *prometheus.Registry

	// FramesTotal counts packet-ins by outcome (decoded, malformed).
	FramesTotal *prometheus.CounterVec

	// DecisionsTotal counts forwarding decisions by kind.
	DecisionsTotal *prometheus.CounterVec

	LearnedTotal prometheus.Counter
	AgedTotal    prometheus.Counter

	// TableEntries tracks the current learning table size.
	TableEntries prometheus.Gauge

	SendErrorsTotal     prometheus.Counter
	ReceiveErrorsTotal  prometheus.Counter
	SnapshotsTotal      prometheus.Counter
	SnapshotErrorsTotal prometheus.Counter

	// DecisionLatencySeconds measures decode-to-send latency per frame.
	DecisionLatencySeconds prometheus.Histogram
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		FramesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_total",
				Help:      "Total number of packet-ins received",
			},
			[]string{"result"},
		),
		DecisionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Total number of forwarding decisions",
			},
			[]string{"kind"},
		),
		LearnedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "learned_total",
			Help:      "Total number of learning table refreshes from ARP frames",
		}),
		AgedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aged_total",
			Help:      "Total number of learning table entries removed by aging",
		}),
		TableEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "table_entries",
			Help:      "Current number of learning table entries",
		}),
		SendErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Total number of failed packet-outs",
		}),
		ReceiveErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receive_errors_total",
			Help:      "Total number of control channel receive failures",
		}),
		SnapshotsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Total number of table snapshots taken",
		}),
		SnapshotErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_errors_total",
			Help:      "Total number of table snapshots that failed to persist",
		}),
		DecisionLatencySeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_latency_seconds",
			Help:      "Latency from packet-in decode to packet-out send in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		}),
	}
}
