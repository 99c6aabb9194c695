package pipeline

import (
	"sync/atomic"

	"firestige.xyz/lswitch/internal/forward"
	"firestige.xyz/lswitch/internal/metrics"
)

// Metrics contains per-pipeline counters. Counters are atomic so Stats
// may be read while Run is active; when a Prometheus set is attached
// every update is mirrored there.
type Metrics struct {
	Received       atomic.Uint64
	Decoded        atomic.Uint64
	Malformed      atomic.Uint64
	Flooded        atomic.Uint64
	Unicast        atomic.Uint64
	Dropped        atomic.Uint64
	Learned        atomic.Uint64
	Aged           atomic.Uint64
	Sent           atomic.Uint64
	SendErrors     atomic.Uint64
	ReceiveErrors  atomic.Uint64
	Snapshots      atomic.Uint64
	SnapshotErrors atomic.Uint64

	prom *metrics.Metrics
}

// NewMetrics creates a counter set, optionally mirrored to prom.
func NewMetrics(prom *metrics.Metrics) *Metrics {
	return &Metrics{prom: prom}
}

func (m *Metrics) received() {
	m.Received.Add(1)
}

func (m *Metrics) decoded() {
	m.Decoded.Add(1)
	if m.prom != nil {
		m.prom.FramesTotal.WithLabelValues("decoded").Inc()
	}
}

func (m *Metrics) malformed() {
	m.Malformed.Add(1)
	if m.prom != nil {
		m.prom.FramesTotal.WithLabelValues("malformed").Inc()
	}
}

func (m *Metrics) decision(d forward.Decision, tableSize int) {
	switch d.Instruction.Kind {
	case forward.KindFlood:
		m.Flooded.Add(1)
	case forward.KindUnicast:
		m.Unicast.Add(1)
	default:
		m.Dropped.Add(1)
	}
	if d.Learned {
		m.Learned.Add(1)
	}
	m.Aged.Add(uint64(len(d.Aged)))

	if m.prom == nil {
		return
	}
	m.prom.DecisionsTotal.WithLabelValues(d.Instruction.Kind.String()).Inc()
	if d.Learned {
		m.prom.LearnedTotal.Inc()
	}
	m.prom.AgedTotal.Add(float64(len(d.Aged)))
	m.prom.TableEntries.Set(float64(tableSize))
}

func (m *Metrics) sent(seconds float64) {
	m.Sent.Add(1)
	if m.prom != nil {
		m.prom.DecisionLatencySeconds.Observe(seconds)
	}
}

func (m *Metrics) sendError() {
	m.SendErrors.Add(1)
	if m.prom != nil {
		m.prom.SendErrorsTotal.Inc()
	}
}

func (m *Metrics) receiveError() {
	m.ReceiveErrors.Add(1)
	if m.prom != nil {
		m.prom.ReceiveErrorsTotal.Inc()
	}
}

func (m *Metrics) snapshot(err error) {
	m.Snapshots.Add(1)
	if m.prom != nil {
		m.prom.SnapshotsTotal.Inc()
	}
	if err == nil {
		return
	}
	m.SnapshotErrors.Add(1)
	if m.prom != nil {
		m.prom.SnapshotErrorsTotal.Inc()
	}
}

// Stats represents pipeline statistics.
type Stats struct {
	Received       uint64
	Decoded        uint64
	Malformed      uint64
	Flooded        uint64
	Unicast        uint64
	Dropped        uint64
	Learned        uint64
	Aged           uint64
	Sent           uint64
	SendErrors     uint64
	ReceiveErrors  uint64
	Snapshots      uint64
	SnapshotErrors uint64
}

func (m *Metrics) stats() Stats {
	return Stats{
		Received:       m.Received.Load(),
		Decoded:        m.Decoded.Load(),
		Malformed:      m.Malformed.Load(),
		Flooded:        m.Flooded.Load(),
		Unicast:        m.Unicast.Load(),
		Dropped:        m.Dropped.Load(),
		Learned:        m.Learned.Load(),
		Aged:           m.Aged.Load(),
		Sent:           m.Sent.Load(),
		SendErrors:     m.SendErrors.Load(),
		ReceiveErrors:  m.ReceiveErrors.Load(),
		Snapshots:      m.Snapshots.Load(),
		SnapshotErrors: m.SnapshotErrors.Load(),
	}
}
