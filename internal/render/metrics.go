package render

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fyrsmithlabs/devcoord/internal/entity"
)

// snapshotMetrics holds the gauges exported for one milestone. A fresh
// registry is built per render so the textfile always reflects a single
// snapshot.
type snapshotMetrics struct {
	registry    *prometheus.Registry
	events      prometheus.Gauge
	latestSeq   prometheus.Gauge
	pendingAcks prometheus.Gauge
	logPending  prometheus.Gauge
	gates       *prometheus.GaugeVec
	agents      *prometheus.GaugeVec
}

// newSnapshotMetrics registers the devcoord_* gauges:
//   - devcoord_events{milestone} - events in the ledger
//   - devcoord_latest_event_seq{milestone} - highest event_seq
//   - devcoord_pending_acks{milestone} - messages awaiting acknowledgement
//   - devcoord_log_pending_events{milestone} - LOG_PENDING events
//   - devcoord_gates{milestone,state} - gates by lifecycle state
//   - devcoord_agents{milestone,state} - agents by state
func newSnapshotMetrics(milestone string) *snapshotMetrics {
	labels := prometheus.Labels{"milestone": milestone}
	m := &snapshotMetrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "devcoord_events",
			Help:        "Number of events in the milestone ledger",
			ConstLabels: labels,
		}),
		latestSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "devcoord_latest_event_seq",
			Help:        "Highest event sequence number",
			ConstLabels: labels,
		}),
		pendingAcks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "devcoord_pending_acks",
			Help:        "Messages requiring acknowledgement that are not yet effective",
			ConstLabels: labels,
		}),
		logPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "devcoord_log_pending_events",
			Help:        "Deferred log writes awaiting reconciliation",
			ConstLabels: labels,
		}),
		gates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "devcoord_gates",
			Help:        "Gates by lifecycle state",
			ConstLabels: labels,
		}, []string{"state"}),
		agents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "devcoord_agents",
			Help:        "Agents by state",
			ConstLabels: labels,
		}, []string{"state"}),
	}
	m.registry.MustRegister(m.events, m.latestSeq, m.pendingAcks, m.logPending, m.gates, m.agents)
	return m
}

func (m *snapshotMetrics) observe(ix *entity.Index) {
	m.events.Set(float64(len(ix.Events)))
	m.latestSeq.Set(float64(ix.LatestSeq()))
	m.pendingAcks.Set(float64(len(ix.PendingAcks())))
	m.logPending.Set(float64(len(ix.EventsOf(entity.EventLogPending))))

	for _, st := range []entity.GateState{entity.GatePending, entity.GateOpen, entity.GateClosed} {
		m.gates.WithLabelValues(string(st)).Set(0)
	}
	for _, g := range ix.Gates {
		m.gates.WithLabelValues(string(g.State)).Inc()
	}
	for _, st := range entity.AgentStates {
		m.agents.WithLabelValues(string(st)).Set(0)
	}
	for _, a := range ix.Agents {
		m.agents.WithLabelValues(string(a.State)).Inc()
	}
}

// WriteMetrics writes the milestone snapshot to path in the Prometheus
// text exposition format, for node_exporter's textfile collector.
func WriteMetrics(path string, ix *entity.Index) error {
	m := newSnapshotMetrics(ix.MilestoneID)
	m.observe(ix)
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
