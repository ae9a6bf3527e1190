// Package metrics implements internal/raft.MetricsSink with
// Prometheus gauges, grounded on the domain stack's
// github.com/prometheus/client_golang dependency (see SPEC_FULL.md's
// dependency table) — the teacher itself carries no metrics surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/leifraft/raft/internal/raft"
)

// Prometheus is a raft.MetricsSink publishing one gauge family per
// MetricsSnapshot field, registered under the "raft" namespace.
type Prometheus struct {
	state        *prometheus.GaugeVec
	term         prometheus.Gauge
	lastLogIndex prometheus.Gauge
	committed    prometheus.Gauge
	voters       prometheus.Gauge
	matching     *prometheus.GaugeVec
}

// NewPrometheus registers the sink's collectors on reg and returns the
// ready sink. reg is typically prometheus.NewRegistry() owned by
// cmd/raftd, not the global DefaultRegisterer, so tests can spin up
// independent instances.
func NewPrometheus(reg prometheus.Registerer, nodeID raft.NodeID) *Prometheus {
	constLabels := prometheus.Labels{"node": formatUint(uint64(nodeID))}
	p := &Prometheus{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "raft",
			Name:        "server_state",
			Help:        "1 for the server state this replica currently holds, 0 otherwise.",
			ConstLabels: constLabels,
		}, []string{"state"}),
		term: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "raft",
			Name:        "current_term",
			Help:        "Current term of the local vote.",
			ConstLabels: constLabels,
		}),
		lastLogIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "raft",
			Name:        "last_log_index",
			Help:        "Index of the last entry in the local log.",
			ConstLabels: constLabels,
		}),
		committed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "raft",
			Name:        "committed_index",
			Help:        "Highest committed log index known to this replica.",
			ConstLabels: constLabels,
		}),
		voters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "raft",
			Name:        "voters",
			Help:        "Number of voters in the first voter set of the effective membership.",
			ConstLabels: constLabels,
		}),
		matching: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "raft",
			Name:        "follower_matching_index",
			Help:        "Leader's view of each follower's matching log index.",
			ConstLabels: constLabels,
		}, []string{"follower"}),
	}
	reg.MustRegister(p.state, p.term, p.lastLogIndex, p.committed, p.voters, p.matching)
	return p
}

func formatUint(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func (p *Prometheus) Observe(snap raft.MetricsSnapshot) {
	for _, s := range []raft.ServerState{
		raft.ServerStateFollower, raft.ServerStateCandidate, raft.ServerStateLeader, raft.ServerStateLearner,
	} {
		val := 0.0
		if s == snap.ServerState {
			val = 1.0
		}
		p.state.WithLabelValues(serverStateLabel(s)).Set(val)
	}

	p.term.Set(float64(snap.Vote.Term))
	if snap.LastLogID != nil {
		p.lastLogIndex.Set(float64(snap.LastLogID.Index))
	}
	p.committed.Set(float64(snap.Committed))
	voterCount := 0
	if len(snap.Membership.Voters) > 0 {
		voterCount = len(snap.Membership.Voters[0])
	}
	p.voters.Set(float64(voterCount))

	p.matching.Reset()
	for id, pe := range snap.Progress {
		if pe.Matching == nil {
			continue
		}
		p.matching.WithLabelValues(formatUint(uint64(id))).Set(float64(pe.Matching.Index))
	}
}

func serverStateLabel(s raft.ServerState) string {
	switch s {
	case raft.ServerStateFollower:
		return "follower"
	case raft.ServerStateCandidate:
		return "candidate"
	case raft.ServerStateLeader:
		return "leader"
	case raft.ServerStateLearner:
		return "learner"
	default:
		return "unknown"
	}
}
