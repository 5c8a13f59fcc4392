// Package metrics defines the Recorder interface the ring, the group, and
// the peer layer report through, plus a Prometheus-backed implementation.
// The interface exists so unit tests can swap in NoOp instead of registering
// real collectors, mirroring IvanBrykalov/shardcache's metrics/prom.Adapter
// pattern (a small adapter struct implementing the consumer's own metrics
// interface, registered against a caller-supplied prometheus.Registerer).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder is the full set of observations kvmesh's core components emit.
// Implementations must be safe for concurrent use.
type Recorder interface {
	// GroupHit/GroupMiss record a CacheGroup.Get outcome against the local
	// store, split by whether the hit was local or satisfied by a peer.
	GroupHit(group string, local bool)
	GroupMiss(group string, local bool)
	// LoadError records a data-source or peer load that came back absent.
	LoadError(group string)
	// RingLookup records one ConsistentHashRing.Get call for node.
	RingLookup(node string)
	// RingRebalance records a completed adaptive rebalance.
	RingRebalance()
	// PeerRPCLatency records the duration in seconds of one round trip to a
	// remote peer for the named operation ("get", "set", "delete",
	// "invalidate").
	PeerRPCLatency(op string, seconds float64)
	// PeerRPCFailure records a failed round trip to a remote peer.
	PeerRPCFailure(op string)
}

// Prometheus is the production Recorder, backed by client_golang collectors.
type Prometheus struct {
	groupHits       *prometheus.CounterVec
	groupMisses     *prometheus.CounterVec
	loadErrors      *prometheus.CounterVec
	ringLookups     *prometheus.CounterVec
	ringRebalances  prometheus.Counter
	peerRPCLatency  *prometheus.HistogramVec
	peerRPCFailures *prometheus.CounterVec
}

// New constructs a Prometheus recorder and registers its collectors with
// reg. A nil reg registers against prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	p := &Prometheus{
		groupHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvmesh",
			Subsystem: "group",
			Name:      "hits_total",
			Help:      "CacheGroup.Get hits, by group and origin (local/peer)",
		}, []string{"group", "origin"}),
		groupMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvmesh",
			Subsystem: "group",
			Name:      "misses_total",
			Help:      "CacheGroup.Get misses, by group and origin (local/peer)",
		}, []string{"group", "origin"}),
		loadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvmesh",
			Subsystem: "group",
			Name:      "load_errors_total",
			Help:      "Loads that fell through to the data source and still came back absent",
		}, []string{"group"}),
		ringLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvmesh",
			Subsystem: "ring",
			Name:      "lookups_total",
			Help:      "ConsistentHashRing.Get calls, by owning node",
		}, []string{"node"}),
		ringRebalances: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvmesh",
			Subsystem: "ring",
			Name:      "rebalances_total",
			Help:      "Completed adaptive rebalances",
		}),
		peerRPCLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kvmesh",
			Subsystem: "peer",
			Name:      "rpc_latency_seconds",
			Help:      "Peer RPC round-trip latency, by operation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		peerRPCFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvmesh",
			Subsystem: "peer",
			Name:      "rpc_failures_total",
			Help:      "Failed peer RPC round trips, by operation",
		}, []string{"op"}),
	}

	reg.MustRegister(
		p.groupHits, p.groupMisses, p.loadErrors,
		p.ringLookups, p.ringRebalances,
		p.peerRPCLatency, p.peerRPCFailures,
	)
	return p
}

func origin(local bool) string {
	if local {
		return "local"
	}
	return "peer"
}

func (p *Prometheus) GroupHit(group string, local bool)  { p.groupHits.WithLabelValues(group, origin(local)).Inc() }
func (p *Prometheus) GroupMiss(group string, local bool) { p.groupMisses.WithLabelValues(group, origin(local)).Inc() }
func (p *Prometheus) LoadError(group string)             { p.loadErrors.WithLabelValues(group).Inc() }
func (p *Prometheus) RingLookup(node string)             { p.ringLookups.WithLabelValues(node).Inc() }
func (p *Prometheus) RingRebalance()                     { p.ringRebalances.Inc() }

func (p *Prometheus) PeerRPCLatency(op string, seconds float64) {
	p.peerRPCLatency.WithLabelValues(op).Observe(seconds)
}

func (p *Prometheus) PeerRPCFailure(op string) {
	p.peerRPCFailures.WithLabelValues(op).Inc()
}

// NoOp is a Recorder that discards everything, for tests and for components
// constructed without a metrics backend.
type NoOp struct{}

func (NoOp) GroupHit(string, bool)          {}
func (NoOp) GroupMiss(string, bool)         {}
func (NoOp) LoadError(string)               {}
func (NoOp) RingLookup(string)              {}
func (NoOp) RingRebalance()                 {}
func (NoOp) PeerRPCLatency(string, float64) {}
func (NoOp) PeerRPCFailure(string)          {}

var (
	_ Recorder = (*Prometheus)(nil)
	_ Recorder = NoOp{}
)
