// Package pkg has no importable code of its own; it's a home for this
// module's doc comment describing how the exported packages beneath it fit
// together.
//
// # Overview
//
// kvmesh's public surface is a small set of focused packages rather than
// one large API:
//
// pkg/byteview holds cached values as an immutable, safely-shareable view
// over a byte slice or a string, so CacheGroup never hands out a mutable
// reference to its internal storage.
//
// pkg/lru is the bounded local store each CacheGroup keeps for the keys it
// owns or has recently fetched on another peer's behalf. Eviction is pure
// least-recently-used, sized by bytes rather than entry count.
//
// pkg/singleflight collapses concurrent loads for the same key into one
// in-flight call, so a cache miss under load doesn't turn into a thundering
// herd against the data source or the owning peer.
//
// pkg/hashring is the consistent-hash ring that maps a key to the address
// of the peer that owns it. Its replica count per node adapts to observed
// request-count imbalance rather than staying fixed for the ring's
// lifetime.
//
// pkg/peerselector mirrors a Registry's membership into a hashring and a
// pool of peer RPC clients kept in sync with join/leave events.
//
// pkg/peer is the RPC client CacheGroup and the gateway use to reach a
// remote peer's Get/Set/Delete/Invalidate operations.
//
// pkg/protocol is the wire framing peer requests and responses are encoded
// with.
//
// pkg/group ties the above together into CacheGroup, the cache a caller
// actually uses, and Directory, the process-wide registry of named groups.
//
// pkg/metrics defines the Recorder interface components emit counters and
// histograms through, plus the Prometheus-backed implementation used in
// production and a no-op implementation used in tests.
//
// pkg/config loads NodeConfig and GatewayConfig from flags and environment
// variables for the two binaries in cmd/.
package pkg
