// Package kvmesh is the umbrella module for a distributed in-memory
// key/value cache in the groupcache tradition: a flat peer-to-peer mesh of
// nodes that each own a shard of the keyspace, fronted by an optional HTTP
// gateway for clients that don't want to speak the peer wire protocol
// directly.
//
// # Architecture Overview
//
// kvmesh consists of several cooperating components:
//
//   - pkg/group: the CacheGroup, the unit of cached data — an LRU-bounded
//     local store backed by an application-supplied loader, with
//     singleflight collapsing concurrent loads and a peer picker for
//     forwarding requests to the key's owner.
//   - pkg/hashring: the consistent-hash ring mapping keys to owning peer
//     addresses, with an adaptive virtual-replica count that reacts to
//     observed load imbalance.
//   - pkg/peerselector: mirrors registry membership into a hashring and a
//     pool of peer RPC clients.
//   - internal/registry: the pluggable membership service (etcd-backed in
//     production) peers register with and watch for change.
//   - internal/rpcserver and pkg/peer: the framed binary wire protocol
//     peers use to reach each other's cache groups.
//   - internal/gateway: an HTTP facade for clients outside the mesh.
//   - internal/bootstrap: wires the above into the two runnable processes.
//
// # Quick Start
//
// Running a node:
//
//	kvmeshd -self-address 10.0.0.1:9090 -registry http://etcd:2379
//
// Running a gateway in front of a cluster:
//
//	kvmesh-gateway -listen-port 8080 -registry http://etcd:2379
//
// Embedding a CacheGroup directly, without running kvmeshd at all:
//
//	dir := group.NewDirectory()
//	g, _ := dir.MakeCacheGroup("thumbnails", 64<<20, loadThumbnail)
//	value, ok := g.Get(ctx, "user:123")
//
// # Package Structure
//
//   - pkg/group: CacheGroup and the process-wide group directory
//   - pkg/hashring: consistent hashing with adaptive replica counts
//   - pkg/peerselector: registry-driven peer discovery
//   - pkg/peer: the peer RPC client
//   - pkg/protocol: the wire framing peers and the gateway speak
//   - pkg/lru: the bounded local cache
//   - pkg/singleflight: duplicate-load suppression
//   - pkg/byteview: the immutable value type cached entries are held as
//   - pkg/metrics: the Prometheus recorder shared across components
//   - pkg/config: flag/env configuration for both binaries
//   - internal/registry: cluster membership (etcd and an in-memory fake)
//   - internal/rpcserver: the peer-facing RPC server
//   - internal/gateway: the client-facing HTTP server
//   - internal/bootstrap: process wiring for cmd/kvmeshd and cmd/kvmesh-gateway
//   - cmd/kvmeshd, cmd/kvmesh-gateway, cmd/kvmesh-bench: the runnable binaries
package kvmesh
