// Package group implements CacheGroup, the named cache that orchestrates a
// local LRUStore, a SingleFlight loader, a user-supplied data source, and
// peer routing. It is the piece that data flows through end to end: a miss
// on the local store falls through SingleFlight into either a peer RPC or
// the data source, and a write fans out to the rest of the cluster.
//
// The directory that tracks CacheGroup instances by name follows the
// original C++ source's global cache_groups map (see
// _examples/original_source/src/cache.cpp), but rejects re-creation of an
// existing name instead of silently overwriting it in flight.
package group

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/kvmesh/kvmesh/pkg/byteview"
	"github.com/kvmesh/kvmesh/pkg/lru"
	"github.com/kvmesh/kvmesh/pkg/metrics"
	"github.com/kvmesh/kvmesh/pkg/peer"
	"github.com/kvmesh/kvmesh/pkg/singleflight"
)

// ErrNilDataSource is returned by New when constructed without a data
// source; a group with no way to fill a miss is a configuration error.
var ErrNilDataSource = errors.New("group: data source must not be nil")

// ErrPeerPickerAlreadyRegistered is returned by RegisterPeerPicker on a
// group that already has one. Registration is one-shot by design (spec's
// "a second call is a programming error and must fail visibly").
var ErrPeerPickerAlreadyRegistered = errors.New("group: peer picker already registered")

// DataSource produces a value for key when it is absent everywhere in the
// cluster. Returning (zero, false) is a normal miss, not an error.
type DataSource func(ctx context.Context, key string) (byteview.ByteView, bool)

// PeerPicker is the subset of pkg/peerselector.Selector that CacheGroup
// needs. It is declared locally, rather than imported, so pkg/group does
// not need to depend on the registry/discovery machinery behind a real
// Selector — a test can supply a trivial fake.
type PeerPicker interface {
	PickPeer(key string) (peer.Peer, bool)
	AllPeers() []peer.Peer
}

// Stats holds CacheGroup's atomic operation counters. Read a snapshot with
// CacheGroup.Stats; fields are updated with atomic instructions, not under
// a lock.
type Stats struct {
	LocalHits   int64
	LocalMisses int64
	PeerHits    int64
	PeerMisses  int64
	Loads       int64
	LoadErrors  int64
}

// CacheGroup is a named, size-bounded cache partition. The zero value is
// not usable; construct with New or through a Directory.
type CacheGroup struct {
	name       string
	store      *lru.Store
	flight     singleflight.Group
	dataSource DataSource
	log        *logrus.Logger
	rec        metrics.Recorder

	mu     sync.RWMutex
	peers  PeerPicker
	closed bool

	stats Stats
}

// Option configures a CacheGroup at construction.
type Option func(*CacheGroup)

// WithLogger overrides the default logger (logrus.StandardLogger()).
func WithLogger(l *logrus.Logger) Option {
	return func(g *CacheGroup) { g.log = l }
}

// WithMetrics overrides the default metrics.NoOp recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(g *CacheGroup) { g.rec = r }
}

// New constructs a CacheGroup named name with the given byte capacity
// (0 disables the cap) and data source. A nil dataSource is a
// configuration-fatal error, per spec, returned rather than panicking.
func New(name string, capacityBytes int64, dataSource DataSource, opts ...Option) (*CacheGroup, error) {
	if dataSource == nil {
		return nil, ErrNilDataSource
	}

	g := &CacheGroup{
		name:       name,
		dataSource: dataSource,
		log:        logrus.StandardLogger(),
		rec:        metrics.NoOp{},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.store = lru.New(capacityBytes, nil)
	return g, nil
}

// Name returns the group's name.
func (g *CacheGroup) Name() string { return g.name }

// Stats returns a snapshot of the group's atomic counters.
func (g *CacheGroup) Stats() Stats {
	return Stats{
		LocalHits:   atomic.LoadInt64(&g.stats.LocalHits),
		LocalMisses: atomic.LoadInt64(&g.stats.LocalMisses),
		PeerHits:    atomic.LoadInt64(&g.stats.PeerHits),
		PeerMisses:  atomic.LoadInt64(&g.stats.PeerMisses),
		Loads:       atomic.LoadInt64(&g.stats.Loads),
		LoadErrors:  atomic.LoadInt64(&g.stats.LoadErrors),
	}
}

// RegisterPeerPicker attaches p as the group's peer picker. It is one-shot:
// calling it twice on the same group returns ErrPeerPickerAlreadyRegistered.
func (g *CacheGroup) RegisterPeerPicker(p PeerPicker) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.peers != nil {
		return ErrPeerPickerAlreadyRegistered
	}
	g.peers = p
	return nil
}

func (g *CacheGroup) peerPicker() PeerPicker {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.peers
}

// isClosed reports whether the group has been closed.
func (g *CacheGroup) isClosed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closed
}

// Close marks the group closed. All subsequent Get/Set/Delete/Invalidate
// calls report failure. Close does not clear the local store; it is the
// caller's responsibility to drop the CacheGroup from its Directory too
// (see Directory.Close).
func (g *CacheGroup) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

// Get returns the value for key, loading it (via SingleFlight, peer routing,
// or the data source) if it is not already resident locally.
func (g *CacheGroup) Get(ctx context.Context, key string) (byteview.ByteView, bool) {
	if g.isClosed() || key == "" {
		return byteview.ByteView{}, false
	}

	if v, ok := g.store.Get(key); ok {
		atomic.AddInt64(&g.stats.LocalHits, 1)
		g.rec.GroupHit(g.name, true)
		g.log.WithFields(logrus.Fields{"group": g.name, "key": key}).Debug("local cache hit")
		return v, true
	}
	atomic.AddInt64(&g.stats.LocalMisses, 1)
	g.rec.GroupMiss(g.name, true)

	return g.load(ctx, key)
}

func (g *CacheGroup) load(ctx context.Context, key string) (byteview.ByteView, bool) {
	res := g.flight.Do(key, func() singleflight.Result {
		v, ok := g.loadOnce(ctx, key)
		return singleflight.Result{Value: v, Found: ok}
	})

	atomic.AddInt64(&g.stats.Loads, 1)
	if !res.Found {
		atomic.AddInt64(&g.stats.LoadErrors, 1)
		g.rec.LoadError(g.name)
		return byteview.ByteView{}, false
	}

	g.store.Set(key, res.Value)
	return res.Value, true
}

// loadOnce runs exactly once per SingleFlight burst: try the ring owner's
// peer first, then fall back to the data source.
func (g *CacheGroup) loadOnce(ctx context.Context, key string) (byteview.ByteView, bool) {
	if picker := g.peerPicker(); picker != nil {
		if p, ok := picker.PickPeer(key); ok {
			if v, ok := p.Get(ctx, g.name, key); ok {
				atomic.AddInt64(&g.stats.PeerHits, 1)
				g.rec.GroupHit(g.name, false)
				return v, true
			}
			atomic.AddInt64(&g.stats.PeerMisses, 1)
			g.rec.GroupMiss(g.name, false)
			g.log.WithFields(logrus.Fields{"group": g.name, "key": key, "peer": p.Address()}).
				Warn("peer get failed, falling back to data source")
		}
	}

	v, ok := g.dataSource(ctx, key)
	if !ok {
		return byteview.ByteView{}, false
	}
	atomic.AddInt64(&g.stats.LocalHits, 1)
	return v, true
}

// Set stores value under key locally, then — unless fromPeer is set —
// propagates the write to the rest of the cluster.
func (g *CacheGroup) Set(ctx context.Context, key string, value byteview.ByteView, fromPeer bool) bool {
	if g.isClosed() || key == "" {
		return false
	}
	g.store.Set(key, value)

	if !fromPeer {
		if picker := g.peerPicker(); picker != nil {
			g.syncSet(ctx, key, value, picker)
		}
	}
	return true
}

// Delete removes key locally, then — unless fromPeer is set — broadcasts
// the delete to every known peer.
func (g *CacheGroup) Delete(ctx context.Context, key string, fromPeer bool) bool {
	if g.isClosed() || key == "" {
		return false
	}
	g.store.Delete(key)

	if !fromPeer {
		if picker := g.peerPicker(); picker != nil {
			g.syncDelete(ctx, key, picker)
		}
	}
	return true
}

// Invalidate is the active form: drop key locally, then broadcast
// INVALIDATE to every peer. Use InvalidateFromPeer for the receiver side of
// a peer-originated invalidation, which must not re-propagate.
func (g *CacheGroup) Invalidate(ctx context.Context, key string) bool {
	if g.isClosed() || key == "" {
		return false
	}
	g.store.Delete(key)

	if picker := g.peerPicker(); picker != nil {
		g.syncInvalidate(ctx, key, picker)
	}
	return true
}

// InvalidateFromPeer drops key locally only. It never propagates further;
// it is the handler CacheGroup exposes to the RPC server for incoming
// peer-originated INVALIDATE calls.
func (g *CacheGroup) InvalidateFromPeer(key string) bool {
	if g.isClosed() || key == "" {
		return false
	}
	g.store.Delete(key)
	return true
}

// syncSet implements the SET propagation rule: the ring owner gets the
// authoritative write, every other peer is told to drop its stale copy.
func (g *CacheGroup) syncSet(ctx context.Context, key string, value byteview.ByteView, picker PeerPicker) {
	owner, hasOwner := picker.PickPeer(key)
	if hasOwner {
		if !owner.Set(ctx, g.name, key, value) {
			g.rec.PeerRPCFailure("set")
			g.log.WithFields(logrus.Fields{"group": g.name, "key": key, "peer": owner.Address()}).
				Warn("peer set failed")
		}
	}

	for _, p := range picker.AllPeers() {
		if hasOwner && p.Address() == owner.Address() {
			continue
		}
		if !p.Invalidate(ctx, g.name, key) {
			g.rec.PeerRPCFailure("invalidate")
			g.log.WithFields(logrus.Fields{"group": g.name, "key": key, "peer": p.Address()}).
				Warn("peer invalidate failed")
		}
	}
}

func (g *CacheGroup) syncDelete(ctx context.Context, key string, picker PeerPicker) {
	for _, p := range picker.AllPeers() {
		if !p.Delete(ctx, g.name, key) {
			g.rec.PeerRPCFailure("delete")
			g.log.WithFields(logrus.Fields{"group": g.name, "key": key, "peer": p.Address()}).
				Warn("peer delete failed")
		}
	}
}

func (g *CacheGroup) syncInvalidate(ctx context.Context, key string, picker PeerPicker) {
	for _, p := range picker.AllPeers() {
		if !p.Invalidate(ctx, g.name, key) {
			g.rec.PeerRPCFailure("invalidate")
			g.log.WithFields(logrus.Fields{"group": g.name, "key": key, "peer": p.Address()}).
				Warn("peer invalidate failed")
		}
	}
}
