package group

import (
	"context"
	"sync"
	"testing"

	"github.com/kvmesh/kvmesh/pkg/byteview"
	"github.com/kvmesh/kvmesh/pkg/peer"
)

// fakePeer is an in-memory stand-in for peer.Peer that records every call it
// receives and serves Get from a local map, so tests can drive CacheGroup's
// peer-routing logic without a real TCP server.
type fakePeer struct {
	address string

	mu    sync.Mutex
	store map[string]byteview.ByteView
	calls []string
	fail  bool
}

func newFakePeer(address string) *fakePeer {
	return &fakePeer{address: address, store: make(map[string]byteview.ByteView)}
}

func (p *fakePeer) Address() string { return p.address }

func (p *fakePeer) Get(ctx context.Context, group, key string) (byteview.ByteView, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "get:"+key)
	if p.fail {
		return byteview.ByteView{}, false
	}
	v, ok := p.store[key]
	return v, ok
}

func (p *fakePeer) Set(ctx context.Context, group, key string, value byteview.ByteView) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "set:"+key)
	if p.fail {
		return false
	}
	p.store[key] = value
	return true
}

func (p *fakePeer) Delete(ctx context.Context, group, key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "delete:"+key)
	if p.fail {
		return false
	}
	delete(p.store, key)
	return true
}

func (p *fakePeer) Invalidate(ctx context.Context, group, key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "invalidate:"+key)
	if p.fail {
		return false
	}
	delete(p.store, key)
	return true
}

func (p *fakePeer) SetFromGateway(ctx context.Context, group, key string, value byteview.ByteView) bool {
	return p.Set(ctx, group, key, value)
}

func (p *fakePeer) DeleteFromGateway(ctx context.Context, group, key string) bool {
	return p.Delete(ctx, group, key)
}

func (p *fakePeer) Close() error { return nil }

func (p *fakePeer) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

var _ peer.Peer = (*fakePeer)(nil)

// fakePicker is a PeerPicker whose owner assignment and peer set are set
// directly by the test, instead of being derived from a real ring.
type fakePicker struct {
	owner string // address PickPeer should return; "" means no remote owner
	all   []peer.Peer
}

func (f *fakePicker) PickPeer(key string) (peer.Peer, bool) {
	if f.owner == "" {
		return nil, false
	}
	for _, p := range f.all {
		if p.Address() == f.owner {
			return p, true
		}
	}
	return nil, false
}

func (f *fakePicker) AllPeers() []peer.Peer { return f.all }

func noopSource(ctx context.Context, key string) (byteview.ByteView, bool) {
	return byteview.ByteView{}, false
}

func TestNewRejectsNilDataSource(t *testing.T) {
	if _, err := New("g", 1024, nil); err != ErrNilDataSource {
		t.Fatalf("New(nil data source) = %v, want ErrNilDataSource", err)
	}
}

func TestGetRejectsEmptyKeyAndClosedGroup(t *testing.T) {
	g, err := New("g", 1024, noopSource)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := g.Get(context.Background(), ""); ok {
		t.Error("Get with empty key should report absent")
	}
	g.Close()
	if _, ok := g.Get(context.Background(), "k"); ok {
		t.Error("Get on a closed group should report absent")
	}
	if ok := g.Set(context.Background(), "k", byteview.NewFromString("v"), false); ok {
		t.Error("Set on a closed group should report failure")
	}
}

func TestGetFillsFromDataSourceOnMiss(t *testing.T) {
	source := func(ctx context.Context, key string) (byteview.ByteView, bool) {
		if key == "present" {
			return byteview.NewFromString("from-source"), true
		}
		return byteview.ByteView{}, false
	}
	g, err := New("g", 4096, source)
	if err != nil {
		t.Fatal(err)
	}

	v, ok := g.Get(context.Background(), "present")
	if !ok || v.String() != "from-source" {
		t.Fatalf("Get(present) = %q, %v; want from-source, true", v.String(), ok)
	}

	// Second Get should hit the local store, not the data source again.
	v, ok = g.Get(context.Background(), "present")
	if !ok || v.String() != "from-source" {
		t.Fatalf("second Get(present) = %q, %v", v.String(), ok)
	}

	if _, ok := g.Get(context.Background(), "absent"); ok {
		t.Error("Get(absent) should report absent when the data source has nothing")
	}

	stats := g.Stats()
	if stats.LocalMisses != 2 {
		t.Errorf("LocalMisses = %d, want 2", stats.LocalMisses)
	}
	if stats.LocalHits != 2 { // one store hit + one data-source fill
		t.Errorf("LocalHits = %d, want 2", stats.LocalHits)
	}
}

func TestGetRoutesToPeerBeforeDataSource(t *testing.T) {
	remote := newFakePeer("remote:1")
	remote.store["k"] = byteview.NewFromString("remote-value")

	sourceCalled := false
	source := func(ctx context.Context, key string) (byteview.ByteView, bool) {
		sourceCalled = true
		return byteview.ByteView{}, false
	}

	g, err := New("g", 4096, source)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.RegisterPeerPicker(&fakePicker{owner: "remote:1", all: []peer.Peer{remote}}); err != nil {
		t.Fatal(err)
	}

	v, ok := g.Get(context.Background(), "k")
	if !ok || v.String() != "remote-value" {
		t.Fatalf("Get(k) = %q, %v; want remote-value, true", v.String(), ok)
	}
	if sourceCalled {
		t.Error("data source should not be consulted when the peer has the value")
	}
	if stats := g.Stats(); stats.PeerHits != 1 {
		t.Errorf("PeerHits = %d, want 1", stats.PeerHits)
	}
}

func TestGetFallsBackToDataSourceOnPeerMiss(t *testing.T) {
	remote := newFakePeer("remote:1")

	source := func(ctx context.Context, key string) (byteview.ByteView, bool) {
		return byteview.NewFromString("from-source"), true
	}

	g, err := New("g", 4096, source)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.RegisterPeerPicker(&fakePicker{owner: "remote:1", all: []peer.Peer{remote}}); err != nil {
		t.Fatal(err)
	}

	v, ok := g.Get(context.Background(), "k")
	if !ok || v.String() != "from-source" {
		t.Fatalf("Get(k) = %q, %v; want from-source, true", v.String(), ok)
	}
	if stats := g.Stats(); stats.PeerMisses != 1 {
		t.Errorf("PeerMisses = %d, want 1", stats.PeerMisses)
	}
}

func TestRegisterPeerPickerIsOneShot(t *testing.T) {
	g, err := New("g", 1024, noopSource)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.RegisterPeerPicker(&fakePicker{}); err != nil {
		t.Fatal(err)
	}
	if err := g.RegisterPeerPicker(&fakePicker{}); err != ErrPeerPickerAlreadyRegistered {
		t.Fatalf("second RegisterPeerPicker = %v, want ErrPeerPickerAlreadyRegistered", err)
	}
}

func TestSetPropagatesOwnerWriteAndInvalidatesOthers(t *testing.T) {
	owner := newFakePeer("owner:1")
	other := newFakePeer("other:1")

	g, err := New("g", 4096, noopSource)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.RegisterPeerPicker(&fakePicker{owner: "owner:1", all: []peer.Peer{owner, other}}); err != nil {
		t.Fatal(err)
	}

	if ok := g.Set(context.Background(), "k", byteview.NewFromString("v"), false); !ok {
		t.Fatal("Set should succeed")
	}

	ownerCalls := owner.callLog()
	if len(ownerCalls) != 1 || ownerCalls[0] != "set:k" {
		t.Errorf("owner calls = %v, want [set:k]", ownerCalls)
	}
	otherCalls := other.callLog()
	if len(otherCalls) != 1 || otherCalls[0] != "invalidate:k" {
		t.Errorf("other calls = %v, want [invalidate:k]", otherCalls)
	}
}

func TestSetFromPeerDoesNotPropagate(t *testing.T) {
	owner := newFakePeer("owner:1")

	g, err := New("g", 4096, noopSource)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.RegisterPeerPicker(&fakePicker{owner: "owner:1", all: []peer.Peer{owner}}); err != nil {
		t.Fatal(err)
	}

	g.Set(context.Background(), "k", byteview.NewFromString("v"), true)

	if calls := owner.callLog(); len(calls) != 0 {
		t.Errorf("owner should not be contacted for a from-peer Set, got %v", calls)
	}
}

func TestDeleteBroadcastsToEveryPeer(t *testing.T) {
	a := newFakePeer("a:1")
	b := newFakePeer("b:1")

	g, err := New("g", 4096, noopSource)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.RegisterPeerPicker(&fakePicker{all: []peer.Peer{a, b}}); err != nil {
		t.Fatal(err)
	}

	g.Delete(context.Background(), "k", false)

	if calls := a.callLog(); len(calls) != 1 || calls[0] != "delete:k" {
		t.Errorf("a calls = %v, want [delete:k]", calls)
	}
	if calls := b.callLog(); len(calls) != 1 || calls[0] != "delete:k" {
		t.Errorf("b calls = %v, want [delete:k]", calls)
	}
}

func TestInvalidateDropsLocallyAndBroadcasts(t *testing.T) {
	a := newFakePeer("a:1")
	source := func(ctx context.Context, key string) (byteview.ByteView, bool) {
		return byteview.NewFromString("v"), true
	}

	g, err := New("g", 4096, source)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.RegisterPeerPicker(&fakePicker{all: []peer.Peer{a}}); err != nil {
		t.Fatal(err)
	}

	g.Get(context.Background(), "k") // populate local store
	g.Invalidate(context.Background(), "k")

	if _, ok := g.store.Get("k"); ok {
		t.Error("Invalidate should drop the key locally")
	}
	if calls := a.callLog(); len(calls) != 1 || calls[0] != "invalidate:k" {
		t.Errorf("a calls = %v, want [invalidate:k]", calls)
	}
}

func TestInvalidateFromPeerNeverPropagates(t *testing.T) {
	a := newFakePeer("a:1")
	source := func(ctx context.Context, key string) (byteview.ByteView, bool) {
		return byteview.NewFromString("v"), true
	}

	g, err := New("g", 4096, source)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.RegisterPeerPicker(&fakePicker{all: []peer.Peer{a}}); err != nil {
		t.Fatal(err)
	}

	g.Get(context.Background(), "k")
	g.InvalidateFromPeer("k")

	if _, ok := g.store.Get("k"); ok {
		t.Error("InvalidateFromPeer should drop the key locally")
	}
	if calls := a.callLog(); len(calls) != 0 {
		t.Errorf("InvalidateFromPeer must not propagate, got calls %v", calls)
	}
}

func TestPeerFailureDoesNotAbortBroadcast(t *testing.T) {
	failing := newFakePeer("failing:1")
	failing.fail = true
	healthy := newFakePeer("healthy:1")

	g, err := New("g", 4096, noopSource)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.RegisterPeerPicker(&fakePicker{all: []peer.Peer{failing, healthy}}); err != nil {
		t.Fatal(err)
	}

	g.Delete(context.Background(), "k", false)

	if calls := healthy.callLog(); len(calls) != 1 || calls[0] != "delete:k" {
		t.Errorf("a failing peer must not stop the broadcast to others, healthy calls = %v", calls)
	}
}
