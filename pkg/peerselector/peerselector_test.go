package peerselector

import (
	"context"
	"testing"
	"time"

	"github.com/kvmesh/kvmesh/internal/registry"
	"github.com/kvmesh/kvmesh/pkg/byteview"
	"github.com/kvmesh/kvmesh/pkg/hashring"
	"github.com/kvmesh/kvmesh/pkg/peer"
)

// stubPeer is a minimal peer.Peer that records its own address and nothing
// else; peerselector tests only care about membership bookkeeping.
type stubPeer struct {
	address string
	closed  bool
}

func (p *stubPeer) Address() string { return p.address }
func (p *stubPeer) Get(ctx context.Context, group, key string) (byteview.ByteView, bool) {
	return byteview.ByteView{}, false
}
func (p *stubPeer) Set(ctx context.Context, group, key string, value byteview.ByteView) bool {
	return true
}
func (p *stubPeer) Delete(ctx context.Context, group, key string) bool     { return true }
func (p *stubPeer) Invalidate(ctx context.Context, group, key string) bool { return true }
func (p *stubPeer) SetFromGateway(ctx context.Context, group, key string, value byteview.ByteView) bool {
	return true
}
func (p *stubPeer) DeleteFromGateway(ctx context.Context, group, key string) bool { return true }
func (p *stubPeer) Close() error                                                  { p.closed = true; return nil }

var _ peer.Peer = (*stubPeer)(nil)

func stubDial() (DialFunc, map[string]*stubPeer) {
	created := make(map[string]*stubPeer)
	return func(address string) (peer.Peer, error) {
		p := &stubPeer{address: address}
		created[address] = p
		return p, nil
	}, created
}

func fastRingConfig() hashring.Config {
	cfg := hashring.DefaultConfig()
	cfg.RebalanceInterval = time.Hour // keep the background rebalancer quiet during tests
	return cfg
}

func TestNewPerformsSynchronousInitialList(t *testing.T) {
	reg := registry.NewFake()
	reg.Put("kvmesh", "b:1")
	reg.Put("kvmesh", "c:1")

	dial, _ := stubDial()
	s, err := New(Config{SelfAddress: "a:1", ServiceName: "kvmesh", Registry: reg, RingConfig: fastRingConfig(), Dial: dial})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	peers := s.AllPeers()
	if len(peers) != 2 {
		t.Fatalf("AllPeers() = %v, want 2 peers", peers)
	}
}

func TestSelfAddressNeverBecomesAPeer(t *testing.T) {
	reg := registry.NewFake()
	reg.Put("kvmesh", "a:1") // a:1 is self; should never get a client

	dial, created := stubDial()
	s, err := New(Config{SelfAddress: "a:1", ServiceName: "kvmesh", Registry: reg, RingConfig: fastRingConfig(), Dial: dial})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if len(created) != 0 {
		t.Errorf("dialed %v, want no dial for self address", created)
	}
	if len(s.AllPeers()) != 0 {
		t.Errorf("AllPeers() = %v, want empty", s.AllPeers())
	}
}

func TestPickPeerReturnsNoneForSelfOwnedKey(t *testing.T) {
	reg := registry.NewFake()
	reg.Put("kvmesh", "b:1")
	reg.Put("kvmesh", "c:1")

	dial, _ := stubDial()
	cfg := fastRingConfig()
	cfg.Replicas = 1
	s, err := New(Config{SelfAddress: "a:1", ServiceName: "kvmesh", Registry: reg, RingConfig: cfg, Dial: dial})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	// a:1 (self) is never added to the ring, so PickPeer can only ever
	// return b:1 or c:1 — there is no key that maps to self in this setup.
	for _, key := range []string{"1", "2", "3", "4", "5"} {
		p, ok := s.PickPeer(key)
		if !ok {
			t.Errorf("PickPeer(%q) returned none, want a remote peer", key)
			continue
		}
		if p.Address() == "a:1" {
			t.Errorf("PickPeer(%q) returned self", key)
		}
	}
}

func TestWatchAddsAndRemovesPeers(t *testing.T) {
	reg := registry.NewFake()

	dial, created := stubDial()
	s, err := New(Config{SelfAddress: "a:1", ServiceName: "kvmesh", Registry: reg, RingConfig: fastRingConfig(), Dial: dial})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	reg.Put("kvmesh", "b:1")
	waitFor(t, func() bool { return len(s.AllPeers()) == 1 })
	if _, ok := created["b:1"]; !ok {
		t.Fatal("expected b:1 to have been dialed")
	}

	reg.Remove("kvmesh", "b:1")
	waitFor(t, func() bool { return len(s.AllPeers()) == 0 })
	if !created["b:1"].closed {
		t.Error("expected b:1's Peer client to be closed on removal")
	}
}

func TestCloseJoinsSubscriberAndClosesPeers(t *testing.T) {
	reg := registry.NewFake()
	reg.Put("kvmesh", "b:1")

	dial, created := stubDial()
	s, err := New(Config{SelfAddress: "a:1", ServiceName: "kvmesh", Registry: reg, RingConfig: fastRingConfig(), Dial: dial})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if !created["b:1"].closed {
		t.Error("expected Close to close every known peer")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
