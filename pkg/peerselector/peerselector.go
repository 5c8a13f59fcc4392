// Package peerselector implements PeerSelector: the component that mirrors
// live cluster membership from a Registry into a ConsistentHashRing of
// addresses and a pool of Peer clients, so CacheGroup can ask "who owns
// this key" without talking to the registry on every lookup.
//
// The shape is grounded on
// other_examples/LingoRihood-GoDistributeCache__peers.go's ClientPicker: a
// synchronous initial fetch, a background watch goroutine pushing
// add/remove events, and a read-write lock guarding the ring and the
// address->client map together so they never disagree about membership.
package peerselector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kvmesh/kvmesh/internal/registry"
	"github.com/kvmesh/kvmesh/pkg/hashring"
	"github.com/kvmesh/kvmesh/pkg/metrics"
	"github.com/kvmesh/kvmesh/pkg/peer"
)

// DialFunc constructs a Peer client for address. Config defaults this to
// peer.Dial; tests substitute a fake so they don't need a real listener.
type DialFunc func(address string) (peer.Peer, error)

// Config constructs a Selector.
type Config struct {
	SelfAddress string
	ServiceName string
	Registry    registry.Registry
	RingConfig  hashring.Config
	DialTimeout time.Duration
	Logger      *logrus.Logger
	Dial        DialFunc
	Recorder    metrics.Recorder
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = peer.DefaultDeadline
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.Recorder == nil {
		c.Recorder = metrics.NoOp{}
	}
	if c.Dial == nil {
		dialTimeout := c.DialTimeout
		rec := c.Recorder
		c.Dial = func(address string) (peer.Peer, error) {
			return peer.Dial(address, dialTimeout, peer.WithRecorder(rec))
		}
	}
	return c
}

// Selector is PeerSelector. The zero value is not usable; construct with
// New.
type Selector struct {
	cfg Config
	log *logrus.Logger
	ring *hashring.Ring

	mu      sync.RWMutex
	clients map[string]peer.Peer

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Selector: it synchronously lists the current peers for
// cfg.ServiceName, then spawns a background subscriber for subsequent
// membership changes. Construction fails if the initial list or the watch
// subscription cannot be established.
func New(cfg Config) (*Selector, error) {
	if cfg.SelfAddress == "" {
		return nil, errors.New("peerselector: self address must not be empty")
	}
	if cfg.ServiceName == "" {
		return nil, errors.New("peerselector: service name must not be empty")
	}
	if cfg.Registry == nil {
		return nil, errors.New("peerselector: registry must not be nil")
	}
	cfg = cfg.withDefaults()
	if cfg.RingConfig.Recorder == nil {
		cfg.RingConfig.Recorder = cfg.Recorder
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Selector{
		cfg:     cfg,
		log:     cfg.Logger,
		ring:    hashring.New(cfg.RingConfig),
		clients: make(map[string]peer.Peer),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	addrs, err := cfg.Registry.List(ctx, cfg.ServiceName)
	if err != nil {
		cancel()
		s.ring.Close()
		return nil, fmt.Errorf("peerselector: initial list: %w", err)
	}
	for _, addr := range addrs {
		if addr != cfg.SelfAddress {
			s.addPeer(addr)
		}
	}

	events, err := cfg.Registry.Watch(ctx, cfg.ServiceName)
	if err != nil {
		cancel()
		s.ring.Close()
		return nil, fmt.Errorf("peerselector: watch: %w", err)
	}
	go s.subscribe(events)

	return s, nil
}

func (s *Selector) subscribe(events <-chan registry.Event) {
	defer close(s.done)
	for ev := range events {
		if ev.Address == s.cfg.SelfAddress {
			continue
		}
		switch ev.Type {
		case registry.EventPut:
			s.addPeer(ev.Address)
		case registry.EventDelete:
			s.removePeer(ev.Address)
		}
	}
}

func (s *Selector) addPeer(addr string) {
	s.mu.Lock()
	if _, exists := s.clients[addr]; exists {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	p, err := s.cfg.Dial(addr)
	if err != nil {
		s.log.WithFields(logrus.Fields{"address": addr}).WithError(err).Warn("failed to dial discovered peer")
		return
	}

	s.mu.Lock()
	if _, exists := s.clients[addr]; exists {
		s.mu.Unlock()
		_ = p.Close()
		return
	}
	s.clients[addr] = p
	s.mu.Unlock()

	s.ring.Add([]string{addr})
	s.log.WithFields(logrus.Fields{"address": addr}).Info("peer joined")
}

func (s *Selector) removePeer(addr string) {
	s.mu.Lock()
	p, exists := s.clients[addr]
	if exists {
		delete(s.clients, addr)
	}
	s.mu.Unlock()

	if !exists {
		return
	}
	s.ring.Remove(addr)
	_ = p.Close()
	s.log.WithFields(logrus.Fields{"address": addr}).Info("peer left")
}

// PickPeer looks up key in the ring. It returns (nil, false) if the ring is
// empty, or if the owner is self_address — self is never routed through a
// Peer client.
func (s *Selector) PickPeer(key string) (peer.Peer, bool) {
	node, ok := s.ring.Get(key)
	if !ok || node == "" || node == s.cfg.SelfAddress {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.clients[node]
	return p, ok
}

// AllPeers returns a snapshot of every currently known remote peer.
func (s *Selector) AllPeers() []peer.Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	peers := make([]peer.Peer, 0, len(s.clients))
	for _, p := range s.clients {
		peers = append(peers, p)
	}
	return peers
}

// Close cancels the background subscriber and joins it, then closes the
// ring and every Peer client. The Selector must not be used after Close
// begins.
func (s *Selector) Close() error {
	s.cancel()
	<-s.done
	s.ring.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.clients {
		_ = p.Close()
	}
	s.clients = nil
	return nil
}
