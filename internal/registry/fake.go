package registry

import (
	"context"
	"sync"
)

// Fake is an in-memory Registry for tests: it has no lease semantics and no
// network, but preserves the List/Watch contract so PeerSelector and
// bootstrap tests can drive membership changes deterministically.
type Fake struct {
	mu        sync.Mutex
	addresses map[string]map[string]struct{} // serviceName -> set of addresses
	watchers  map[string][]chan Event        // serviceName -> subscribers
	self      []registration
	closed    bool
}

type registration struct {
	serviceName string
	address     string
}

// NewFake constructs an empty Fake registry.
func NewFake() *Fake {
	return &Fake{
		addresses: make(map[string]map[string]struct{}),
		watchers:  make(map[string][]chan Event),
	}
}

// Register implements Registry.
func (f *Fake) Register(ctx context.Context, serviceName, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.self = append(f.self, registration{serviceName, address})
	f.putLocked(serviceName, address)
	return nil
}

// Unregister implements Registry: it removes every address this Fake
// itself registered.
func (f *Fake) Unregister(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, reg := range f.self {
		f.deleteLocked(reg.serviceName, reg.address)
	}
	f.self = nil
	return nil
}

// List implements Registry.
func (f *Fake) List(ctx context.Context, serviceName string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	set := f.addresses[serviceName]
	addrs := make([]string, 0, len(set))
	for addr := range set {
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// Watch implements Registry. The returned channel is closed when ctx is
// cancelled.
func (f *Fake) Watch(ctx context.Context, serviceName string) (<-chan Event, error) {
	ch := make(chan Event, 16)

	f.mu.Lock()
	f.watchers[serviceName] = append(f.watchers[serviceName], ch)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		subs := f.watchers[serviceName]
		for i, sub := range subs {
			if sub == ch {
				f.watchers[serviceName] = append(subs[:i], subs[i+1:]...)
				close(ch) // still subscribed, so Close has not closed it yet
				break
			}
		}
	}()

	return ch, nil
}

// Close implements Registry.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for _, subs := range f.watchers {
		for _, ch := range subs {
			close(ch)
		}
	}
	f.watchers = make(map[string][]chan Event)
	return nil
}

// Put registers address under serviceName as if some other process had
// called Register, notifying watchers. Tests use this to simulate a peer
// joining without going through a second Fake instance.
func (f *Fake) Put(serviceName, address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putLocked(serviceName, address)
}

// Remove simulates a peer leaving (lease expiry or explicit unregister).
func (f *Fake) Remove(serviceName, address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteLocked(serviceName, address)
}

func (f *Fake) putLocked(serviceName, address string) {
	if f.addresses[serviceName] == nil {
		f.addresses[serviceName] = make(map[string]struct{})
	}
	f.addresses[serviceName][address] = struct{}{}
	f.notifyLocked(serviceName, Event{Type: EventPut, Address: address})
}

func (f *Fake) deleteLocked(serviceName, address string) {
	if set := f.addresses[serviceName]; set != nil {
		delete(set, address)
	}
	f.notifyLocked(serviceName, Event{Type: EventDelete, Address: address})
}

func (f *Fake) notifyLocked(serviceName string, ev Event) {
	for _, ch := range f.watchers[serviceName] {
		select {
		case ch <- ev:
		default:
		}
	}
}

var _ Registry = (*Fake)(nil)
var _ Registry = (*Etcd)(nil)
