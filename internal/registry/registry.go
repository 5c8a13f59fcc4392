// Package registry defines the Registry contract PeerSelector relies on to
// discover live peers, plus an etcd-backed implementation and an in-memory
// fake for tests. The contract mirrors spec's registry adapter section: a
// leased self-registration with a keepalive loop, a prefix list, and a
// prefix watch that pushes add/remove events until cancelled.
//
// Keys live at "/services/{serviceName}/{address}" with value = address,
// matching other_examples/LingoRihood-GoDistributeCache's etcd keyspace.
package registry

import (
	"context"
	"fmt"
	"strings"
)

// EventType distinguishes a peer joining from a peer leaving.
type EventType int

const (
	EventPut    EventType = iota // address was registered or refreshed
	EventDelete                  // address's registration expired or was removed
)

// Event is one membership change pushed by Watch.
type Event struct {
	Type    EventType
	Address string
}

// Registry is the external coordination store contract. Implementations
// must make events eventually reflect reality and monotone per key within
// an observation window; the core does not require linearizability from it.
type Registry interface {
	// Register advertises address under serviceName and starts a background
	// keepalive loop that refreshes the backing lease at one-third of ttl.
	// The registration is active until Unregister is called or the Registry
	// itself is closed.
	Register(ctx context.Context, serviceName, address string) error

	// Unregister revokes this process's lease and joins the keepalive loop.
	// It is safe to call even if Register was never called.
	Unregister(ctx context.Context) error

	// List returns the current set of addresses registered under
	// serviceName.
	List(ctx context.Context, serviceName string) ([]string, error)

	// Watch pushes Events for serviceName onto the returned channel until
	// ctx is cancelled or Close is called, at which point the channel is
	// closed.
	Watch(ctx context.Context, serviceName string) (<-chan Event, error)

	// Close releases the Registry's resources. Registered services are
	// unregistered as part of Close.
	Close() error
}

// Key builds the registry key for serviceName and address.
func Key(serviceName, address string) string {
	return fmt.Sprintf("/services/%s/%s", serviceName, address)
}

// Prefix builds the watch/list prefix for serviceName.
func Prefix(serviceName string) string {
	return fmt.Sprintf("/services/%s/", serviceName)
}

// ParseAddress extracts the address suffix from a registry key for
// serviceName, or "" if key does not have that service's prefix. This is
// the core of PeerSelector's address-parsing rule: non-matching keys are
// ignored.
func ParseAddress(key, serviceName string) string {
	prefix := Prefix(serviceName)
	if !strings.HasPrefix(key, prefix) {
		return ""
	}
	return strings.TrimPrefix(key, prefix)
}
