// Package peer implements the client side of the peer-to-peer RPC boundary:
// a per-remote-node connection that CacheGroup uses to route Get/Set/Delete/
// Invalidate to whichever node the ring says owns a key.
//
// The shape is lifted from cachemir's pkg/client.ConnectionPool (dial on
// demand up to a cap, reuse idle connections, close on error) but scoped to
// a single remote address and to the protocol package's four cache
// operations instead of the teacher's full Redis-compatible command set.
package peer

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kvmesh/kvmesh/pkg/byteview"
	"github.com/kvmesh/kvmesh/pkg/metrics"
	"github.com/kvmesh/kvmesh/pkg/protocol"
)

// DefaultDeadline is the per-call round-trip deadline applied when a caller
// doesn't set one on the context.
const DefaultDeadline = 3 * time.Second

// Option configures a TCPPeer at construction.
type Option func(*TCPPeer)

// WithRecorder attaches a metrics.Recorder that observes round-trip latency
// and failures for every call made through this peer. Defaults to
// metrics.NoOp.
func WithRecorder(rec metrics.Recorder) Option {
	return func(p *TCPPeer) { p.rec = rec }
}

// Peer is the contract CacheGroup uses to talk to a remote node. All
// failures (timeout, transport error, remote not-found) collapse to
// absent/false; Peer never surfaces a distinguishable error to its caller,
// matching spec's "the caller discriminates only by presence/absence"
// contract for the peer boundary.
type Peer interface {
	// Address is the remote node's address, as known to the ring.
	Address() string
	Get(ctx context.Context, group, key string) (byteview.ByteView, bool)
	Set(ctx context.Context, group, key string, value byteview.ByteView) bool
	Delete(ctx context.Context, group, key string) bool
	Invalidate(ctx context.Context, group, key string) bool
	// SetFromGateway and DeleteFromGateway mark the request IsGateway=true,
	// so the receiving node's CacheGroup treats it as from_peer=false and
	// propagates it, per the protocol's write-cycle-breaking rule. Only the
	// HTTP gateway calls these; peer-to-peer sync uses Set/Delete.
	SetFromGateway(ctx context.Context, group, key string, value byteview.ByteView) bool
	DeleteFromGateway(ctx context.Context, group, key string) bool
	// Close releases any pooled connections. Safe to call more than once.
	Close() error
}

// TCPPeer is the framed-TCP Peer implementation.
type TCPPeer struct {
	address string

	mu      sync.Mutex
	idle    []net.Conn
	created int
	maxConn int

	dialTimeout time.Duration
	rec         metrics.Recorder
}

// Dial constructs a TCPPeer for address, establishing and verifying one
// connection up front so construction fails visibly if the remote is
// unreachable, per spec's "construction must establish reachability within
// a bounded deadline" requirement. The verification connection is kept and
// returned to the pool rather than thrown away.
func Dial(address string, dialTimeout time.Duration, opts ...Option) (*TCPPeer, error) {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDeadline
	}
	p := &TCPPeer{
		address:     address,
		maxConn:     8,
		dialTimeout: dialTimeout,
		rec:         metrics.NoOp{},
	}
	for _, opt := range opts {
		opt(p)
	}

	conn, err := p.dial()
	if err != nil {
		return nil, fmt.Errorf("peer: dial %s: %w", address, err)
	}
	p.put(conn)
	return p, nil
}

// Address implements Peer.
func (p *TCPPeer) Address() string { return p.address }

func (p *TCPPeer) dial() (net.Conn, error) {
	dialer := &net.Dialer{Timeout: p.dialTimeout}
	conn, err := dialer.Dial("tcp", p.address)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.created++
	p.mu.Unlock()
	return conn, nil
}

func (p *TCPPeer) get() (net.Conn, error) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return conn, nil
	}
	canCreate := p.created < p.maxConn
	p.mu.Unlock()

	if !canCreate {
		return nil, fmt.Errorf("peer: connection pool exhausted for %s", p.address)
	}
	return p.dial()
}

func (p *TCPPeer) put(conn net.Conn) {
	p.mu.Lock()
	p.idle = append(p.idle, conn)
	p.mu.Unlock()
}

func (p *TCPPeer) drop(conn net.Conn) {
	_ = conn.Close()
	p.mu.Lock()
	p.created--
	p.mu.Unlock()
}

func deadlineFrom(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	return time.Now().Add(DefaultDeadline)
}

// roundTrip sends req and returns its response, or an error on any
// transport failure. The caller maps the error to absent/false; roundTrip
// itself never retries.
func (p *TCPPeer) roundTrip(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	conn, err := p.get()
	if err != nil {
		return nil, err
	}

	deadline := deadlineFrom(ctx)
	if err := conn.SetDeadline(deadline); err != nil {
		p.drop(conn)
		return nil, err
	}
	if err := protocol.WriteRequest(conn, req); err != nil {
		p.drop(conn)
		return nil, err
	}
	resp, err := protocol.ReadResponse(conn)
	if err != nil {
		p.drop(conn)
		return nil, err
	}

	p.put(conn)
	return resp, nil
}

// timedRoundTrip wraps roundTrip with latency/failure recording, keyed by a
// human-readable operation name rather than protocol.Op so the metric
// labels stay stable across wire-format changes.
func (p *TCPPeer) timedRoundTrip(ctx context.Context, opName string, req *protocol.Request) (*protocol.Response, error) {
	start := time.Now()
	resp, err := p.roundTrip(ctx, req)
	p.rec.PeerRPCLatency(opName, time.Since(start).Seconds())
	if err != nil || resp.Status != protocol.StatusOK {
		p.rec.PeerRPCFailure(opName)
	}
	return resp, err
}

// Get implements Peer.
func (p *TCPPeer) Get(ctx context.Context, group, key string) (byteview.ByteView, bool) {
	resp, err := p.timedRoundTrip(ctx, "get", &protocol.Request{Op: protocol.OpGet, Group: group, Key: key})
	if err != nil || resp.Status != protocol.StatusOK {
		return byteview.ByteView{}, false
	}
	return byteview.New(resp.Value), true
}

// Set implements Peer.
func (p *TCPPeer) Set(ctx context.Context, group, key string, value byteview.ByteView) bool {
	resp, err := p.timedRoundTrip(ctx, "set", &protocol.Request{
		Op: protocol.OpSet, Group: group, Key: key, Value: value.ByteSlice(),
	})
	return err == nil && resp.Status == protocol.StatusOK
}

// Delete implements Peer.
func (p *TCPPeer) Delete(ctx context.Context, group, key string) bool {
	resp, err := p.timedRoundTrip(ctx, "delete", &protocol.Request{Op: protocol.OpDelete, Group: group, Key: key})
	return err == nil && resp.Status == protocol.StatusOK
}

// SetFromGateway implements Peer.
func (p *TCPPeer) SetFromGateway(ctx context.Context, group, key string, value byteview.ByteView) bool {
	resp, err := p.timedRoundTrip(ctx, "set", &protocol.Request{
		Op: protocol.OpSet, Group: group, Key: key, Value: value.ByteSlice(), IsGateway: true,
	})
	return err == nil && resp.Status == protocol.StatusOK
}

// DeleteFromGateway implements Peer.
func (p *TCPPeer) DeleteFromGateway(ctx context.Context, group, key string) bool {
	resp, err := p.timedRoundTrip(ctx, "delete", &protocol.Request{
		Op: protocol.OpDelete, Group: group, Key: key, IsGateway: true,
	})
	return err == nil && resp.Status == protocol.StatusOK
}

// Invalidate implements Peer.
func (p *TCPPeer) Invalidate(ctx context.Context, group, key string) bool {
	resp, err := p.timedRoundTrip(ctx, "invalidate", &protocol.Request{Op: protocol.OpInvalidate, Group: group, Key: key})
	return err == nil && resp.Status == protocol.StatusOK
}

// Ping verifies the remote is still reachable with an OpPing round trip,
// which the remote answers without going through group logic. Neither the
// registry's keepalive nor the gateway's /healthz calls it.
func (p *TCPPeer) Ping(ctx context.Context) bool {
	resp, err := p.timedRoundTrip(ctx, "ping", &protocol.Request{Op: protocol.OpPing})
	return err == nil && resp.Status == protocol.StatusOK
}

// Close implements Peer.
func (p *TCPPeer) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, conn := range idle {
		_ = conn.Close()
	}
	return nil
}
