// Package bootstrap wires the pieces a running kvmesh node or gateway needs
// into a single process: the registry client, the peer selector that turns
// registry membership into a consistent-hash ring, the process-wide group
// directory, and the RPC/HTTP servers that sit in front of them.
//
// Construction order is strict, matching the core's startup-race
// requirement: the group directory and peer discovery must be ready before
// the RPC server starts accepting connections, and this node must not
// advertise itself in the registry until its RPC server can actually answer
// requests. golang.org/x/sync/errgroup coordinates the server goroutines so
// a failure in any of them cancels the group and Run returns a single error
// instead of leaking a goroutine.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kvmesh/kvmesh/internal/gateway"
	"github.com/kvmesh/kvmesh/internal/registry"
	"github.com/kvmesh/kvmesh/internal/rpcserver"
	"github.com/kvmesh/kvmesh/pkg/config"
	"github.com/kvmesh/kvmesh/pkg/group"
	"github.com/kvmesh/kvmesh/pkg/hashring"
	"github.com/kvmesh/kvmesh/pkg/metrics"
	"github.com/kvmesh/kvmesh/pkg/peerselector"
)

// GroupSpec describes one named CacheGroup a node should have registered
// before it starts accepting RPC traffic.
type GroupSpec struct {
	Name          string
	CapacityBytes int64
	DataSource    group.DataSource
}

// NodeDeps configures a Node.
type NodeDeps struct {
	Config   *config.NodeConfig
	Groups   []GroupSpec
	Logger   *logrus.Logger
	Recorder metrics.Recorder
	// Registry overrides the etcd-backed Registry NewNode would otherwise
	// construct from Config.Registry. Tests supply an in-memory
	// registry.Fake here; production callers leave it nil.
	Registry registry.Registry
}

// Node wires together one kvmesh cache node: a Registry client, a
// PeerSelector, a group.Directory holding the groups from Groups, and the
// rpcserver.Server peers and the gateway dial in to.
type Node struct {
	cfg NodeDeps
	log *logrus.Logger
	rec metrics.Recorder

	reg      registry.Registry
	selector *peerselector.Selector
	dir      *group.Directory
	rpc      *rpcserver.Server
}

// NewNode constructs a Node: dials the registry, performs the peer
// selector's synchronous initial membership list, creates every group in
// deps.Groups and registers the selector as its peer picker, and binds (but
// does not yet serve) the RPC listener. Any failure here is
// configuration-fatal and is returned rather than left for Run to surface.
func NewNode(ctx context.Context, deps NodeDeps) (*Node, error) {
	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	rec := deps.Recorder
	if rec == nil {
		rec = metrics.NoOp{}
	}
	cfg := deps.Config

	reg := deps.Registry
	if reg == nil {
		etcdReg, err := registry.New(registry.Config{
			Endpoints:   cfg.Registry,
			DialTimeout: cfg.DialTimeout,
			LeaseTTL:    cfg.LeaseTTL,
			Logger:      log,
		})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: registry: %w", err)
		}
		reg = etcdReg
	}

	ringCfg := hashring.Config{
		Replicas:             cfg.Replicas,
		MinReplicas:          cfg.MinReplicas,
		MaxReplicas:          cfg.MaxReplicas,
		ImbalanceThreshold:   cfg.ImbalanceThreshold,
		RebalanceInterval:    cfg.RebalanceInterval,
		RebalanceMinRequests: cfg.RebalanceMinRequests,
		Recorder:             rec,
	}

	selector, err := peerselector.New(peerselector.Config{
		SelfAddress: cfg.SelfAddress,
		ServiceName: cfg.ServiceName,
		Registry:    reg,
		RingConfig:  ringCfg,
		DialTimeout: cfg.DialTimeout,
		Logger:      log,
		Recorder:    rec,
	})
	if err != nil {
		_ = reg.Close()
		return nil, fmt.Errorf("bootstrap: peer selector: %w", err)
	}

	dir := group.NewDirectory()
	for _, spec := range deps.Groups {
		g, err := dir.MakeCacheGroup(spec.Name, spec.CapacityBytes, spec.DataSource,
			group.WithLogger(log), group.WithMetrics(rec))
		if err != nil {
			_ = selector.Close()
			_ = reg.Close()
			return nil, fmt.Errorf("bootstrap: create group %q: %w", spec.Name, err)
		}
		if err := g.RegisterPeerPicker(selector); err != nil {
			_ = selector.Close()
			_ = reg.Close()
			return nil, fmt.Errorf("bootstrap: register peer picker for group %q: %w", spec.Name, err)
		}
	}

	rpc := rpcserver.New(cfg.RPCAddr(), dir, rpcserver.WithLogger(log), rpcserver.WithMetrics(rec))
	if err := rpc.Listen(ctx); err != nil {
		_ = selector.Close()
		_ = reg.Close()
		return nil, fmt.Errorf("bootstrap: rpc listen: %w", err)
	}

	return &Node{cfg: deps, log: log, rec: rec, reg: reg, selector: selector, dir: dir, rpc: rpc}, nil
}

// Addr returns the RPC server's bound address.
func (n *Node) Addr() string { return n.rpc.Addr() }

// Directory returns the node's group directory, so a caller (or a
// co-located gateway) can reach the same groups this node's RPC server
// dispatches into.
func (n *Node) Directory() *group.Directory { return n.dir }

// Selector returns the node's peer selector, so a caller can use it as a
// gateway.PeerPicker without a second registry subscription.
func (n *Node) Selector() *peerselector.Selector { return n.selector }

// Run serves RPC traffic until ctx is cancelled. It registers this node
// with the registry only after the RPC listener is already bound (so a
// peer that discovers this node through the registry can always reach it),
// and unregisters before tearing down the selector and registry client on
// the way out. Run blocks; the first error from any coordinated goroutine
// cancels the rest, per errgroup's group-of-goroutines contract.
func (n *Node) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return n.rpc.Serve(gctx)
	})

	if err := n.reg.Register(ctx, n.cfg.Config.ServiceName, n.cfg.Config.SelfAddress); err != nil {
		_ = n.rpc.Stop()
		_ = n.selector.Close()
		_ = n.reg.Close()
		return fmt.Errorf("bootstrap: register with registry: %w", err)
	}
	n.log.WithFields(logrus.Fields{"address": n.cfg.Config.SelfAddress}).Info("node registered and serving")

	err := g.Wait()

	unregCtx, cancel := context.WithTimeout(context.Background(), n.cfg.Config.DialTimeout)
	defer cancel()
	_ = n.reg.Unregister(unregCtx)
	_ = n.selector.Close()
	_ = n.reg.Close()

	return err
}

// GatewayDeps configures a Gateway.
type GatewayDeps struct {
	Config   *config.GatewayConfig
	Logger   *logrus.Logger
	Recorder metrics.Recorder
	// Registry overrides the etcd-backed Registry NewGateway would otherwise
	// construct from Config.Registry. Tests supply an in-memory
	// registry.Fake here; production callers leave it nil.
	Registry registry.Registry
}

// Gateway wires a standalone kvmesh-gateway process: a Registry client, a
// PeerSelector (used purely as a gateway.PeerPicker, never as a ring this
// process itself owns keys on), and the HTTP server.
type Gateway struct {
	cfg GatewayDeps
	log *logrus.Logger

	reg      registry.Registry
	selector *peerselector.Selector
	http     *gateway.Server
}

// NewGateway constructs a Gateway: dials the registry, performs the
// selector's synchronous initial membership list (with SelfAddress set to
// an address no node will ever advertise, so every discovered node is
// treated as a routable peer), and binds the HTTP listener.
func NewGateway(deps GatewayDeps) (*Gateway, error) {
	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	rec := deps.Recorder
	if rec == nil {
		rec = metrics.NoOp{}
	}
	cfg := deps.Config

	reg := deps.Registry
	if reg == nil {
		etcdReg, err := registry.New(registry.Config{
			Endpoints:   cfg.Registry,
			DialTimeout: cfg.DialTimeout,
			Logger:      log,
		})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: registry: %w", err)
		}
		reg = etcdReg
	}

	selector, err := peerselector.New(peerselector.Config{
		SelfAddress: "kvmesh-gateway", // never a valid node address, so every peer is routable
		ServiceName: cfg.ServiceName,
		Registry:    reg,
		RingConfig:  hashring.DefaultConfig(),
		DialTimeout: cfg.DialTimeout,
		Logger:      log,
		Recorder:    rec,
	})
	if err != nil {
		_ = reg.Close()
		return nil, fmt.Errorf("bootstrap: peer selector: %w", err)
	}

	httpSrv := gateway.New(cfg.ListenAddr(), selector, gateway.WithLogger(log), gateway.WithMetrics(rec))
	if err := httpSrv.Listen(); err != nil {
		_ = selector.Close()
		_ = reg.Close()
		return nil, fmt.Errorf("bootstrap: gateway listen: %w", err)
	}

	return &Gateway{cfg: deps, log: log, reg: reg, selector: selector, http: httpSrv}, nil
}

// Addr returns the gateway's bound HTTP address.
func (gw *Gateway) Addr() string { return gw.http.Addr() }

// Selector returns the gateway's peer selector.
func (gw *Gateway) Selector() *peerselector.Selector { return gw.selector }

// Run serves HTTP traffic until ctx is cancelled, then closes the selector
// and the registry client.
func (gw *Gateway) Run(ctx context.Context) error {
	err := gw.http.Serve(ctx)
	_ = gw.selector.Close()
	_ = gw.reg.Close()
	return err
}
