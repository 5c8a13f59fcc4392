// Package rpcserver implements the TCP surface peers and the gateway use to
// reach a node's CacheGroups: Get, Set, Delete, Invalidate and Ping over the
// framed binary protocol in pkg/protocol.
//
// The accept-loop-plus-per-connection-goroutine shape, and the command
// dispatch table, are lifted from the teacher's internal/server.Server; the
// handler set is narrowed from the teacher's full Redis-style command set
// down to the five cache operations this system needs, and a request's
// IsGateway flag now decides from_peer instead of a TTL argument.
package rpcserver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kvmesh/kvmesh/pkg/byteview"
	"github.com/kvmesh/kvmesh/pkg/group"
	"github.com/kvmesh/kvmesh/pkg/metrics"
	"github.com/kvmesh/kvmesh/pkg/protocol"
)

const (
	defaultReadTimeout  = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultOpTimeout    = 5 * time.Second
)

// Option configures a Server at construction.
type Option func(*Server)

// WithLogger overrides the default logger (logrus.StandardLogger()).
func WithLogger(l *logrus.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics overrides the default metrics.NoOp recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(s *Server) { s.rec = r }
}

// WithTimeouts overrides the per-connection read/write deadlines.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) { s.readTimeout, s.writeTimeout = read, write }
}

// Server is the RPC surface for one node. It dispatches requests into a
// group.Directory; it does not own the directory's lifecycle.
type Server struct {
	addr string
	dir  *group.Directory
	log  *logrus.Logger
	rec  metrics.Recorder

	readTimeout  time.Duration
	writeTimeout time.Duration

	listener net.Listener
}

// New constructs a Server that will listen on addr and dispatch into dir.
func New(addr string, dir *group.Directory, opts ...Option) *Server {
	s := &Server{
		addr:         addr,
		dir:          dir,
		log:          logrus.StandardLogger(),
		rec:          metrics.NoOp{},
		readTimeout:  defaultReadTimeout,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Addr returns the address the server is bound to. Valid only after Listen
// has returned successfully (useful when addr was "host:0").
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Listen binds s.addr. Callers that need to know the bound address before
// connections start arriving (tests, addr=":0") call Listen, inspect Addr,
// then call Serve.
func (s *Server) Listen(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpcserver: listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	return nil
}

// Serve accepts and handles connections on the already-bound listener until
// ctx is cancelled or the listener errors. It blocks.
func (s *Server) Serve(ctx context.Context) error {
	s.log.WithFields(logrus.Fields{"address": s.listener.Addr().String()}).Info("rpc server listening")

	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("rpcserver: accept: %w", err)
		}
		go s.handleConnection(ctx, conn)
	}
}

// Start binds s.addr and serves until ctx is cancelled or the listener
// errors. It blocks; callers typically run it inside an errgroup goroutine.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(ctx); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Stop closes the listener, causing Start's accept loop to return.
func (s *Server) Stop() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		if err := conn.Close(); err != nil {
			s.log.WithError(err).Debug("error closing rpc connection")
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			s.log.WithError(err).Warn("failed to set read deadline")
			return
		}
		req, err := protocol.ReadRequest(conn)
		if err != nil {
			return
		}

		resp := s.dispatch(ctx, req)

		if err := conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			s.log.WithError(err).Warn("failed to set write deadline")
			return
		}
		if err := protocol.WriteResponse(conn, resp); err != nil {
			return
		}
	}
}

// dispatch routes a single request to the named CacheGroup. Set/Delete with
// IsGateway=true are treated as from_peer=false (the group must propagate);
// without it they are from_peer=true (peer-originated, no re-propagation).
// Invalidate is peer-to-peer only and always lands on InvalidateFromPeer.
func (s *Server) dispatch(parent context.Context, req *protocol.Request) *protocol.Response {
	if req.Op == protocol.OpPing {
		return &protocol.Response{Status: protocol.StatusOK}
	}

	g, ok := s.dir.GetCacheGroup(req.Group)
	if !ok {
		return &protocol.Response{Status: protocol.StatusNotFound}
	}

	ctx, cancel := context.WithTimeout(parent, defaultOpTimeout)
	defer cancel()

	switch req.Op {
	case protocol.OpGet:
		v, found := g.Get(ctx, req.Key)
		if !found {
			return &protocol.Response{Status: protocol.StatusNotFound}
		}
		return &protocol.Response{Status: protocol.StatusOK, Value: v.ByteSlice()}

	case protocol.OpSet:
		fromPeer := !req.IsGateway
		if !g.Set(ctx, req.Key, byteview.New(req.Value), fromPeer) {
			return &protocol.Response{Status: protocol.StatusError, Error: "set failed"}
		}
		return &protocol.Response{Status: protocol.StatusOK}

	case protocol.OpDelete:
		fromPeer := !req.IsGateway
		if !g.Delete(ctx, req.Key, fromPeer) {
			return &protocol.Response{Status: protocol.StatusError, Error: "delete failed"}
		}
		return &protocol.Response{Status: protocol.StatusOK}

	case protocol.OpInvalidate:
		if !g.InvalidateFromPeer(req.Key) {
			return &protocol.Response{Status: protocol.StatusError, Error: "invalidate failed"}
		}
		return &protocol.Response{Status: protocol.StatusOK}

	default:
		return &protocol.Response{Status: protocol.StatusError, Error: fmt.Sprintf("unknown op: %d", req.Op)}
	}
}
