// Package gateway implements the external HTTP collaborator: a thin
// translation layer between plain HTTP requests and the peer RPC boundary,
// so clients that don't want to speak the framed binary protocol can still
// reach the cluster.
//
// The route table and status-code mapping are carried over from the
// original C++ http_gateway.cpp (GET/POST/DELETE on
// /api/cache/{group}/{key}, 400/404/500/503 on the respective failure
// modes); the ring-based node selection that C++ version re-implements
// locally is replaced here by the same PeerPicker contract pkg/group uses,
// so the gateway and the cluster's own CacheGroups share one notion of "who
// owns this key." Every write the gateway issues goes out with
// IsGateway=true, so the receiving node's CacheGroup knows to propagate it.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kvmesh/kvmesh/pkg/byteview"
	"github.com/kvmesh/kvmesh/pkg/metrics"
	"github.com/kvmesh/kvmesh/pkg/peer"
)

const defaultOpTimeout = 5 * time.Second

// PeerPicker is the subset of pkg/peerselector.Selector the gateway needs.
// Declared locally, the same way pkg/group avoids importing peerselector
// directly, so this package stays testable with a trivial fake.
type PeerPicker interface {
	PickPeer(key string) (peer.Peer, bool)
	AllPeers() []peer.Peer
}

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

// Server is the gateway's HTTP surface.
type Server struct {
	addr   string
	picker PeerPicker
	log    *logrus.Logger
	rec    metrics.Recorder

	httpSrv  *http.Server
	listener net.Listener
}

// New constructs a Server that will listen on addr and route every request
// through picker.
func New(addr string, picker PeerPicker, opts ...Option) *Server {
	s := &Server{
		addr:   addr,
		picker: picker,
		log:    logrus.StandardLogger(),
		rec:    metrics.NoOp{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/cache/{group}/{key}", s.handleGet)
	mux.HandleFunc("POST /api/cache/{group}/{key}", s.handleSet)
	mux.HandleFunc("DELETE /api/cache/{group}/{key}", s.handleDelete)
	return mux
}

// Listen binds s.addr. Callers that need to know the bound address before
// Serve starts accepting connections (tests, addr=":0") call Listen,
// inspect Addr, then call Serve.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway: listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	return nil
}

// Addr returns the address the server is bound to. Valid only after Listen
// has returned successfully.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Serve accepts and handles HTTP connections on the already-bound listener
// until ctx is cancelled or the listener errors. It blocks.
func (s *Server) Serve(ctx context.Context) error {
	s.httpSrv = &http.Server{Handler: s.mux()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()

	s.log.WithFields(logrus.Fields{"address": s.listener.Addr().String()}).Info("gateway listening")
	if err := s.httpSrv.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway: serve: %w", err)
	}
	return nil
}

// Start binds s.addr and serves until ctx is cancelled or the listener
// errors. It blocks; callers typically run it inside an errgroup goroutine.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if len(s.picker.AllPeers()) == 0 {
		writeError(w, http.StatusServiceUnavailable, "no known peer")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	group, key := r.PathValue("group"), r.PathValue("key")

	p, ok := s.picker.PickPeer(key)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no cache service available")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), defaultOpTimeout)
	defer cancel()

	value, found := p.Get(ctx, group, key)
	if !found {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"group": group, "key": key, "value": value.String()})
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	group, key := r.PathValue("group"), r.PathValue("key")

	value, err := readValue(r)
	if err != nil || value == "" {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}

	p, ok := s.picker.PickPeer(key)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no cache service available")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), defaultOpTimeout)
	defer cancel()

	if !p.SetFromGateway(ctx, group, key, byteview.NewFromString(value)) {
		writeError(w, http.StatusInternalServerError, "failed to set value")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"group": group, "key": key, "value": value})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	group, key := r.PathValue("group"), r.PathValue("key")

	p, ok := s.picker.PickPeer(key)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no cache service available")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), defaultOpTimeout)
	defer cancel()

	if !p.DeleteFromGateway(ctx, group, key) {
		writeError(w, http.StatusInternalServerError, "failed to delete key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"group": group, "key": key, "deleted": "true"})
}

// readValue extracts the cache value from a POST body. A JSON body is read
// as {"value": "..."}; anything else is taken as the raw value bytes,
// selected by Content-Type rather than a parse-and-fall-back guess.
func readValue(r *http.Request) (string, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", err
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var payload struct {
			Value string `json:"value"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return "", err
		}
		return payload.Value, nil
	}
	return string(body), nil
}

func writeJSON(w http.ResponseWriter, status int, payload map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
