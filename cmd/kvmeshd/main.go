// Command kvmeshd runs one kvmesh cache node: it registers itself with the
// cluster's registry, discovers its peers, and serves the RPC surface those
// peers (and the HTTP gateway) use to reach its cache groups.
//
// The group a node serves is named "default" and its data source always
// reports a miss; kvmeshd is a standalone cache node, not an application
// embedding the cache library, so there is no real backing store to fall
// through to. Applications that need a custom data source link
// pkg/group directly instead of running this binary.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/kvmesh/kvmesh/internal/bootstrap"
	"github.com/kvmesh/kvmesh/pkg/byteview"
	"github.com/kvmesh/kvmesh/pkg/config"
	"github.com/kvmesh/kvmesh/pkg/group"
	"github.com/kvmesh/kvmesh/pkg/metrics"
)

func alwaysMiss(ctx context.Context, key string) (byteview.ByteView, bool) {
	return byteview.ByteView{}, false
}

// serveMetrics exposes /metrics on addr in the background, the same
// register-and-ListenAndServe-in-a-goroutine shape
// IvanBrykalov/shardcache's cmd/bench uses for its own Prometheus endpoint.
// A disabled metrics server (addr == "") is a no-op.
func serveMetrics(addr string, log *logrus.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		log.WithField("address", addr).Info("metrics server listening")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()
}

func main() {
	cfg := config.LoadNodeConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := logrus.StandardLogger()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	logger.WithField("config", cfg).Info("starting kvmeshd")

	rec := metrics.New(nil)
	serveMetrics(cfg.MetricsAddr, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	node, err := bootstrap.NewNode(ctx, bootstrap.NodeDeps{
		Config: cfg,
		Groups: []bootstrap.GroupSpec{
			{Name: "default", CapacityBytes: cfg.CapacityBytes, DataSource: group.DataSource(alwaysMiss)},
		},
		Logger:   logger,
		Recorder: rec,
	})
	if err != nil {
		log.Fatalf("failed to construct node: %v", err)
	}
	logger.WithField("address", node.Addr()).Info("rpc listener bound")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := node.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("node exited with error: %v", err)
	}
	logger.Info("kvmeshd stopped")
}
