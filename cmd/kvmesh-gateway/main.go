// Command kvmesh-gateway runs a standalone HTTP gateway in front of a
// kvmesh cluster, for deployments that want the gateway scaled and
// restarted independently of the cache nodes themselves — the split the
// original http_gateway.cpp/main.cpp pairing suggests.
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
	"github.com/kvmesh/kvmesh/pkg/config"
	"github.com/kvmesh/kvmesh/pkg/metrics"
)

func main() {
	cfg := config.LoadGatewayConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := logrus.StandardLogger()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	logger.WithField("config", cfg).Info("starting kvmesh-gateway")

	rec := metrics.New(nil)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		log.Println(http.ListenAndServe(":2113", mux))
	}()

	gw, err := bootstrap.NewGateway(bootstrap.GatewayDeps{Config: cfg, Logger: logger, Recorder: rec})
	if err != nil {
		log.Fatalf("failed to construct gateway: %v", err)
	}
	logger.WithField("address", gw.Addr()).Info("gateway listener bound")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := gw.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("gateway exited with error: %v", err)
	}
	logger.Info("kvmesh-gateway stopped")
}
