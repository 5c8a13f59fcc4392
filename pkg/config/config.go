// Package config provides configuration management for kvmesh node and
// gateway processes.
//
// The package supports configuration through multiple sources with the
// following precedence:
//  1. Command-line flags (highest priority)
//  2. Environment variables
//  3. Default values (lowest priority)
//
// Node configuration covers the RPC listen address, registry endpoints,
// per-group capacity, and ring-rebalancer tuning. Gateway configuration
// covers the HTTP listen address and the registry endpoints it uses to
// discover nodes.
//
// Example node usage:
//
//	cfg := config.LoadNodeConfig()
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
// Example gateway usage:
//
//	cfg := config.LoadGatewayConfig()
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
// Environment variables are prefixed with "KVMESH_" and use uppercase names.
// For example, the node's RPC port can be set with KVMESH_RPC_PORT=9090.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default node configuration constants
const (
	DefaultRPCPort            = 9090
	DefaultGatewayPort        = 8080
	DefaultCapacityBytes      = 64 << 20 // 64MiB per group
	DefaultReplicas           = 50
	DefaultMinReplicas        = 10
	DefaultMaxReplicas        = 200
	DefaultImbalanceThreshold = 0.25
	DefaultRebalanceInterval  = time.Second
	DefaultRebalanceMinReqs   = 1000
	DefaultLeaseTTLSecs       = 10
	DefaultDialTimeoutSecs    = 5
)

// DefaultServiceName is the registry service name all kvmesh nodes register under,
// unless overridden.
const DefaultServiceName = "kvmesh"

// NodeConfig holds all configuration options for a kvmesh node process: the
// RPC server it exposes to peers and the gateway, plus the registry and
// ring tuning it needs to find and weigh its peers.
//
// Configuration sources (in order of precedence):
//  1. Command-line flags: -self-address, -rpc-port, -registry, etc.
//  2. Environment variables: KVMESH_SELF_ADDRESS, KVMESH_RPC_PORT, etc.
//  3. Default values
type NodeConfig struct {
	SelfAddress  string   // address other nodes dial to reach this node's RPC server
	RPCHost      string   // host to bind the RPC listener to (default: "0.0.0.0")
	RPCPort      int      // TCP port for the RPC listener (default: 9090)
	ServiceName  string   // registry service name (default: "kvmesh")
	Registry     []string // registry endpoints (etcd)
	LogLevel     string   // log level: debug, info, warn, error (default: "info")
	MetricsAddr  string   // address to expose /metrics on; empty disables it

	CapacityBytes int64 // per-group byte capacity (default: 64MiB)

	Replicas             int           // ring virtual nodes per physical node
	MinReplicas          int           // rebalancer floor
	MaxReplicas          int           // rebalancer ceiling
	ImbalanceThreshold   float64       // rebalancer trigger threshold
	RebalanceInterval    time.Duration // rebalancer sampling cadence
	RebalanceMinRequests int64         // rebalancer minimum sample size

	LeaseTTL    time.Duration // registry self-registration lease TTL
	DialTimeout time.Duration // registry and peer dial timeout
}

// GatewayConfig holds all configuration options for a standalone kvmesh
// gateway process: the HTTP listener it exposes to clients, plus the
// registry it uses to discover nodes.
type GatewayConfig struct {
	ListenHost  string   // host to bind the HTTP listener to (default: "0.0.0.0")
	ListenPort  int      // TCP port for the HTTP listener (default: 8080)
	ServiceName string   // registry service name (default: "kvmesh")
	Registry    []string // registry endpoints (etcd)
	LogLevel    string   // log level: debug, info, warn, error (default: "info")

	DialTimeout time.Duration // registry and peer dial timeout
}

// LoadNodeConfig creates a NodeConfig by loading values from command-line
// flags and environment variables, with sensible defaults.
//
// Command-line flags:
//
//	-self-address: address other nodes use to reach this node (required)
//	-rpc-host: RPC bind host (default: "0.0.0.0")
//	-rpc-port: RPC bind port (default: 9090)
//	-service-name: registry service name (default: "kvmesh")
//	-registry: comma-separated registry endpoints
//	-log-level: log level (default: "info")
//	-metrics-addr: address to serve /metrics on (default: ":2112")
//	-capacity-bytes: per-group byte capacity (default: 64MiB)
//	-replicas, -min-replicas, -max-replicas: ring tuning
//	-imbalance-threshold, -rebalance-interval, -rebalance-min-requests: rebalancer tuning
//
// Environment variables:
//
//	KVMESH_SELF_ADDRESS, KVMESH_RPC_HOST, KVMESH_RPC_PORT, KVMESH_SERVICE_NAME,
//	KVMESH_REGISTRY, KVMESH_LOG_LEVEL
func LoadNodeConfig() *NodeConfig {
	cfg := &NodeConfig{
		RPCHost:              "0.0.0.0",
		RPCPort:              DefaultRPCPort,
		ServiceName:          DefaultServiceName,
		LogLevel:             "info",
		MetricsAddr:          ":2112",
		CapacityBytes:        DefaultCapacityBytes,
		Replicas:             DefaultReplicas,
		MinReplicas:          DefaultMinReplicas,
		MaxReplicas:          DefaultMaxReplicas,
		ImbalanceThreshold:   DefaultImbalanceThreshold,
		RebalanceInterval:    DefaultRebalanceInterval,
		RebalanceMinRequests: DefaultRebalanceMinReqs,
		LeaseTTL:             DefaultLeaseTTLSecs * time.Second,
		DialTimeout:          DefaultDialTimeoutSecs * time.Second,
	}

	var registryCSV string
	flag.StringVar(&cfg.SelfAddress, "self-address", cfg.SelfAddress, "address other nodes use to reach this node's RPC server")
	flag.StringVar(&cfg.RPCHost, "rpc-host", cfg.RPCHost, "RPC server bind host")
	flag.IntVar(&cfg.RPCPort, "rpc-port", cfg.RPCPort, "RPC server bind port")
	flag.StringVar(&cfg.ServiceName, "service-name", cfg.ServiceName, "registry service name")
	flag.StringVar(&registryCSV, "registry", "", "comma-separated registry (etcd) endpoints")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve /metrics on")
	flag.Int64Var(&cfg.CapacityBytes, "capacity-bytes", cfg.CapacityBytes, "per-group byte capacity")
	flag.IntVar(&cfg.Replicas, "replicas", cfg.Replicas, "ring virtual nodes per physical node")
	flag.IntVar(&cfg.MinReplicas, "min-replicas", cfg.MinReplicas, "rebalancer floor on virtual nodes per node")
	flag.IntVar(&cfg.MaxReplicas, "max-replicas", cfg.MaxReplicas, "rebalancer ceiling on virtual nodes per node")
	flag.Float64Var(&cfg.ImbalanceThreshold, "imbalance-threshold", cfg.ImbalanceThreshold, "rebalancer trigger threshold")
	flag.DurationVar(&cfg.RebalanceInterval, "rebalance-interval", cfg.RebalanceInterval, "rebalancer sampling interval")
	flag.Int64Var(&cfg.RebalanceMinRequests, "rebalance-min-requests", cfg.RebalanceMinRequests, "rebalancer minimum sample size")
	flag.DurationVar(&cfg.LeaseTTL, "lease-ttl", cfg.LeaseTTL, "registry self-registration lease TTL")
	flag.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "registry and peer dial timeout")
	flag.Parse()

	if registryCSV != "" {
		cfg.Registry = splitCSV(registryCSV)
	}

	// Environment variables apply only where the matching flag was not given.
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if v := os.Getenv("KVMESH_SELF_ADDRESS"); v != "" && !set["self-address"] {
		cfg.SelfAddress = v
	}
	if v := os.Getenv("KVMESH_RPC_HOST"); v != "" && !set["rpc-host"] {
		cfg.RPCHost = v
	}
	if v := os.Getenv("KVMESH_RPC_PORT"); v != "" && !set["rpc-port"] {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.RPCPort = p
		}
	}
	if v := os.Getenv("KVMESH_SERVICE_NAME"); v != "" && !set["service-name"] {
		cfg.ServiceName = v
	}
	if v := os.Getenv("KVMESH_REGISTRY"); v != "" && !set["registry"] {
		cfg.Registry = splitCSV(v)
	}
	if v := os.Getenv("KVMESH_LOG_LEVEL"); v != "" && !set["log-level"] {
		cfg.LogLevel = v
	}

	return cfg
}

// LoadGatewayConfig creates a GatewayConfig by loading values from
// command-line flags and environment variables, with sensible defaults.
func LoadGatewayConfig() *GatewayConfig {
	cfg := &GatewayConfig{
		ListenHost:  "0.0.0.0",
		ListenPort:  DefaultGatewayPort,
		ServiceName: DefaultServiceName,
		LogLevel:    "info",
		DialTimeout: DefaultDialTimeoutSecs * time.Second,
	}

	var registryCSV string
	flag.StringVar(&cfg.ListenHost, "listen-host", cfg.ListenHost, "HTTP server bind host")
	flag.IntVar(&cfg.ListenPort, "listen-port", cfg.ListenPort, "HTTP server bind port")
	flag.StringVar(&cfg.ServiceName, "service-name", cfg.ServiceName, "registry service name")
	flag.StringVar(&registryCSV, "registry", "", "comma-separated registry (etcd) endpoints")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flag.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "registry and peer dial timeout")
	flag.Parse()

	if registryCSV != "" {
		cfg.Registry = splitCSV(registryCSV)
	}

	// Environment variables apply only where the matching flag was not given.
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if v := os.Getenv("KVMESH_LISTEN_HOST"); v != "" && !set["listen-host"] {
		cfg.ListenHost = v
	}
	if v := os.Getenv("KVMESH_LISTEN_PORT"); v != "" && !set["listen-port"] {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.ListenPort = p
		}
	}
	if v := os.Getenv("KVMESH_SERVICE_NAME"); v != "" && !set["service-name"] {
		cfg.ServiceName = v
	}
	if v := os.Getenv("KVMESH_REGISTRY"); v != "" && !set["registry"] {
		cfg.Registry = splitCSV(v)
	}
	if v := os.Getenv("KVMESH_LOG_LEVEL"); v != "" && !set["log-level"] {
		cfg.LogLevel = v
	}

	return cfg
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RPCAddr returns the "host:port" string the RPC listener binds to.
func (c *NodeConfig) RPCAddr() string {
	return fmt.Sprintf("%s:%d", c.RPCHost, c.RPCPort)
}

// ListenAddr returns the "host:port" string the gateway's HTTP listener
// binds to.
func (c *GatewayConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.ListenPort)
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks if the NodeConfig contains valid values.
//
// Validation rules:
//   - SelfAddress must be set
//   - RPCPort must be between 1 and 65535
//   - At least one registry endpoint must be specified
//   - CapacityBytes must be positive
//   - MinReplicas must be positive and MaxReplicas >= MinReplicas
//   - LogLevel must be one of: debug, info, warn, error
func (c *NodeConfig) Validate() error {
	if c.SelfAddress == "" {
		return fmt.Errorf("self address must be set")
	}
	if c.RPCPort < 1 || c.RPCPort > 65535 {
		return fmt.Errorf("invalid rpc port: %d", c.RPCPort)
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service name must not be empty")
	}
	if len(c.Registry) == 0 {
		return fmt.Errorf("at least one registry endpoint must be specified")
	}
	if c.CapacityBytes <= 0 {
		return fmt.Errorf("capacity bytes must be positive: %d", c.CapacityBytes)
	}
	if c.MinReplicas < 1 {
		return fmt.Errorf("min replicas must be positive: %d", c.MinReplicas)
	}
	if c.MaxReplicas < c.MinReplicas {
		return fmt.Errorf("max replicas (%d) must be >= min replicas (%d)", c.MaxReplicas, c.MinReplicas)
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	return nil
}

// Validate checks if the GatewayConfig contains valid values.
//
// Validation rules:
//   - ListenPort must be between 1 and 65535
//   - At least one registry endpoint must be specified
//   - LogLevel must be one of: debug, info, warn, error
func (c *GatewayConfig) Validate() error {
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		return fmt.Errorf("invalid listen port: %d", c.ListenPort)
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service name must not be empty")
	}
	if len(c.Registry) == 0 {
		return fmt.Errorf("at least one registry endpoint must be specified")
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	return nil
}
