package kv

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Backend represents the storage backend type
type Backend string

const (
	// BackendMemory uses the in-memory store
	BackendMemory Backend = "memory"
	// BackendRedis uses Redis as the backend
	BackendRedis Backend = "redis"
)

// Mode selects the connection strategy of the redis backend
type Mode string

const (
	// ModeSingle uses a pooled connection to one node
	ModeSingle Mode = "single"
	// ModeCluster uses a cluster-aware client seeded with Nodes
	ModeCluster Mode = "cluster"
)

// CommandRecorder receives one call per command issued to the backend.
type CommandRecorder interface {
	RecordCommand(ctx context.Context, name string, duration time.Duration, err error)
}

// Config holds configuration for creating a Store instance
type Config struct {
	// Backend specifies which storage backend to use
	Backend Backend

	// Mode selects cluster or single-node. When empty it is inferred:
	// Nodes set means cluster, otherwise Node means single.
	Mode Mode

	// Nodes are the cluster seed addresses (redis://host:port or host:port)
	Nodes []string

	// Node is the single-node address.
	// Format: redis://localhost:6379/0 or redis://:password@localhost:6379/1
	Node string

	// Password overrides any password carried by the node URLs
	Password string

	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// StartupProbeTimeout controls how long to wait for Redis at startup
	// Default: 5 seconds
	StartupProbeTimeout time.Duration

	// JanitorInterval controls how often the in-memory store cleans up expired keys
	// Default: 30 seconds
	JanitorInterval time.Duration

	// Logger is used by backends for debug output. If nil, no logging occurs.
	Logger *zap.SugaredLogger

	// Recorder, if set, is told about every command the redis backend issues
	Recorder CommandRecorder
}

// ResolveMode returns the configured mode or the one implied by the addresses.
func (c Config) ResolveMode() (Mode, error) {
	switch c.Mode {
	case ModeSingle, ModeCluster:
		return c.Mode, nil
	case "":
	default:
		return "", fmt.Errorf("unsupported mode: %s (supported: %s, %s)", c.Mode, ModeSingle, ModeCluster)
	}
	if len(c.Nodes) > 0 {
		return ModeCluster, nil
	}
	if c.Node != "" {
		return ModeSingle, nil
	}
	return "", fmt.Errorf("either nodes (cluster) or node (single) must be configured")
}

// StoreFactory defines a function that creates a Store instance
type StoreFactory func(cfg Config) (Store, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[Backend]StoreFactory)
)

// RegisterBackend registers a store factory for a given backend
func RegisterBackend(backend Backend, factory StoreFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[backend] = factory
}

// NewStoreFromConfig creates a new Store instance based on the provided configuration
func NewStoreFromConfig(cfg Config) (Store, error) {
	if cfg.JanitorInterval == 0 {
		cfg.JanitorInterval = 30 * time.Second
	}
	if cfg.StartupProbeTimeout == 0 {
		cfg.StartupProbeTimeout = 5 * time.Second
	}

	switch cfg.Backend {
	case BackendMemory, BackendRedis:
	default:
		return nil, fmt.Errorf("unsupported backend: %s (supported: %s, %s)",
			cfg.Backend, BackendMemory, BackendRedis)
	}

	factoriesMu.RLock()
	factory, exists := factories[cfg.Backend]
	factoriesMu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%s backend not registered", cfg.Backend)
	}
	return factory(cfg)
}

// Open creates the configured Store and wraps it in a Client.
func Open(cfg Config) (*Client, error) {
	store, err := NewStoreFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(store, cfg.Logger), nil
}

// NopIfNil returns logger, or a no-op logger when it is nil.
func NopIfNil(logger *zap.SugaredLogger) *zap.SugaredLogger {
	if logger == nil {
		return zap.NewNop().Sugar()
	}
	return logger
}
