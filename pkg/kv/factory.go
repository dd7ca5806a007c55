package kv

import (
	"context"
	"fmt"
	"time"
)

// Backend represents the storage backend type
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendRedis    Backend = "redis"
	BackendPostgres Backend = "postgres"
)

// Config holds configuration for creating a Store instance
type Config struct {
	Backend Backend

	// RedisURL is required when Backend is "redis".
	// Format: redis://localhost:6379/0 or redis://:password@localhost:6379/1
	RedisURL string

	// PostgresDSN is required when Backend is "postgres".
	PostgresDSN string

	// JanitorInterval controls how often the in-memory store cleans up expired keys.
	// Default: 30 seconds
	JanitorInterval time.Duration

	// FailoverEnabled wraps remote backends with an in-memory fallback.
	FailoverEnabled bool

	// ProbeInterval controls how often the primary is probed after failover.
	// Default: 5 seconds
	ProbeInterval time.Duration

	// StartupProbeTimeout bounds the first health check of a remote backend.
	// Default: 1 second
	StartupProbeTimeout time.Duration

	// Logger is used for failover events. If nil, nothing is logged.
	Logger LogFunc
}

// StoreFactory defines a function that creates a Store instance
type StoreFactory func(cfg Config) (Store, error)

var factories = make(map[Backend]StoreFactory)

// RegisterBackend registers a store factory for a given backend
func RegisterBackend(backend Backend, factory StoreFactory) {
	factories[backend] = factory
}

// NewStoreFromConfig creates a new Store instance based on the provided configuration
func NewStoreFromConfig(cfg Config) (Store, error) {
	if cfg.JanitorInterval == 0 {
		cfg.JanitorInterval = 30 * time.Second
	}
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = 5 * time.Second
	}
	if cfg.StartupProbeTimeout == 0 {
		cfg.StartupProbeTimeout = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = func(string, ...any) {}
	}

	switch cfg.Backend {
	case BackendMemory, "":
		return newBackend(BackendMemory, cfg)
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis URL is required when backend is 'redis'")
		}
		return newRemoteWithFailover(BackendRedis, cfg)
	case BackendPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres DSN is required when backend is 'postgres'")
		}
		return newRemoteWithFailover(BackendPostgres, cfg)
	default:
		return nil, fmt.Errorf("unsupported backend: %s (supported: %s, %s, %s)",
			cfg.Backend, BackendMemory, BackendRedis, BackendPostgres)
	}
}

func newBackend(backend Backend, cfg Config) (Store, error) {
	factory, ok := factories[backend]
	if !ok {
		return nil, fmt.Errorf("%s backend not registered", backend)
	}
	return factory(cfg)
}

func newRemoteWithFailover(backend Backend, cfg Config) (Store, error) {
	primary, err := newBackend(backend, cfg)
	if err != nil {
		if !cfg.FailoverEnabled {
			return nil, err
		}
		cfg.Logger("kv backend unavailable at startup; using in-memory store",
			"backend", string(backend), "error", err.Error())
		return newBackend(BackendMemory, cfg)
	}
	if !cfg.FailoverEnabled {
		return primary, nil
	}

	fallback, err := newBackend(BackendMemory, cfg)
	if err != nil {
		primary.Close()
		return nil, fmt.Errorf("failed to create memory store for failover: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StartupProbeTimeout)
	defer cancel()
	if err := primary.Ping(ctx); err != nil {
		cfg.Logger("kv backend unhealthy at startup; using in-memory store (will retry in background)",
			"backend", string(backend), "error", err.Error())
		return NewFailoverStoreWithFallbackActive(primary, fallback, cfg.ProbeInterval, cfg.Logger), nil
	}

	cfg.Logger("kv backend healthy at startup; using in-memory failover", "backend", string(backend))
	return NewFailoverStore(primary, fallback, cfg.ProbeInterval, cfg.Logger), nil
}
