// Package config loads hub configuration from TOML.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the full hub configuration.
type Config struct {
	// OfflineThreshold is how long an agent may go without a heartbeat
	// before being marked offline.
	OfflineThreshold time.Duration

	// LivenessInterval is how often the liveness check runs.
	LivenessInterval time.Duration

	// SweepInterval is how often expired resource locks are reclaimed.
	SweepInterval time.Duration

	// CoordinationInterval is how often pending tasks are retried.
	CoordinationInterval time.Duration

	// LowWorkloadThreshold marks agents eligible for resource reclamation.
	LowWorkloadThreshold float64

	// BroadcastRetention bounds the broadcast ring buffer.
	BroadcastRetention int

	// Pools maps resource kind to the global pool limit.
	Pools map[string]float64

	// Snapshot configures optional periodic state persistence.
	Snapshot SnapshotConfig

	// Transport configures the optional WebSocket gateway.
	Transport TransportConfig

	// NATS configures the optional NATS bridge.
	NATS NATSConfig
}

// SnapshotConfig configures periodic state persistence.
type SnapshotConfig struct {
	// Path to the SQLite snapshot database. Empty disables snapshots.
	Path string

	// Interval between snapshots.
	Interval time.Duration
}

// TransportConfig configures the WebSocket executor gateway.
type TransportConfig struct {
	// Addr is the listen address (e.g., ":8700"). Empty disables the gateway.
	Addr string
}

// NATSConfig configures the NATS bridge.
type NATSConfig struct {
	// URL of the NATS server. Empty disables the bridge.
	URL string
}

// tomlConfig is the TOML representation.
type tomlConfig struct {
	Hub struct {
		OfflineThresholdSeconds     int     `toml:"offline_threshold_seconds"`
		LivenessIntervalSeconds     int     `toml:"liveness_interval_seconds"`
		SweepIntervalSeconds        int     `toml:"sweep_interval_seconds"`
		CoordinationIntervalSeconds int     `toml:"coordination_interval_seconds"`
		LowWorkloadThreshold        float64 `toml:"low_workload_threshold"`
		BroadcastRetention          int     `toml:"broadcast_retention"`
	} `toml:"hub"`
	Pools    map[string]float64 `toml:"pools"`
	Snapshot struct {
		Path            string `toml:"path"`
		IntervalSeconds int    `toml:"interval_seconds"`
	} `toml:"snapshot"`
	Transport struct {
		Addr string `toml:"addr"`
	} `toml:"transport"`
	NATS struct {
		URL string `toml:"url"`
	} `toml:"nats"`
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		OfflineThreshold:     60 * time.Second,
		LivenessInterval:     5 * time.Second,
		SweepInterval:        5 * time.Second,
		CoordinationInterval: 10 * time.Second,
		LowWorkloadThreshold: 0.3,
		BroadcastRetention:   256,
		Pools:                map[string]float64{},
		Snapshot: SnapshotConfig{
			Interval: 60 * time.Second,
		},
	}
}

// LoadFile reads configuration from a TOML file, applying defaults for
// anything unset.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	var raw tomlConfig
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}

	if raw.Hub.OfflineThresholdSeconds > 0 {
		cfg.OfflineThreshold = time.Duration(raw.Hub.OfflineThresholdSeconds) * time.Second
	}
	if raw.Hub.LivenessIntervalSeconds > 0 {
		cfg.LivenessInterval = time.Duration(raw.Hub.LivenessIntervalSeconds) * time.Second
	}
	if raw.Hub.SweepIntervalSeconds > 0 {
		cfg.SweepInterval = time.Duration(raw.Hub.SweepIntervalSeconds) * time.Second
	}
	if raw.Hub.CoordinationIntervalSeconds > 0 {
		cfg.CoordinationInterval = time.Duration(raw.Hub.CoordinationIntervalSeconds) * time.Second
	}
	if raw.Hub.LowWorkloadThreshold > 0 {
		cfg.LowWorkloadThreshold = raw.Hub.LowWorkloadThreshold
	}
	if raw.Hub.BroadcastRetention > 0 {
		cfg.BroadcastRetention = raw.Hub.BroadcastRetention
	}
	if len(raw.Pools) > 0 {
		cfg.Pools = raw.Pools
	}
	cfg.Snapshot.Path = raw.Snapshot.Path
	if raw.Snapshot.IntervalSeconds > 0 {
		cfg.Snapshot.Interval = time.Duration(raw.Snapshot.IntervalSeconds) * time.Second
	}
	cfg.Transport.Addr = raw.Transport.Addr
	cfg.NATS.URL = raw.NATS.URL

	return cfg, cfg.Validate()
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.OfflineThreshold <= 0 {
		return fmt.Errorf("offline threshold must be positive")
	}
	if c.LowWorkloadThreshold < 0 || c.LowWorkloadThreshold > 1 {
		return fmt.Errorf("low workload threshold must be in [0,1]")
	}
	if c.BroadcastRetention <= 0 {
		return fmt.Errorf("broadcast retention must be positive")
	}
	for kind, limit := range c.Pools {
		if limit < 0 {
			return fmt.Errorf("pool %q has negative limit", kind)
		}
	}
	return nil
}
