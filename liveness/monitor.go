// Package liveness detects dead agents by watching heartbeat age.
//
// The monitor periodically compares each non-offline agent's last heartbeat
// against the offline threshold. On breach the agent is marked offline, all
// of its resource locks are released as a batch, and its incomplete task
// assignments return to pending. The agent record itself is never deleted;
// a returning agent must re-register or heartbeat before it is assignable
// again.
package liveness

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/swarmops/coordhub/logging"
	"github.com/swarmops/coordhub/registry"
	"github.com/swarmops/coordhub/resource"
)

// Common errors.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Reclaimer releases an agent's resource locks in one batch.
// Satisfied by *resource.Coordinator.
type Reclaimer interface {
	ReleaseAgent(agent string) []resource.Lock
}

// Requeuer returns an agent's incomplete assignments to the pending pool.
// Satisfied by *distribute.Distributor.
type Requeuer interface {
	RequeueAgent(agent string) []string
}

// Config configures the liveness monitor.
type Config struct {
	// Registry whose agents are watched.
	Registry registry.Registry

	// Reclaimer for forced lock release. Optional.
	Reclaimer Reclaimer

	// Requeuer for orphaned assignments. Optional.
	Requeuer Requeuer

	// OfflineThreshold is the maximum heartbeat age before an agent is
	// marked offline. Default: 60 seconds.
	OfflineThreshold time.Duration

	// CheckInterval between liveness sweeps. Default: 5 seconds.
	CheckInterval time.Duration
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Registry == nil {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		OfflineThreshold: 60 * time.Second,
		CheckInterval:    5 * time.Second,
	}
}

// Monitor marks silent agents offline and reclaims what they held.
type Monitor struct {
	registry  registry.Registry
	reclaimer Reclaimer
	requeuer  Requeuer
	threshold time.Duration
	interval  time.Duration
	log       *logging.Logger

	mu         sync.Mutex
	offlineCBs []func(agent string)
}

// NewMonitor creates a liveness monitor.
func NewMonitor(cfg Config, log *logging.Logger) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.OfflineThreshold <= 0 {
		cfg.OfflineThreshold = DefaultConfig().OfflineThreshold
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultConfig().CheckInterval
	}
	if log == nil {
		log = logging.New()
	}

	return &Monitor{
		registry:  cfg.Registry,
		reclaimer: cfg.Reclaimer,
		requeuer:  cfg.Requeuer,
		threshold: cfg.OfflineThreshold,
		interval:  cfg.CheckInterval,
		log:       log.WithComponent("liveness"),
	}, nil
}

// OnOffline registers a callback invoked with each agent marked offline.
func (m *Monitor) OnOffline(callback func(agent string)) {
	m.mu.Lock()
	m.offlineCBs = append(m.offlineCBs, callback)
	m.mu.Unlock()
}

// Run checks liveness on every tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckOnce(time.Now())
		}
	}
}

// CheckOnce scans all agents once against the offline threshold, returning
// the agents marked offline. Exposed for tests and the hub's tick loop.
func (m *Monitor) CheckOnce(now time.Time) []string {
	agents, err := m.registry.List(nil)
	if err != nil {
		m.log.Error("liveness scan failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}

	var marked []string
	for _, agent := range agents {
		if agent.Status == registry.StatusOffline {
			continue
		}
		if now.Sub(agent.LastHeartbeat) <= m.threshold {
			continue
		}

		if err := m.registry.MarkOffline(agent.Name); err != nil {
			continue
		}
		marked = append(marked, agent.Name)

		var lockCount int
		if m.reclaimer != nil {
			lockCount = len(m.reclaimer.ReleaseAgent(agent.Name))
		}
		var requeued int
		if m.requeuer != nil {
			requeued = len(m.requeuer.RequeueAgent(agent.Name))
		}

		m.log.Warn("agent marked offline", map[string]interface{}{
			"agent":          agent.Name,
			"heartbeat_age":  now.Sub(agent.LastHeartbeat).String(),
			"locks_released": lockCount,
			"tasks_requeued": requeued,
		})
	}

	if len(marked) > 0 {
		m.mu.Lock()
		callbacks := make([]func(string), len(m.offlineCBs))
		copy(callbacks, m.offlineCBs)
		m.mu.Unlock()

		for _, agent := range marked {
			for _, cb := range callbacks {
				cb(agent)
			}
		}
	}
	return marked
}
