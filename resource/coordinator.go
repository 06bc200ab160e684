package resource

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmops/coordhub/logging"
	"github.com/swarmops/coordhub/registry"
)

// Common errors.
var (
	ErrUnknownLock   = errors.New("lock not found")
	ErrUnknownKind   = errors.New("unknown resource kind")
	ErrUnknownAgent  = errors.New("agent not registered")
	ErrAgentOffline  = errors.New("agent is offline")
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrClosed        = errors.New("coordinator closed")
)

// CapacityError reports a request that could not be satisfied even after
// negotiation.
type CapacityError struct {
	Kind      string
	Requested float64
	Shortfall float64
}

func (e *CapacityError) Error() string {
	return "insufficient capacity for " + e.Kind
}

// Lock is a time-bounded claim on an amount of one resource kind.
type Lock struct {
	ID        string    `json:"id"`
	Agent     string    `json:"agent"`
	Kind      string    `json:"kind"`
	Amount    float64   `json:"amount"`
	GrantedAt time.Time `json:"granted_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the lock is past its expiry at the given instant.
func (l *Lock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// Config holds coordinator configuration.
type Config struct {
	// Limits maps resource kind to the global pool limit.
	Limits map[string]float64

	// LowWorkloadThreshold marks busy-but-lightly-loaded agents as
	// reclamation candidates. Default: 0.3
	LowWorkloadThreshold float64

	// LimitProbe, if set, is called on each sweep and may return updated
	// limits for elastic kinds (e.g., host memory). Kinds absent from the
	// returned map keep their configured limit.
	LimitProbe func() map[string]float64
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Limits:               map[string]float64{},
		LowWorkloadThreshold: 0.3,
	}
}

// Coordinator grants, negotiates, and reclaims resource allocations.
type Coordinator struct {
	registry registry.Registry
	log      *logging.Logger

	mu        sync.Mutex
	limits    map[string]float64
	locks     map[string]*Lock
	threshold float64
	probe     func() map[string]float64
	closed    bool

	// OnReclaim is invoked after negotiation takes capacity from a holder.
	OnReclaim func(agent, kind string, amount float64)

	// OnConflict is invoked whenever a request triggers negotiation.
	OnConflict func()
}

// NewCoordinator creates a coordinator over the given registry.
func NewCoordinator(cfg Config, reg registry.Registry, log *logging.Logger) *Coordinator {
	if cfg.LowWorkloadThreshold <= 0 {
		cfg.LowWorkloadThreshold = DefaultConfig().LowWorkloadThreshold
	}
	if log == nil {
		log = logging.New()
	}

	limits := make(map[string]float64, len(cfg.Limits))
	for k, v := range cfg.Limits {
		limits[k] = v
	}

	return &Coordinator{
		registry:  reg,
		log:       log.WithComponent("resource"),
		limits:    limits,
		locks:     make(map[string]*Lock),
		threshold: cfg.LowWorkloadThreshold,
		probe:     cfg.LimitProbe,
	}
}

// SetLimit sets or updates the pool limit for a kind.
func (c *Coordinator) SetLimit(kind string, limit float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limits[kind] = limit
}

// Request grants a lock for amount of kind lasting ttl, negotiating
// reclamation from low-priority holders if free capacity is insufficient.
// On failure it returns a *CapacityError naming the unmet shortfall.
func (c *Coordinator) Request(agent, kind string, amount float64, ttl time.Duration) (*Lock, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	a, err := c.registry.Get(agent)
	if err != nil {
		return nil, ErrUnknownAgent
	}
	// Offline agents must hold zero locks, so granting one here would
	// leave an allocation the liveness sweep never reclaims.
	if a.Status == registry.StatusOffline {
		return nil, ErrAgentOffline
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	limit, ok := c.limits[kind]
	if !ok {
		return nil, ErrUnknownKind
	}

	available := limit - c.allocatedLocked(kind)
	if amount > available {
		var reclaimed float64
		reclaimed, available = c.negotiateLocked(agent, kind, amount, available)
		if amount > available {
			shortfall := amount - available
			c.log.Warn("negotiation failed", map[string]interface{}{
				"agent":     agent,
				"kind":      kind,
				"requested": amount,
				"shortfall": shortfall,
			})
			return nil, &CapacityError{Kind: kind, Requested: amount, Shortfall: shortfall}
		}
		c.log.Info("negotiation reclaimed capacity", map[string]interface{}{
			"agent":     agent,
			"kind":      kind,
			"reclaimed": reclaimed,
		})
	}

	now := time.Now()
	lock := &Lock{
		ID:        uuid.NewString(),
		Agent:     agent,
		Kind:      kind,
		Amount:    amount,
		GrantedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	c.locks[lock.ID] = lock
	return cloneLock(lock), nil
}

// negotiateLocked plans reclamation from low-priority holders and executes
// the plan only if it fully covers the shortfall, so a failed negotiation
// reclaims nothing. Returns the amount reclaimed and the new availability.
// Must be called with the lock held.
func (c *Coordinator) negotiateLocked(requester, kind string, amount, available float64) (float64, float64) {
	if c.OnConflict != nil {
		c.OnConflict()
	}

	shortfall := amount - available

	// Total allocation of this kind per candidate holder.
	totals := make(map[string]float64)
	for _, lock := range c.locks {
		if lock.Kind == kind && lock.Agent != requester {
			totals[lock.Agent] += lock.Amount
		}
	}

	// Plan: up to half of each low-priority holder's allocation.
	plan := make(map[string]float64)
	remaining := shortfall
	for holder, total := range totals {
		if remaining <= 0 {
			break
		}
		agent, err := c.registry.Get(holder)
		if err != nil {
			continue
		}
		if agent.Status != registry.StatusIdle && agent.Workload >= c.threshold {
			continue
		}
		take := total / 2
		if take > remaining {
			take = remaining
		}
		plan[holder] = take
		remaining -= take
	}

	if remaining > 1e-9 {
		return 0, available
	}

	var reclaimed float64
	for holder, take := range plan {
		got := c.trimHolderLocked(holder, kind, take)
		reclaimed += got
		if c.OnReclaim != nil {
			c.OnReclaim(holder, kind, got)
		}
	}
	return reclaimed, available + reclaimed
}

// trimHolderLocked removes target amount of kind from a holder's locks,
// deleting locks trimmed to zero. Returns the amount actually removed.
// Must be called with the lock held.
func (c *Coordinator) trimHolderLocked(holder, kind string, target float64) float64 {
	var removed float64
	for id, lock := range c.locks {
		if removed >= target {
			break
		}
		if lock.Agent != holder || lock.Kind != kind {
			continue
		}
		take := target - removed
		if take >= lock.Amount {
			removed += lock.Amount
			delete(c.locks, id)
		} else {
			lock.Amount -= take
			removed += take
		}
	}
	return removed
}

// Release removes a lock immediately. Returns ErrUnknownLock if the id has
// already been released or expired.
func (c *Coordinator) Release(lockID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if _, ok := c.locks[lockID]; !ok {
		return ErrUnknownLock
	}
	delete(c.locks, lockID)
	return nil
}

// ReleaseAgent drops every lock held by an agent, returning the released
// locks. Used by the liveness monitor and unregistration.
func (c *Coordinator) ReleaseAgent(agent string) []Lock {
	c.mu.Lock()
	defer c.mu.Unlock()

	var released []Lock
	for id, lock := range c.locks {
		if lock.Agent == agent {
			released = append(released, *lock)
			delete(c.locks, id)
		}
	}
	return released
}

// Sweep releases locks past their expiry and refreshes elastic pool limits
// through the probe. Returns the expired locks.
func (c *Coordinator) Sweep(now time.Time) []Lock {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []Lock
	for id, lock := range c.locks {
		if lock.Expired(now) {
			expired = append(expired, *lock)
			delete(c.locks, id)
		}
	}

	if c.probe != nil {
		for kind, limit := range c.probe() {
			c.limits[kind] = limit
		}
	}

	if len(expired) > 0 {
		c.log.Debug("sweep released expired locks", map[string]interface{}{
			"count": len(expired),
		})
	}
	return expired
}

// Allocated returns the sum of active lock amounts for a kind.
func (c *Coordinator) Allocated(kind string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocatedLocked(kind)
}

// allocatedLocked must be called with the lock held.
func (c *Coordinator) allocatedLocked(kind string) float64 {
	var total float64
	for _, lock := range c.locks {
		if lock.Kind == kind {
			total += lock.Amount
		}
	}
	return total
}

// Available returns the free capacity for a kind.
func (c *Coordinator) Available(kind string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limits[kind] - c.allocatedLocked(kind)
}

// AgentAllocated returns the sum of an agent's active lock amounts for a kind.
func (c *Coordinator) AgentAllocated(agent, kind string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total float64
	for _, lock := range c.locks {
		if lock.Agent == agent && lock.Kind == kind {
			total += lock.Amount
		}
	}
	return total
}

// Locks returns a copy of all active locks.
func (c *Coordinator) Locks() []Lock {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]Lock, 0, len(c.locks))
	for _, lock := range c.locks {
		result = append(result, *lock)
	}
	return result
}

// Utilization returns allocated/limit per kind. Kinds with a zero limit
// report zero.
func (c *Coordinator) Utilization() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make(map[string]float64, len(c.limits))
	for kind, limit := range c.limits {
		if limit <= 0 {
			result[kind] = 0
			continue
		}
		result[kind] = c.allocatedLocked(kind) / limit
	}
	return result
}

// Close shuts down the coordinator.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.locks = make(map[string]*Lock)
	return nil
}

func cloneLock(l *Lock) *Lock {
	clone := *l
	return &clone
}
