package resource

import (
	"errors"
	"testing"
	"time"

	"github.com/swarmops/coordhub/registry"
)

func newTestCoordinator(t *testing.T, limits map[string]float64) (*Coordinator, *registry.MemoryRegistry) {
	t.Helper()
	reg := registry.NewMemoryRegistry()
	t.Cleanup(func() { reg.Close() })

	c := NewCoordinator(Config{Limits: limits}, reg, nil)
	t.Cleanup(func() { c.Close() })
	return c, reg
}

func TestRequestGrant(t *testing.T) {
	c, reg := newTestCoordinator(t, map[string]float64{"cpu": 4})
	reg.Register("a", nil, map[string]float64{"cpu": 4})

	lock, err := c.Request("a", "cpu", 2, time.Minute)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if lock.ID == "" {
		t.Error("lock should have an id")
	}
	if lock.Amount != 2 {
		t.Errorf("Amount = %v, want 2", lock.Amount)
	}
	if c.Allocated("cpu") != 2 {
		t.Errorf("Allocated = %v, want 2", c.Allocated("cpu"))
	}
	if c.Available("cpu") != 2 {
		t.Errorf("Available = %v, want 2", c.Available("cpu"))
	}
}

func TestRequestValidation(t *testing.T) {
	c, reg := newTestCoordinator(t, map[string]float64{"cpu": 4})
	reg.Register("a", nil, nil)

	if _, err := c.Request("ghost", "cpu", 1, time.Minute); err != ErrUnknownAgent {
		t.Errorf("unknown agent: %v, want ErrUnknownAgent", err)
	}
	if _, err := c.Request("a", "gpu", 1, time.Minute); err != ErrUnknownKind {
		t.Errorf("unknown kind: %v, want ErrUnknownKind", err)
	}
	if _, err := c.Request("a", "cpu", -1, time.Minute); err != ErrInvalidAmount {
		t.Errorf("negative amount: %v, want ErrInvalidAmount", err)
	}
}

func TestRequestRejectsOfflineAgent(t *testing.T) {
	c, reg := newTestCoordinator(t, map[string]float64{"cpu": 4})
	reg.Register("a", nil, map[string]float64{"cpu": 4})
	if err := reg.MarkOffline("a"); err != nil {
		t.Fatalf("MarkOffline: %v", err)
	}

	if _, err := c.Request("a", "cpu", 2, time.Minute); !errors.Is(err, ErrAgentOffline) {
		t.Fatalf("Request from offline agent: %v, want ErrAgentOffline", err)
	}
	if got := c.AgentAllocated("a", "cpu"); got != 0 {
		t.Errorf("AgentAllocated = %v, want 0", got)
	}
}

// Scenario: A holds cpu=2 of a 3-unit pool and is idle. B requests cpu=2.
// Negotiation reclaims 1 (half of A's allocation), B is granted, and A's
// allocation drops to 1.
func TestNegotiationReclaimsFromIdleHolder(t *testing.T) {
	c, reg := newTestCoordinator(t, map[string]float64{"cpu": 3})
	reg.Register("a", nil, map[string]float64{"cpu": 2})
	reg.Register("b", nil, map[string]float64{"cpu": 2})

	var reclaimedFrom string
	var reclaimedAmount float64
	conflicts := 0
	c.OnReclaim = func(agent, kind string, amount float64) {
		reclaimedFrom = agent
		reclaimedAmount = amount
	}
	c.OnConflict = func() { conflicts++ }

	if _, err := c.Request("a", "cpu", 2, time.Minute); err != nil {
		t.Fatalf("first request: %v", err)
	}

	lock, err := c.Request("b", "cpu", 2, time.Minute)
	if err != nil {
		t.Fatalf("negotiated request: %v", err)
	}
	if lock.Amount != 2 {
		t.Errorf("granted = %v, want 2", lock.Amount)
	}
	if reclaimedFrom != "a" || reclaimedAmount != 1 {
		t.Errorf("reclaimed %v from %q, want 1 from a", reclaimedAmount, reclaimedFrom)
	}
	if conflicts != 1 {
		t.Errorf("conflicts = %d, want 1", conflicts)
	}
	if got := c.AgentAllocated("a", "cpu"); got != 1 {
		t.Errorf("a's allocation = %v, want 1", got)
	}
	// Capacity invariant holds after negotiation.
	if c.Allocated("cpu") > 3 {
		t.Errorf("Allocated = %v exceeds limit 3", c.Allocated("cpu"))
	}
}

func TestNegotiationSkipsBusyHolders(t *testing.T) {
	c, reg := newTestCoordinator(t, map[string]float64{"cpu": 3})
	reg.Register("a", nil, nil)
	reg.Register("b", nil, nil)
	reg.UpdateStatus("a", registry.StatusWorking, 0.9)

	c.Request("a", "cpu", 2, time.Minute)

	_, err := c.Request("b", "cpu", 2, time.Minute)
	var capErr *CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityError, got %v", err)
	}
	if capErr.Shortfall != 1 {
		t.Errorf("Shortfall = %v, want 1", capErr.Shortfall)
	}
	// Failed negotiation reclaims nothing.
	if got := c.AgentAllocated("a", "cpu"); got != 2 {
		t.Errorf("a's allocation = %v, want untouched 2", got)
	}
}

func TestNegotiationFailureGrantsNothing(t *testing.T) {
	c, reg := newTestCoordinator(t, map[string]float64{"cpu": 2})
	reg.Register("a", nil, nil)
	reg.Register("b", nil, nil)

	c.Request("a", "cpu", 2, time.Minute)

	// Half of a's 2 units is 1, not enough for b's request of 2.
	_, err := c.Request("b", "cpu", 2, time.Minute)
	var capErr *CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityError, got %v", err)
	}
	if got := c.AgentAllocated("a", "cpu"); got != 2 {
		t.Errorf("failed negotiation must not reclaim; a has %v, want 2", got)
	}
	if c.Allocated("cpu") != 2 {
		t.Errorf("Allocated = %v, want 2", c.Allocated("cpu"))
	}
}

func TestRelease(t *testing.T) {
	c, reg := newTestCoordinator(t, map[string]float64{"cpu": 4})
	reg.Register("a", nil, nil)

	lock, _ := c.Request("a", "cpu", 2, time.Minute)

	if err := c.Release(lock.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if c.Allocated("cpu") != 0 {
		t.Errorf("Allocated = %v after release, want 0", c.Allocated("cpu"))
	}
	if err := c.Release(lock.ID); err != ErrUnknownLock {
		t.Errorf("double release: %v, want ErrUnknownLock", err)
	}
}

func TestReleaseAgent(t *testing.T) {
	c, reg := newTestCoordinator(t, map[string]float64{"cpu": 4, "memory": 8})
	reg.Register("a", nil, nil)
	reg.Register("b", nil, nil)

	c.Request("a", "cpu", 1, time.Minute)
	c.Request("a", "memory", 2, time.Minute)
	c.Request("b", "cpu", 1, time.Minute)

	released := c.ReleaseAgent("a")
	if len(released) != 2 {
		t.Errorf("released %d locks, want 2", len(released))
	}
	if c.Allocated("cpu") != 1 {
		t.Errorf("cpu allocated = %v, want 1 (b's lock survives)", c.Allocated("cpu"))
	}
	if c.Allocated("memory") != 0 {
		t.Errorf("memory allocated = %v, want 0", c.Allocated("memory"))
	}
}

func TestSweepExpiry(t *testing.T) {
	c, reg := newTestCoordinator(t, map[string]float64{"cpu": 4})
	reg.Register("a", nil, nil)

	c.Request("a", "cpu", 1, 10*time.Millisecond)
	c.Request("a", "cpu", 1, time.Hour)

	expired := c.Sweep(time.Now().Add(time.Second))
	if len(expired) != 1 {
		t.Fatalf("expired %d locks, want 1", len(expired))
	}
	if c.Allocated("cpu") != 1 {
		t.Errorf("Allocated = %v after sweep, want 1", c.Allocated("cpu"))
	}
}

func TestSweepProbeRefreshesLimits(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	defer reg.Close()
	reg.Register("a", nil, nil)

	c := NewCoordinator(Config{
		Limits: map[string]float64{"memory": 4},
		LimitProbe: func() map[string]float64 {
			return map[string]float64{"memory": 16}
		},
	}, reg, nil)
	defer c.Close()

	c.Sweep(time.Now())

	if c.Available("memory") != 16 {
		t.Errorf("Available = %v after probe, want 16", c.Available("memory"))
	}
}

func TestUtilization(t *testing.T) {
	c, reg := newTestCoordinator(t, map[string]float64{"cpu": 4})
	reg.Register("a", nil, nil)

	c.Request("a", "cpu", 1, time.Minute)

	util := c.Utilization()
	if util["cpu"] != 0.25 {
		t.Errorf("cpu utilization = %v, want 0.25", util["cpu"])
	}
}
