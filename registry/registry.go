package registry

import (
	"errors"
	"sort"
	"time"
)

// Common errors.
var (
	ErrNotFound      = errors.New("agent not found")
	ErrDuplicate     = errors.New("agent name already registered")
	ErrInvalidName   = errors.New("invalid agent name")
	ErrInvalidStatus = errors.New("invalid agent status")
	ErrClosed        = errors.New("registry closed")
)

// Status represents an agent's operational state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
	StatusOffline Status = "offline"
)

// Valid returns true if the status is one of the three known values.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusWorking, StatusOffline:
		return true
	default:
		return false
	}
}

// Agent is the registration record for a worker agent.
type Agent struct {
	// Name uniquely identifies the agent.
	Name string `json:"name"`

	// Capabilities lists what the agent can do (e.g., "code-review", "testing").
	Capabilities []string `json:"capabilities"`

	// Resources maps resource kind to the agent's declared quota.
	Resources map[string]float64 `json:"resources,omitempty"`

	// Status is the agent's current operational state.
	Status Status `json:"status"`

	// Workload is the fraction of the agent's capacity currently in use.
	// Never negative; may exceed 1.0 under load.
	Workload float64 `json:"workload"`

	// LastHeartbeat is when the agent last signalled liveness.
	LastHeartbeat time.Time `json:"last_heartbeat"`

	// RegisteredAt is when the agent joined.
	RegisteredAt time.Time `json:"registered_at"`
}

// Clone returns a deep copy of the agent record.
func (a *Agent) Clone() *Agent {
	clone := *a
	if a.Capabilities != nil {
		clone.Capabilities = append([]string(nil), a.Capabilities...)
	}
	if a.Resources != nil {
		clone.Resources = make(map[string]float64, len(a.Resources))
		for k, v := range a.Resources {
			clone.Resources[k] = v
		}
	}
	return &clone
}

// HasCapabilities reports whether the agent's capability set is a superset
// of required.
func (a *Agent) HasCapabilities(required []string) bool {
	for _, req := range required {
		found := false
		for _, cap := range a.Capabilities {
			if cap == req {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Filter specifies criteria for listing agents.
type Filter struct {
	// Status filters by operational state. Empty means all.
	Status Status

	// Capability filters to agents with this capability.
	Capability string

	// MaxWorkload filters to agents at or below this workload.
	// Zero means no filter.
	MaxWorkload float64
}

// Matches reports whether the agent satisfies the filter.
func (f *Filter) Matches(a *Agent) bool {
	if f == nil {
		return true
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Capability != "" && !a.HasCapabilities([]string{f.Capability}) {
		return false
	}
	if f.MaxWorkload > 0 && a.Workload > f.MaxWorkload {
		return false
	}
	return true
}

// EventType represents the type of registry event.
type EventType string

const (
	EventAdded   EventType = "added"
	EventUpdated EventType = "updated"
	EventRemoved EventType = "removed"
)

// Event represents a change in the registry. For removals, Agent holds the
// last known state.
type Event struct {
	Type  EventType
	Agent Agent
}

// Registry provides agent registration, lookup, and selection.
type Registry interface {
	// Register adds a new agent with status idle and zero workload.
	// Returns ErrDuplicate if the name is held by a non-offline agent.
	// Re-registering an offline agent replaces the stale record.
	Register(name string, capabilities []string, resources map[string]float64) error

	// Unregister removes an agent. Returns ErrNotFound if unknown.
	Unregister(name string) error

	// Get retrieves an agent by name.
	Get(name string) (*Agent, error)

	// List returns all agents matching the optional filter,
	// sorted by name.
	List(filter *Filter) ([]*Agent, error)

	// FindCapable returns non-offline agents whose capabilities cover
	// required, sorted by workload ascending, ties broken by name.
	FindCapable(required []string) ([]*Agent, error)

	// UpdateStatus sets an agent's status and workload and refreshes its
	// heartbeat.
	UpdateStatus(name string, status Status, workload float64) error

	// Heartbeat refreshes an agent's liveness. An offline agent becomes
	// idle again.
	Heartbeat(name string) error

	// AdjustWorkload adds delta to an agent's workload, floored at zero.
	AdjustWorkload(name string, delta float64) error

	// MarkOffline transitions an agent to offline without removing it.
	MarkOffline(name string) error

	// Watch returns a channel of registry events. The channel is closed
	// when the registry is closed.
	Watch() (<-chan Event, error)

	// Close shuts down the registry.
	Close() error
}

// SortCapable orders agents by workload ascending with name as tiebreaker.
// Exposed so the distributor's selection stays deterministic.
func SortCapable(agents []*Agent) {
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].Workload != agents[j].Workload {
			return agents[i].Workload < agents[j].Workload
		}
		return agents[i].Name < agents[j].Name
	})
}
