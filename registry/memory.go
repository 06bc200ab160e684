package registry

import (
	"sort"
	"sync"
	"time"
)

// MemoryRegistry is the in-memory implementation of Registry used by the hub.
type MemoryRegistry struct {
	mu       sync.RWMutex
	agents   map[string]*Agent
	watchers []chan Event
	closed   bool
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		agents: make(map[string]*Agent),
	}
}

// Register adds a new agent with status idle and zero workload.
func (r *MemoryRegistry) Register(name string, capabilities []string, resources map[string]float64) error {
	if name == "" {
		return ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	if existing, ok := r.agents[name]; ok && existing.Status != StatusOffline {
		return ErrDuplicate
	}

	now := time.Now()
	agent := &Agent{
		Name:          name,
		Capabilities:  append([]string(nil), capabilities...),
		Resources:     make(map[string]float64, len(resources)),
		Status:        StatusIdle,
		Workload:      0,
		LastHeartbeat: now,
		RegisteredAt:  now,
	}
	for k, v := range resources {
		agent.Resources[k] = v
	}

	_, replaced := r.agents[name]
	r.agents[name] = agent

	eventType := EventAdded
	if replaced {
		eventType = EventUpdated
	}
	r.notifyWatchers(Event{Type: eventType, Agent: *agent.Clone()})

	return nil
}

// Unregister removes an agent.
func (r *MemoryRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	agent, ok := r.agents[name]
	if !ok {
		return ErrNotFound
	}

	delete(r.agents, name)
	r.notifyWatchers(Event{Type: EventRemoved, Agent: *agent.Clone()})

	return nil
}

// Get retrieves an agent by name.
func (r *MemoryRegistry) Get(name string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}

	agent, ok := r.agents[name]
	if !ok {
		return nil, ErrNotFound
	}
	return agent.Clone(), nil
}

// List returns all agents matching the filter, sorted by name.
func (r *MemoryRegistry) List(filter *Filter) ([]*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}

	var result []*Agent
	for _, agent := range r.agents {
		if filter.Matches(agent) {
			result = append(result, agent.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result, nil
}

// FindCapable returns non-offline agents covering the required capabilities,
// least loaded first.
func (r *MemoryRegistry) FindCapable(required []string) ([]*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}

	var result []*Agent
	for _, agent := range r.agents {
		if agent.Status == StatusOffline {
			continue
		}
		if agent.HasCapabilities(required) {
			result = append(result, agent.Clone())
		}
	}

	SortCapable(result)
	return result, nil
}

// UpdateStatus sets status and workload and refreshes the heartbeat.
func (r *MemoryRegistry) UpdateStatus(name string, status Status, workload float64) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	agent, ok := r.agents[name]
	if !ok {
		return ErrNotFound
	}

	agent.Status = status
	if workload >= 0 {
		agent.Workload = workload
	}
	agent.LastHeartbeat = time.Now()
	r.notifyWatchers(Event{Type: EventUpdated, Agent: *agent.Clone()})

	return nil
}

// Heartbeat refreshes liveness. An offline agent becomes idle again.
func (r *MemoryRegistry) Heartbeat(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	agent, ok := r.agents[name]
	if !ok {
		return ErrNotFound
	}

	agent.LastHeartbeat = time.Now()
	if agent.Status == StatusOffline {
		agent.Status = StatusIdle
	}
	return nil
}

// AdjustWorkload adds delta to the agent's workload, floored at zero.
func (r *MemoryRegistry) AdjustWorkload(name string, delta float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	agent, ok := r.agents[name]
	if !ok {
		return ErrNotFound
	}

	agent.Workload += delta
	if agent.Workload < 0 {
		agent.Workload = 0
	}
	return nil
}

// MarkOffline transitions an agent to offline without removing it.
func (r *MemoryRegistry) MarkOffline(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	agent, ok := r.agents[name]
	if !ok {
		return ErrNotFound
	}

	agent.Status = StatusOffline
	r.notifyWatchers(Event{Type: EventUpdated, Agent: *agent.Clone()})
	return nil
}

// Watch returns a channel of registry events.
func (r *MemoryRegistry) Watch() (<-chan Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	ch := make(chan Event, 64)
	r.watchers = append(r.watchers, ch)
	return ch, nil
}

// Close shuts down the registry.
func (r *MemoryRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	for _, ch := range r.watchers {
		close(ch)
	}
	r.watchers = nil
	return nil
}

// notifyWatchers sends an event to all watchers. Must be called with the
// lock held.
func (r *MemoryRegistry) notifyWatchers(event Event) {
	for _, ch := range r.watchers {
		select {
		case ch <- event:
		default:
			// Channel full, skip
		}
	}
}
