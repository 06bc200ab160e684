package hub

import (
	"encoding/json"
	"time"

	"github.com/swarmops/coordhub/bus"
	"github.com/swarmops/coordhub/distribute"
	"github.com/swarmops/coordhub/registry"
	"github.com/swarmops/coordhub/resource"
	"github.com/swarmops/coordhub/telemetry"
)

// Register adds an agent to the pool and announces it with a discovery
// broadcast. A name held by a non-offline agent is rejected; an offline
// agent may re-register and comes back idle.
func (h *Hub) Register(name string, capabilities []string, resources map[string]float64) error {
	if err := h.registry.Register(name, capabilities, resources); err != nil {
		return err
	}

	payload, err := bus.EncodePayload(bus.RosterPayload{
		Agents: []bus.RosterEntry{{
			Name:         name,
			Capabilities: capabilities,
			Status:       string(registry.StatusIdle),
		}},
	})
	if err == nil {
		_, _ = h.SendMessage(distribute.HubSender, bus.Broadcast, bus.TypeDiscovery, payload, bus.PriorityLow)
	}

	h.log.Info("agent registered", map[string]interface{}{
		"agent": name, "capabilities": len(capabilities),
	})
	return nil
}

// Unregister removes an agent, releasing its locks, requeueing its
// assigned tasks, and dropping its message queue.
func (h *Hub) Unregister(name string) error {
	released := h.resources.ReleaseAgent(name)
	requeued := h.tasks.RequeueAgent(name)
	h.tasks.RemoveDependencies(name)
	h.bus.DropQueue(name)

	if err := h.registry.Unregister(name); err != nil {
		return err
	}

	h.log.Info("agent unregistered", map[string]interface{}{
		"agent": name, "locks_released": len(released), "tasks_requeued": len(requeued),
	})
	return nil
}

// Heartbeat refreshes an agent's liveness. An offline agent is revived
// to idle.
func (h *Hub) Heartbeat(name string) error {
	return h.registry.Heartbeat(name)
}

// UpdateStatus records an agent's self-reported status and workload.
func (h *Hub) UpdateStatus(name string, status registry.Status, workload float64) error {
	return h.registry.UpdateStatus(name, status, workload)
}

// Agents lists registered agents matching the filter. A nil filter
// returns everything, offline agents included.
func (h *Hub) Agents(filter *registry.Filter) ([]*registry.Agent, error) {
	return h.registry.List(filter)
}

// SubmitTask distributes a task to the least-loaded capable agent.
func (h *Hub) SubmitTask(spec distribute.TaskSpec) (*distribute.Assignment, error) {
	assignment, err := h.tasks.Submit(spec)
	h.metrics.RecordCoordination(err == nil)
	h.metrics.SetActiveTasks(h.tasks.ActiveCount())
	return assignment, err
}

// Task returns a task record by id.
func (h *Hub) Task(taskID string) (*distribute.Task, error) {
	return h.tasks.Get(taskID)
}

// CompleteTask records a finished task, freeing the assignee's workload.
// Agents normally report completion with a result message instead.
func (h *Hub) CompleteTask(taskID string) error {
	if err := h.tasks.RecordResult(taskID); err != nil {
		return err
	}
	h.metrics.SetActiveTasks(h.tasks.ActiveCount())
	return nil
}

// DependOn declares an agent ordering constraint for coordinated work.
func (h *Hub) DependOn(dependent, dependency string) {
	h.tasks.DependOn(dependent, dependency)
}

// ExecutionOrder returns a dependency-respecting agent order plus any
// agents stuck in a cycle.
func (h *Hub) ExecutionOrder() (order []string, stuck []string) {
	return h.tasks.ExecutionOrder()
}

// SendMessage routes a message through the bus, mirroring it to NATS
// when a bridge is attached.
func (h *Hub) SendMessage(from, to string, msgType bus.MessageType, payload json.RawMessage, priority int) (string, error) {
	id, err := h.bus.Send(from, to, msgType, payload, priority)
	if err != nil {
		return "", err
	}

	if h.bridge != nil && to != bus.Broadcast {
		msg := &bus.Message{
			ID: id, From: from, To: to, Type: msgType,
			Payload: payload, Priority: priority, CreatedAt: time.Now(),
		}
		if err := h.bridge.Mirror(msg); err != nil {
			h.log.Warn("nats mirror failed", map[string]interface{}{
				"id": id, "error": err.Error(),
			})
		}
	}
	return id, nil
}

// ReceiveMessages drains up to limit direct messages for an agent plus
// any broadcasts it has not yet seen.
func (h *Hub) ReceiveMessages(agent string, limit int) ([]*bus.Message, error) {
	return h.bus.Receive(agent, limit)
}

// RequestResource allocates capacity for an agent, negotiating with
// low-priority holders when the pool is short.
func (h *Hub) RequestResource(agent, kind string, amount float64, ttl time.Duration) (*resource.Lock, error) {
	lock, err := h.resources.Request(agent, kind, amount, ttl)
	h.metrics.SetUtilization(h.resources.Utilization())
	return lock, err
}

// ReleaseResource returns a lock's capacity to the pool.
func (h *Hub) ReleaseResource(lockID string) error {
	if err := h.resources.Release(lockID); err != nil {
		return err
	}
	h.metrics.SetUtilization(h.resources.Utilization())
	return nil
}

// ResourceUtilization reports the allocated fraction of each pool.
func (h *Hub) ResourceUtilization() map[string]float64 {
	return h.resources.Utilization()
}

// Metrics returns a point-in-time copy of the hub's counters.
func (h *Hub) Metrics() telemetry.Snapshot {
	return h.metrics.Snapshot()
}
