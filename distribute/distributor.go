package distribute

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/swarmops/coordhub/bus"
	"github.com/swarmops/coordhub/logging"
	"github.com/swarmops/coordhub/registry"
)

// HubSender identifies hub-originated messages on the bus.
const HubSender = "hub"

// Sender delivers assignment messages. Satisfied by *bus.PriorityBus.
type Sender interface {
	Send(from, to string, msgType bus.MessageType, payload json.RawMessage, priority int) (string, error)
}

// Distributor assigns tasks to agents and tracks them to completion.
type Distributor struct {
	registry registry.Registry
	sender   Sender
	log      *logging.Logger

	mu     sync.Mutex
	tasks  map[string]*Task
	graph  *Graph
	closed bool

	// OnStuck is invoked with the stuck agents whenever a dependency
	// change produces a cycle.
	OnStuck func(stuck []string)
}

// NewDistributor creates a distributor over the given registry and sender.
func NewDistributor(reg registry.Registry, sender Sender, log *logging.Logger) *Distributor {
	if log == nil {
		log = logging.New()
	}
	return &Distributor{
		registry: reg,
		sender:   sender,
		log:      log.WithComponent("distributor"),
		tasks:    make(map[string]*Task),
		graph:    NewGraph(),
	}
}

// Submit assigns a task to the least-loaded capable agent. If no online
// agent covers the required capabilities it returns ErrNoCapableAgent and
// records nothing.
func (d *Distributor) Submit(spec TaskSpec) (*Assignment, error) {
	if spec.EstimatedLoad < 0 {
		return nil, ErrInvalidSpec
	}

	candidates, err := d.registry.FindCapable(spec.Required)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoCapableAgent
	}

	task := newTask(spec)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	d.tasks[task.ID] = task
	d.mu.Unlock()

	// Registry sorts by workload with name as tiebreaker.
	chosen := candidates[0].Name
	if err := d.assign(task, chosen); err != nil {
		return nil, err
	}

	return &Assignment{TaskID: task.ID, Agent: chosen}, nil
}

// assign marks the task assigned to agent, bumps the agent's workload, and
// sends the task_assignment message. A failed send re-queues the task so
// the coordination loop retries it.
func (d *Distributor) assign(task *Task, agent string) error {
	if err := d.registry.AdjustWorkload(agent, task.EstimatedLoad); err != nil {
		return err
	}

	d.mu.Lock()
	task.Status = StatusAssigned
	task.Agent = agent
	task.AssignedAt = time.Now()
	d.mu.Unlock()

	payload, err := bus.EncodePayload(bus.AssignmentPayload{
		TaskID:        task.ID,
		TaskType:      task.Type,
		Required:      task.Required,
		EstimatedLoad: task.EstimatedLoad,
		Body:          task.Payload,
	})
	if err == nil {
		prio := task.Priority
		if prio == 0 {
			prio = bus.PriorityNormal
		}
		_, err = d.sender.Send(HubSender, agent, bus.TypeTaskAssignment, payload, prio)
	}
	if err != nil {
		d.log.Warn("assignment delivery failed, task re-queued", map[string]interface{}{
			"task":  task.ID,
			"agent": agent,
			"error": err.Error(),
		})
		// Undo the workload bump so the retry does not double-count it.
		if rbErr := d.registry.AdjustWorkload(agent, -task.EstimatedLoad); rbErr != nil {
			d.log.Warn("workload rollback failed", map[string]interface{}{
				"agent": agent,
				"error": rbErr.Error(),
			})
		}
		d.requeue(task.ID)
		return err
	}

	d.log.Info("task assigned", map[string]interface{}{
		"task":  task.ID,
		"agent": agent,
		"load":  task.EstimatedLoad,
	})
	return nil
}

// RecordResult marks a task completed and returns its estimated load to the
// assigned agent. A result for an already-completed task is ignored.
func (d *Distributor) RecordResult(taskID string) error {
	d.mu.Lock()
	task, ok := d.tasks[taskID]
	if !ok {
		d.mu.Unlock()
		return ErrUnknownTask
	}
	if task.Status == StatusCompleted {
		d.mu.Unlock()
		return nil
	}
	task.Status = StatusCompleted
	task.CompletedAt = time.Now()
	agent := task.Agent
	load := task.EstimatedLoad
	d.mu.Unlock()

	if agent != "" {
		// Floor at zero is the registry's concern.
		d.registry.AdjustWorkload(agent, -load)
	}
	return nil
}

// requeue moves a task back to pending.
func (d *Distributor) requeue(taskID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, ok := d.tasks[taskID]
	if !ok || task.Status == StatusCompleted {
		return
	}
	task.Status = StatusPending
	task.Agent = ""
	task.AssignedAt = time.Time{}
}

// RequeueAgent returns all of an agent's incomplete assignments to pending.
// Called when the agent is marked offline. Returns the re-queued task ids.
func (d *Distributor) RequeueAgent(agent string) []string {
	d.mu.Lock()
	var ids []string
	for id, task := range d.tasks {
		if task.Agent == agent && task.Status == StatusAssigned {
			ids = append(ids, id)
		}
	}
	d.mu.Unlock()

	for _, id := range ids {
		d.requeue(id)
	}
	if len(ids) > 0 {
		d.log.Info("re-queued tasks from offline agent", map[string]interface{}{
			"agent": agent,
			"count": len(ids),
		})
	}
	return ids
}

// AssignPending retries every pending task against the current agent pool.
// Called by the coordination loop. Returns the number assigned.
func (d *Distributor) AssignPending() int {
	d.mu.Lock()
	var pending []*Task
	for _, task := range d.tasks {
		if task.Status == StatusPending {
			pending = append(pending, task)
		}
	}
	d.mu.Unlock()

	assigned := 0
	for _, task := range pending {
		candidates, err := d.registry.FindCapable(task.Required)
		if err != nil || len(candidates) == 0 {
			continue
		}
		if err := d.assign(task, candidates[0].Name); err == nil {
			assigned++
		}
	}
	return assigned
}

// Get retrieves a task record by id.
func (d *Distributor) Get(taskID string) (*Task, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, ok := d.tasks[taskID]
	if !ok {
		return nil, ErrUnknownTask
	}
	return task.Clone(), nil
}

// List returns tasks with the given status; an empty status returns all.
func (d *Distributor) List(status TaskStatus) []*Task {
	d.mu.Lock()
	defer d.mu.Unlock()

	var result []*Task
	for _, task := range d.tasks {
		if status == "" || task.Status == status {
			result = append(result, task.Clone())
		}
	}
	return result
}

// ActiveCount returns the number of tasks not yet completed.
func (d *Distributor) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	count := 0
	for _, task := range d.tasks {
		if task.Status != StatusCompleted {
			count++
		}
	}
	return count
}

// Restore loads task records from a snapshot. Existing records with the
// same id are overwritten.
func (d *Distributor) Restore(tasks []*Task) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, task := range tasks {
		d.tasks[task.ID] = task.Clone()
	}
}

// DependOn declares that dependent requires dependency's output first and
// recomputes the execution order. Cycles are reported through OnStuck.
func (d *Distributor) DependOn(dependent, dependency string) {
	d.mu.Lock()
	d.graph.AddDependency(dependent, dependency)
	_, stuck := d.graph.Order()
	cb := d.OnStuck
	d.mu.Unlock()

	if len(stuck) > 0 {
		d.log.Warn("dependency cycle excludes agents from execution order", map[string]interface{}{
			"stuck": stuck,
		})
		if cb != nil {
			cb(stuck)
		}
	}
}

// RemoveDependencies drops an agent from the dependency graph.
func (d *Distributor) RemoveDependencies(agent string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.graph.RemoveAgent(agent)
}

// ExecutionOrder returns the topological order and any agents stuck in
// cycles.
func (d *Distributor) ExecutionOrder() (order []string, stuck []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.graph.Order()
}

// Close shuts down the distributor.
func (d *Distributor) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
