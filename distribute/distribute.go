// Package distribute matches submitted tasks to capable, lightly loaded
// agents and tracks each assignment through completion.
//
// Selection is capability-superset filtering through the registry followed
// by lowest-workload choice, ties broken by name so repeated submissions
// are deterministic. Assignments are delivered as task_assignment messages;
// results arrive back as result messages. Task records are never deleted,
// preserving throughput and cycle-time history for telemetry.
//
// Agents may declare dependencies on other agents' output; the package
// keeps a topological execution order (Kahn's algorithm) and reports agents
// stuck in dependency cycles rather than failing.
package distribute

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors.
var (
	ErrNoCapableAgent = errors.New("no capable agent available")
	ErrUnknownTask    = errors.New("task not found")
	ErrInvalidSpec    = errors.New("invalid task spec")
	ErrClosed         = errors.New("distributor closed")
)

// TaskStatus represents the current state of a task assignment.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusAssigned  TaskStatus = "assigned"
	StatusCompleted TaskStatus = "completed"
)

// TaskSpec describes a task submitted by an external producer.
type TaskSpec struct {
	// Type tags the kind of work (e.g., "bug-fix", "review").
	Type string `json:"type"`

	// Required lists capabilities the assigned agent must have.
	Required []string `json:"required,omitempty"`

	// EstimatedLoad is added to the chosen agent's workload until the
	// result comes back.
	EstimatedLoad float64 `json:"estimated_load"`

	// Payload is the opaque task body forwarded to the agent.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Priority of the assignment message; lower is more urgent.
	// Zero means normal priority.
	Priority int `json:"priority,omitempty"`
}

// Task is the assignment record kept for every submitted task.
type Task struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Required      []string        `json:"required,omitempty"`
	EstimatedLoad float64         `json:"estimated_load"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Priority      int             `json:"priority"`
	Status        TaskStatus      `json:"status"`
	Agent         string          `json:"agent,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	AssignedAt    time.Time       `json:"assigned_at,omitempty"`
	CompletedAt   time.Time       `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the task record.
func (t *Task) Clone() *Task {
	clone := *t
	if t.Required != nil {
		clone.Required = append([]string(nil), t.Required...)
	}
	if t.Payload != nil {
		clone.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	return &clone
}

// Assignment is the successful outcome of a submission.
type Assignment struct {
	TaskID string `json:"task_id"`
	Agent  string `json:"agent"`
}

// newTask builds a pending task record from a spec.
func newTask(spec TaskSpec) *Task {
	return &Task{
		ID:            uuid.NewString(),
		Type:          spec.Type,
		Required:      append([]string(nil), spec.Required...),
		EstimatedLoad: spec.EstimatedLoad,
		Payload:       spec.Payload,
		Priority:      spec.Priority,
		Status:        StatusPending,
		CreatedAt:     time.Now(),
	}
}
