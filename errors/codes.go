package errors

// Category classifies errors by their nature and retry semantics.
type Category string

// Error categories define how hub errors should be handled by callers.
const (
	// CategoryValidation indicates a request that can never succeed as sent.
	// Examples: unknown recipient, duplicate registration, malformed message.
	CategoryValidation Category = "validation"

	// CategoryCapacity indicates resource exhaustion. The pool may free up,
	// so retrying later or with a smaller amount can succeed.
	CategoryCapacity Category = "capacity"

	// CategoryCapability indicates no registered agent matches a task's
	// requirements. Succeeds only after a capable agent joins.
	CategoryCapability Category = "capability"

	// CategoryInternal indicates unexpected errors inside the hub.
	CategoryInternal Category = "internal"
)

// String returns the string representation of the category.
func (c Category) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c Category) IsRetryable() bool {
	switch c {
	case CategoryCapacity, CategoryCapability:
		return true
	default:
		return false
	}
}

// Code identifies a specific failure type within a category.
type Code string

// Error codes for hub failure scenarios.
const (
	// Validation failures.
	CodeUnknownAgent     Code = "UNKNOWN_AGENT"     // Agent is not registered
	CodeUnknownRecipient Code = "UNKNOWN_RECIPIENT" // Message target does not exist
	CodeDuplicateAgent   Code = "DUPLICATE_AGENT"   // Name already registered and active
	CodeAgentOffline     Code = "AGENT_OFFLINE"     // Agent is registered but marked offline
	CodeUnknownLock      Code = "UNKNOWN_LOCK"      // Lock already released or expired
	CodeUnknownTask      Code = "UNKNOWN_TASK"      // Task id not found
	CodeInvalidMessage   Code = "INVALID_MESSAGE"   // Malformed or unknown message type
	CodeInvalidInput     Code = "INVALID_INPUT"     // Bad argument (empty name, negative amount)

	// Capacity failures.
	CodeCapacity Code = "CAPACITY" // Request exceeds pool even after negotiation

	// Capability failures.
	CodeNoCapableAgent Code = "NO_CAPABLE_AGENT" // No online agent has the required capabilities

	// Internal failures.
	CodeInternal        Code = "INTERNAL"         // Unexpected internal error
	CodeDependencyCycle Code = "DEPENDENCY_CYCLE" // Agent dependency graph contains a cycle
	CodeClosed          Code = "CLOSED"           // Component has been shut down
)

// String returns the string representation of the code.
func (c Code) String() string {
	return string(c)
}

// DefaultCategory returns the category an error code belongs to.
func (c Code) DefaultCategory() Category {
	switch c {
	case CodeUnknownAgent, CodeAgentOffline, CodeUnknownRecipient, CodeDuplicateAgent,
		CodeUnknownLock, CodeUnknownTask, CodeInvalidMessage, CodeInvalidInput:
		return CategoryValidation
	case CodeCapacity:
		return CategoryCapacity
	case CodeNoCapableAgent:
		return CategoryCapability
	default:
		return CategoryInternal
	}
}

// Description returns a human-readable default message for the code.
func (c Code) Description() string {
	switch c {
	case CodeUnknownAgent:
		return "agent not registered"
	case CodeAgentOffline:
		return "agent is offline"
	case CodeUnknownRecipient:
		return "unknown message recipient"
	case CodeDuplicateAgent:
		return "agent name already registered"
	case CodeUnknownLock:
		return "resource lock not found"
	case CodeUnknownTask:
		return "task not found"
	case CodeInvalidMessage:
		return "invalid message"
	case CodeInvalidInput:
		return "invalid input"
	case CodeCapacity:
		return "resource pool capacity exceeded"
	case CodeNoCapableAgent:
		return "no capable agent available"
	case CodeDependencyCycle:
		return "dependency cycle detected"
	case CodeClosed:
		return "component closed"
	default:
		return "internal error"
	}
}
