// Package errors provides the structured error taxonomy for the coordination
// hub. Every failure a caller can observe is classified so that external task
// producers and executors can decide whether to retry, shrink a request, or
// give up.
//
// # Error Categories
//
//   - Validation: the request referenced an unknown agent, a duplicate name,
//     or a malformed message. Retrying unchanged will not help.
//   - Capacity: a resource request exceeded the pool even after negotiation.
//     The error carries the unmet shortfall so the caller can retry smaller.
//   - Capability: no registered agent can satisfy a task's requirements.
//   - Internal: unexpected failures inside the hub itself.
//
// # Usage
//
// Create an error:
//
//	err := errors.New(errors.CodeUnknownAgent, "no such agent",
//	    errors.WithAgentID("worker-3"))
//
// Check the shortfall on a failed resource request:
//
//	var hubErr *errors.Error
//	if stderrors.As(err, &hubErr) && hubErr.Code() == errors.CodeCapacity {
//	    retry := requested - hubErr.Shortfall()
//	}
package errors
