// Package registry provides the authoritative record of worker agents known
// to the coordination hub.
//
// # Overview
//
// Agents register with a unique name, a set of capability tags, and declared
// resource quotas. The registry tracks each agent's status (idle, working,
// offline), its fractional workload, and the time of its last heartbeat.
// Every other hub component reads agent state from here; only the
// registration paths, status updates, and the liveness monitor mutate it.
//
// # Lifecycle
//
// An agent is created on Register and removed on Unregister. An agent that
// stops heartbeating is marked offline, never silently deleted: offline
// agents stay visible for audit until explicitly unregistered. An offline
// agent becomes assignable again after a fresh heartbeat or re-registration.
//
// # Selection
//
// FindCapable returns online agents whose capability set covers a task's
// requirements, sorted by workload so the distributor can pick the least
// loaded one.
package registry
