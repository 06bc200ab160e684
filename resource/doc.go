// Package resource tracks global resource pools and per-agent allocations
// for the coordination hub.
//
// # Model
//
// Each resource kind has one global pool limit. An allocation is a Lock: a
// time-bounded claim by one agent on an amount of one kind. The cumulative
// "allocated" figure per kind is always derived from the sum of active
// locks, never stored separately, so the capacity invariant
//
//	sum(active lock amounts for a kind) <= pool limit
//
// cannot drift.
//
// # Negotiation
//
// When a request exceeds free capacity, the coordinator does not queue the
// requester. It scans other holders of the kind that are idle or below the
// low-workload threshold and plans to reclaim up to half of each holder's
// allocation. If the plan covers the shortfall the reclamation is executed
// and the lock granted; otherwise nothing is reclaimed and the caller gets
// a capacity error naming the unmet shortfall. Reclaimed agents must
// re-request if they still need the capacity.
//
// # Expiry
//
// Locks self-expire. Sweep releases anything past its expiry timestamp and
// refreshes elastic pool limits through the configured probe. Staleness is
// bounded by the sweep interval, not immediate.
package resource
