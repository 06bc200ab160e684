// Package bus provides the hub's priority message bus.
//
// # Overview
//
// Every message enters through Send, which places it in the recipient's
// direct queue (or the bounded broadcast ring) and in a single global
// priority queue feeding the dispatcher. Lower priority values are more
// urgent. Within one recipient, messages come out in non-decreasing priority
// order with arrival order breaking ties; there is no ordering guarantee
// across recipients.
//
// # Broadcast
//
// The recipient "broadcast" is reserved. Broadcast messages are kept in a
// fixed-size ring buffer; each agent has a cursor advanced by Receive, so a
// broadcast is seen at most once per agent and never replayed retroactively.
// Messages that age out of the ring before an agent polls are gone.
//
// # Dispatch
//
// The Dispatcher is a single logical consumer popping the global queue and
// routing each message to the handler for its type. Handler execution is
// synchronous: the next message is not popped until the current handler
// returns. Handlers must be short-running and must not block on external
// I/O; long-running work belongs to external executors via task_assignment
// messages.
//
// # NATS bridge
//
// The optional Bridge mirrors hub traffic to NATS subjects so out-of-process
// executors can participate, and injects inbound NATS messages into the hub
// bus.
package bus
