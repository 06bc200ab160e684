// Package hub assembles the coordination hub: the agent registry, the
// priority message bus, the resource coordinator, the task distributor,
// and the liveness monitor, wired together with telemetry and optional
// snapshot persistence.
//
// A Hub is built with New and driven by Start, which runs the dispatch
// loop, the liveness and sweep tickers, and the coordination retry loop
// until the context is cancelled. All external operations (register,
// submit, send, receive, request) are methods on Hub and are safe for
// concurrent use.
package hub
