// Package transport exposes the hub to executor agents over WebSocket.
//
// Each connected agent exchanges JSON envelopes: a request names an op
// and its arguments, a response echoes the op with either a result or a
// structured error. One goroutine per connection reads requests; a
// write pump serializes responses and keepalive pings.
package transport
