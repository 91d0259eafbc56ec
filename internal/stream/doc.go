// Package stream implements the streaming side of the feed core: a WebSocket
// client, the debounced send pipeline, and the per-connection manager.
//
// The send pipeline is a three-state machine (idle, pending, sending) with a
// single-flight pending handler. Subscription changes only notify it; the
// handler sleeps the debounce window, passes the rate limiter's admission
// gate, then re-reads the consolidated subscription state at send time. The
// limiter's wait therefore becomes a natural batching window: under pressure
// more changes land before the render step and fewer, larger frames go out.
//
// Public and private connections are fully independent state machines; no
// ordering is guaranteed across them.
package stream
