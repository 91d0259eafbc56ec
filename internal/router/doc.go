// Package router orchestrates market-data acquisition across the streaming
// and one-shot channels.
//
// The router owns the rate limiter, the stream connection manager, the REST
// client and the response cache, and exposes two call surfaces:
//
//   - GetData: a single request answered from cache, the live stream, or a
//     rate-limited REST fetch, chosen per request by the channel selector.
//   - Subscribe/Unsubscribe: continuous interest registered against the
//     shared subscription ticket, with payload fan-out to callbacks.
package router
