// Package quote provides the one-shot REST client for the Upbit quotation API.
//
// Endpoints: /v1/ticker, /v1/orderbook, /v1/trades/ticks,
// /v1/candles/minutes/{unit}, /v1/candles/seconds.
//
// Server errors retry with exponential backoff and jitter. A 429 is never
// retried here: it is surfaced to the caller, which owns the adaptive
// cool-down and recompute loop. The Remaining-Req response header is parsed
// and forwarded to the rate limiter as a hint.
package quote
