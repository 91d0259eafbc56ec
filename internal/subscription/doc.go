// Package subscription owns the consolidated subscription view for one
// WebSocket connection.
//
// All subscription changes while a ticket is current mutate the single
// UnifiedSubscription in place; the ticket rotates only on an explicit
// Reset. Render produces the exchange subscribe frame: an ordered array of
// one ticket entry, one entry per data type, and a trailing format entry.
package subscription
