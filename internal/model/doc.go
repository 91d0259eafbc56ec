// Package model defines shared data types used across the feed core.
//
// Conventions:
//   - Symbols: Upbit market codes (e.g., "KRW-BTC")
//   - Data types: "ticker", "trade", "orderbook", "candle.<unit>"
//   - Timestamps: time.Time locally, int64 milliseconds on the wire
package model
