// Package store persists fetched candles to PostgreSQL.
//
// The store is optional: the router runs without one when no database is
// configured. Writes are upserts keyed on (market, unit, candle_time) so a
// re-fetched window never duplicates rows.
package store
