// Package selector decides which channel serves a data request.
//
// Select is a pure function of the request and a health snapshot: it never
// reads the wall clock or any live state itself, so identical inputs always
// produce the identical decision. Hard constraints (historical range, ticket
// capacity, reconnect backoff) override scoring; otherwise a weighted sum
// picks between streaming and one-shot, with streaming winning ties.
package selector
