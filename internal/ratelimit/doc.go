// Package ratelimit implements per-group admission control for the Upbit API.
//
// Each rate group carries two independent GCRA states, one tuned to the
// per-second limit and one to the per-minute limit. A request must conform
// under both; the effective wait is the maximum of the two. Backpressure is
// always expressed as a wait duration; the limiter never drops a request.
//
// An out-of-band 429 signal damps the effective rate for a cool-down period
// and then restores it linearly. Damping scales the emission interval only;
// the GCRA math itself is unchanged.
package ratelimit
