package ratelimit

import "time"

// gcraState is the continuous GCRA state for a single time window.
// tat (theoretical arrival time) is monotonically non-decreasing.
type gcraState struct {
	tat      time.Time
	interval time.Duration // emission interval: 1 / rate
	tau      time.Duration // burst tolerance: burst * interval
}

func newGCRAState(rate float64, burst int, tauScale float64) gcraState {
	interval := time.Duration(float64(time.Second) / rate)
	tau := time.Duration(float64(interval) * float64(burst) * tauScale)
	return gcraState{interval: interval, tau: tau}
}

// conforming reports whether a request at now would be admitted immediately.
// It does not mutate state.
func (s *gcraState) conforming(now time.Time) bool {
	return now.After(s.tat.Add(-s.tau))
}

// wait returns the delay a request at now must honor before it conforms.
// It does not mutate state.
func (s *gcraState) wait(now time.Time) time.Duration {
	earliest := s.tat.Add(-s.tau)
	if now.After(earliest) {
		return 0
	}
	return earliest.Sub(now)
}

// reserve computes the wait for a request at now and advances tat by the
// given emission interval. The advance happens at decision time: for a
// non-conforming request the tat moves as if the request occurred at
// now+wait, which reduces to max(now, tat) + interval in both cases.
func (s *gcraState) reserve(now time.Time, interval time.Duration) time.Duration {
	w := s.wait(now)

	base := s.tat
	if now.After(base) {
		base = now
	}
	s.tat = base.Add(interval)

	return w
}
