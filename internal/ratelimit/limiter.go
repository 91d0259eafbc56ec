package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Strategy selects a tuning preset for a rate group. Presets scale the burst
// tolerance and the 429 damping response; they are not separate algorithms.
type Strategy string

const (
	StrategyConservative Strategy = "conservative"
	StrategyBalanced     Strategy = "balanced"
	StrategyAggressive   Strategy = "aggressive"
)

// preset holds the tuning knobs derived from a Strategy.
type preset struct {
	tauScale   float64       // multiplier on burst tolerance
	dampFactor float64       // effective rate multiplier right after a 429
	cooldown   time.Duration // time to linearly restore the full rate
}

func presetFor(s Strategy) preset {
	switch s {
	case StrategyConservative:
		return preset{tauScale: 1.5, dampFactor: 0.3, cooldown: 60 * time.Second}
	case StrategyAggressive:
		return preset{tauScale: 0.5, dampFactor: 0.8, cooldown: 10 * time.Second}
	default:
		return preset{tauScale: 1.0, dampFactor: 0.5, cooldown: 30 * time.Second}
	}
}

// GroupConfig describes one logical quota bucket. Multiple request kinds may
// share a group.
type GroupConfig struct {
	Name     string   `yaml:"name"`
	RPS      float64  `yaml:"rps"`
	RPSBurst int      `yaml:"rps_burst"`
	RPM      float64  `yaml:"rpm"`
	RPMBurst int      `yaml:"rpm_burst"`
	Strategy Strategy `yaml:"strategy"`
}

// GroupStats is an observability snapshot for one group.
type GroupStats struct {
	Requests    int64         // Total admission decisions
	Throttled   int64         // Decisions that returned a non-zero wait
	TotalWait   time.Duration // Sum of returned waits
	Damped      bool          // Currently in a 429 cool-down
	DampScale   float64       // Current effective-rate multiplier (1.0 = full)
	DampedUntil time.Time     // When the full rate is restored
}

// group holds the shared per-group state. This is the only limiter state
// touched from multiple connections, so it carries its own mutex.
type group struct {
	mu  sync.Mutex
	cfg GroupConfig
	pre preset

	sec gcraState // per-second window
	min gcraState // per-minute window

	dampedAt    time.Time
	dampedUntil time.Time

	requests  int64
	throttled int64
	totalWait time.Duration
}

// Limiter answers "how long must I wait before this request is compliant?"
// for every configured rate group. It never fails and never drops a request.
type Limiter struct {
	logger *slog.Logger
	now    func() time.Time
	groups map[string]*group
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock injects a time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New builds a Limiter from typed group configs. Groups are enumerated once
// at startup and live for the process lifetime.
func New(cfgs []GroupConfig, logger *slog.Logger, opts ...Option) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}

	l := &Limiter{
		logger: logger,
		now:    time.Now,
		groups: make(map[string]*group, len(cfgs)),
	}
	for _, opt := range opts {
		opt(l)
	}

	for _, cfg := range cfgs {
		pre := presetFor(cfg.Strategy)
		l.groups[cfg.Name] = &group{
			cfg: cfg,
			pre: pre,
			sec: newGCRAState(cfg.RPS, cfg.RPSBurst, pre.tauScale),
			min: newGCRAState(cfg.RPM/60.0, cfg.RPMBurst, pre.tauScale),
		}
	}

	return l
}

// Acquire records one request against the group and returns the wait the
// caller must honor before proceeding. Both window tats are advanced at
// decision time using the same now; the caller is expected to actually wait.
func (l *Limiter) Acquire(name string) time.Duration {
	g, ok := l.groups[name]
	if !ok {
		l.logger.Warn("acquire on unknown rate group", "group", name)
		return 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := l.now()
	scale := g.dampScaleLocked(now)

	secWait := g.sec.reserve(now, scaledInterval(g.sec.interval, scale))
	minWait := g.min.reserve(now, scaledInterval(g.min.interval, scale))

	wait := secWait
	if minWait > wait {
		wait = minWait
	}

	g.requests++
	if wait > 0 {
		g.throttled++
		g.totalWait += wait
	}

	return wait
}

// Wait acquires and honors the returned wait, respecting ctx cancellation.
func (l *Limiter) Wait(ctx context.Context, name string) error {
	wait := l.Acquire(name)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TryAcquire reports whether a request would be admitted immediately under
// both windows. It does not mutate state; ChannelSelector scoring uses it
// as a remaining-quota peek.
func (l *Limiter) TryAcquire(name string) bool {
	g, ok := l.groups[name]
	if !ok {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := l.now()
	return g.sec.conforming(now) && g.min.conforming(now)
}

// Notify429 signals a hard backoff from the transport. The group's effective
// rate is multiplied by the strategy's damping factor and restored linearly
// over the cool-down period.
func (l *Limiter) Notify429(name string) {
	g, ok := l.groups[name]
	if !ok {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := l.now()
	g.dampedAt = now
	g.dampedUntil = now.Add(g.pre.cooldown)

	l.logger.Warn("rate group damped after 429",
		"group", name,
		"factor", g.pre.dampFactor,
		"until", g.dampedUntil,
	)
}

// ApplyHint feeds a Remaining-Req response header hint into the group. An
// exhausted allowance triggers a short damp; anything else is advisory only.
func (l *Limiter) ApplyHint(name string, remaining int) {
	if remaining > 0 {
		return
	}

	g, ok := l.groups[name]
	if !ok {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := l.now()
	if g.dampedUntil.After(now) {
		return // already damped
	}
	g.dampedAt = now
	g.dampedUntil = now.Add(g.pre.cooldown / 2)

	l.logger.Debug("rate group damped on exhausted allowance hint", "group", name)
}

// Stats returns the observability snapshot for a group.
func (l *Limiter) Stats(name string) (GroupStats, bool) {
	g, ok := l.groups[name]
	if !ok {
		return GroupStats{}, false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := l.now()
	scale := g.dampScaleLocked(now)

	return GroupStats{
		Requests:    g.requests,
		Throttled:   g.throttled,
		TotalWait:   g.totalWait,
		Damped:      scale < 1.0,
		DampScale:   scale,
		DampedUntil: g.dampedUntil,
	}, true
}

// Groups returns the configured group names.
func (l *Limiter) Groups() []string {
	names := make([]string, 0, len(l.groups))
	for name := range l.groups {
		names = append(names, name)
	}
	return names
}

// dampScaleLocked returns the current effective-rate multiplier in
// [dampFactor, 1.0], restoring linearly across the cool-down window.
func (g *group) dampScaleLocked(now time.Time) float64 {
	if !now.Before(g.dampedUntil) {
		return 1.0
	}

	total := g.dampedUntil.Sub(g.dampedAt)
	if total <= 0 {
		return 1.0
	}
	elapsed := now.Sub(g.dampedAt)
	frac := float64(elapsed) / float64(total)
	return g.pre.dampFactor + (1.0-g.pre.dampFactor)*frac
}

// scaledInterval stretches the emission interval when the rate is damped.
func scaledInterval(interval time.Duration, scale float64) time.Duration {
	if scale >= 1.0 {
		return interval
	}
	return time.Duration(float64(interval) / scale)
}
