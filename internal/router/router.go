package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joonwoo-kim/upbit-feed/internal/model"
	"github.com/joonwoo-kim/upbit-feed/internal/quote"
	"github.com/joonwoo-kim/upbit-feed/internal/ratelimit"
	"github.com/joonwoo-kim/upbit-feed/internal/stream"
	"golang.org/x/sync/singleflight"
)

// ErrRateLimitExceeded is returned when a one-shot fetch still hits 429
// after the bounded retry budget.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Cache is the response cache collaborator.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// CandleStore receives fetched candles for persistence. Optional.
type CandleStore interface {
	SaveCandles(ctx context.Context, unit string, candles []model.Candle) error
}

// Config holds router tunables.
type Config struct {
	// Rate groups consulted for one-shot fetches.
	MarketGroup string
	CandleGroup string

	// StreamGroup is the group guarding subscribe frames; it feeds the
	// selector's quota signal only, the pipeline does the actual gating.
	StreamGroup string

	// MaxTypesPerTicket mirrors the stream connection's ticket ceiling.
	MaxTypesPerTicket int

	// FirstPayloadWait bounds how long GetData waits for a fresh stream
	// payload before falling back to a one-shot fetch.
	FirstPayloadWait time.Duration

	// RateLimitRetries bounds 429-driven re-attempts per one-shot fetch.
	RateLimitRetries int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MarketGroup:       "rest-market",
		CandleGroup:       "rest-candle",
		StreamGroup:       "websocket-connect",
		MaxTypesPerTicket: 5,
		FirstPayloadWait:  2 * time.Second,
		RateLimitRetries:  2,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	CacheHits      int64
	StreamServes   int64
	OneshotFetches int64
	RateLimitDrops int64
	PayloadsFanned int64
	Subscribers    int
}

// Router is the acquisition orchestrator.
type Router struct {
	cfg    Config
	logger *slog.Logger

	limiter *ratelimit.Limiter
	stream  stream.Manager
	quote   *quote.Client
	cache   Cache
	store   CandleStore // may be nil

	flight singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// latest holds the freshest payload per (type, market); waiters are
	// GetData calls blocked on the first delivery for a key.
	payloadMu sync.Mutex
	latest    map[string]model.StreamPayload
	waiters   map[string][]chan model.StreamPayload

	subMu sync.Mutex
	subs  map[Handle]*subscriber

	cacheHits      atomic.Int64
	streamServes   atomic.Int64
	oneshotFetches atomic.Int64
	rateLimitDrops atomic.Int64
	payloadsFanned atomic.Int64
}

// New creates a router. store may be nil when no database is configured.
func New(
	cfg Config,
	limiter *ratelimit.Limiter,
	sm stream.Manager,
	qc *quote.Client,
	cache Cache,
	store CandleStore,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		cfg:     cfg,
		logger:  logger,
		limiter: limiter,
		stream:  sm,
		quote:   qc,
		cache:   cache,
		store:   store,
		latest:  make(map[string]model.StreamPayload),
		waiters: make(map[string][]chan model.StreamPayload),
		subs:    make(map[Handle]*subscriber),
	}
}

// Start launches the stream connection and the payload fan-out loop.
func (r *Router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	if err := r.stream.Start(r.ctx); err != nil {
		return err
	}

	r.wg.Add(1)
	go r.fanoutLoop()

	r.logger.Info("router started",
		"market_group", r.cfg.MarketGroup,
		"candle_group", r.cfg.CandleGroup,
	)
	return nil
}

// Stop shuts the stream down and drains the fan-out loop.
func (r *Router) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	err := r.stream.Stop(ctx)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("router stop timed out")
	}

	return err
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	r.subMu.Lock()
	n := len(r.subs)
	r.subMu.Unlock()

	return Stats{
		CacheHits:      r.cacheHits.Load(),
		StreamServes:   r.streamServes.Load(),
		OneshotFetches: r.oneshotFetches.Load(),
		RateLimitDrops: r.rateLimitDrops.Load(),
		PayloadsFanned: r.payloadsFanned.Load(),
		Subscribers:    n,
	}
}

// fanoutLoop moves decoded stream payloads to waiters and subscribers.
func (r *Router) fanoutLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case p, ok := <-r.stream.Payloads():
			if !ok {
				return
			}
			r.dispatch(p)
		}
	}
}

func (r *Router) dispatch(p model.StreamPayload) {
	key := payloadKey(p.Type, p.Market)

	r.payloadMu.Lock()
	r.latest[key] = p
	for _, ch := range r.waiters[key] {
		ch <- p
	}
	delete(r.waiters, key)
	r.payloadMu.Unlock()

	r.payloadsFanned.Add(1)

	r.subMu.Lock()
	var cbs []Callback
	for _, s := range r.subs {
		if s.matches(p.Type, p.Market) {
			cbs = append(cbs, s.callback)
		}
	}
	r.subMu.Unlock()

	// Callbacks run on the fan-out goroutine; they must not block.
	for _, cb := range cbs {
		cb(p)
	}
}

// freshest returns the latest payload for a key if one has arrived.
func (r *Router) freshest(key string) (model.StreamPayload, bool) {
	r.payloadMu.Lock()
	defer r.payloadMu.Unlock()
	p, ok := r.latest[key]
	return p, ok
}

// awaitPayload blocks until a payload for key arrives, the wait budget runs
// out, or ctx is cancelled.
func (r *Router) awaitPayload(ctx context.Context, key string, budget time.Duration) (model.StreamPayload, bool) {
	ch := make(chan model.StreamPayload, 1)

	r.payloadMu.Lock()
	r.waiters[key] = append(r.waiters[key], ch)
	r.payloadMu.Unlock()

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case p := <-ch:
		return p, true
	case <-timer.C:
	case <-ctx.Done():
	}

	r.payloadMu.Lock()
	ws := r.waiters[key]
	for i, w := range ws {
		if w == ch {
			r.waiters[key] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	r.payloadMu.Unlock()

	// A payload may have landed between the timeout and deregistration.
	select {
	case p := <-ch:
		return p, true
	default:
		return model.StreamPayload{}, false
	}
}

func payloadKey(t model.DataType, market string) string {
	return string(t) + "|" + market
}
