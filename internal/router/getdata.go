package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joonwoo-kim/upbit-feed/internal/model"
	"github.com/joonwoo-kim/upbit-feed/internal/quote"
	"github.com/joonwoo-kim/upbit-feed/internal/selector"
	"github.com/joonwoo-kim/upbit-feed/internal/subscription"
)

// GetData answers one market-data request. The response is served from the
// cache when fresh, from the live stream when the selector picks it, and
// from a rate-limited REST fetch otherwise.
func (r *Router) GetData(ctx context.Context, req model.DataRequest) (model.DataResponse, error) {
	if len(req.Symbols) == 0 {
		return model.DataResponse{}, fmt.Errorf("request has no symbols")
	}

	normalized, err := subscription.NormalizeDataType(string(req.Type))
	if err != nil {
		return model.DataResponse{}, err
	}
	req.Type = normalized

	key := requestKey(req)
	if resp, ok := r.cachedResponse(key); ok {
		r.cacheHits.Add(1)
		return resp, nil
	}

	decision := selector.Select(req, r.healthSnapshot(req.Type))
	r.logger.Debug("channel selected",
		"type", req.Type,
		"channel", decision.Channel,
		"reason", decision.Reason,
	)

	if decision.Channel == selector.ChannelStream {
		resp, ok := r.serveFromStream(ctx, req)
		if ok {
			r.streamServes.Add(1)
			return resp, nil
		}
		// Stream stayed silent inside the wait budget.
		r.logger.Debug("stream silent, falling back to oneshot", "type", req.Type)
	}

	resp, err := r.fetchOneshot(ctx, key, req)
	if err != nil {
		return model.DataResponse{}, err
	}
	r.oneshotFetches.Add(1)
	return resp, nil
}

// healthSnapshot captures the live state the selector is allowed to see for
// one request type.
func (r *Router) healthSnapshot(t model.DataType) selector.HealthSnapshot {
	h := r.stream.Health()
	return selector.HealthSnapshot{
		Now:               time.Now(),
		StreamConnected:   h.Connected,
		StreamDegraded:    h.Degraded,
		ReconnectBackoff:  h.ReconnectBackoff,
		SubscribedTypes:   h.SubscribedTypes,
		MaxTypesPerTicket: r.cfg.MaxTypesPerTicket,
		TypeOnTicket:      r.stream.Subscribed(string(t)),
		StreamQuotaOK:     r.limiter.TryAcquire(r.cfg.StreamGroup),
		OneshotQuotaOK:    r.limiter.TryAcquire(r.cfg.MarketGroup),
	}
}

func (r *Router) cachedResponse(key string) (model.DataResponse, bool) {
	v, ok := r.cache.Get(key)
	if !ok {
		return model.DataResponse{}, false
	}
	resp, ok := v.(model.DataResponse)
	if !ok {
		return model.DataResponse{}, false
	}
	resp.Source = model.SourceCache
	return resp, true
}

// serveFromStream ensures the subscription exists and serves the freshest
// payload, waiting briefly when none has been delivered yet.
func (r *Router) serveFromStream(ctx context.Context, req model.DataRequest) (model.DataResponse, bool) {
	if _, err := r.stream.Add(string(req.Type), req.Symbols, req.Params); err != nil {
		r.logger.Warn("stream subscribe failed", "type", req.Type, "error", err)
		return model.DataResponse{}, false
	}

	key := payloadKey(req.Type, req.Symbols[0])
	p, ok := r.freshest(key)
	if !ok {
		p, ok = r.awaitPayload(ctx, key, r.cfg.FirstPayloadWait)
	}
	if !ok {
		return model.DataResponse{}, false
	}

	return model.DataResponse{
		Type:     req.Type,
		Source:   model.SourceStream,
		Payload:  p.Data,
		ServedAt: time.Now(),
	}, true
}

// fetchOneshot performs a REST fetch under the rate limiter. Concurrent
// identical requests collapse into one upstream call.
func (r *Router) fetchOneshot(ctx context.Context, key string, req model.DataRequest) (model.DataResponse, error) {
	v, err, _ := r.flight.Do(key, func() (any, error) {
		return r.fetchWithRateBudget(ctx, req)
	})
	if err != nil {
		return model.DataResponse{}, err
	}

	resp := v.(model.DataResponse)
	r.cache.Set(key, resp)
	return resp, nil
}

// fetchWithRateBudget waits for the limiter, fetches, and on 429 damps the
// group and re-waits with the freshly stretched interval. The retry budget
// is small; past it the caller sees ErrRateLimitExceeded.
func (r *Router) fetchWithRateBudget(ctx context.Context, req model.DataRequest) (model.DataResponse, error) {
	group := r.cfg.MarketGroup
	if req.Type.IsCandle() {
		group = r.cfg.CandleGroup
	}

	var lastErr error
	for attempt := 0; attempt <= r.cfg.RateLimitRetries; attempt++ {
		if err := r.limiter.Wait(ctx, group); err != nil {
			return model.DataResponse{}, err
		}

		resp, err := r.fetch(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !quote.IsRateLimited(err) {
			return model.DataResponse{}, err
		}

		lastErr = err
		r.limiter.Notify429(group)
		r.logger.Warn("one-shot fetch rate limited",
			"group", group,
			"attempt", attempt,
			"type", req.Type,
		)
	}

	r.rateLimitDrops.Add(1)
	return model.DataResponse{}, fmt.Errorf("%w: %v", ErrRateLimitExceeded, lastErr)
}

// fetch issues the REST call for one request type.
func (r *Router) fetch(ctx context.Context, req model.DataRequest) (model.DataResponse, error) {
	resp := model.DataResponse{
		Type:     req.Type,
		Source:   model.SourceOneshot,
		ServedAt: time.Now(),
	}

	switch {
	case req.Type == model.TypeTicker:
		tickers, err := r.quote.GetTicker(ctx, req.Symbols)
		if err != nil {
			return model.DataResponse{}, err
		}
		resp.Tickers = tickers

	case req.Type == model.TypeOrderbook:
		books, err := r.quote.GetOrderbook(ctx, req.Symbols)
		if err != nil {
			return model.DataResponse{}, err
		}
		if len(books) > 0 {
			resp.Orderbook = &books[0]
		}

	case req.Type == model.TypeTrade:
		trades, err := r.quote.GetTrades(ctx, req.Symbols[0], intParam(req.Params, "count"))
		if err != nil {
			return model.DataResponse{}, err
		}
		resp.Trades = trades

	case req.Type.IsCandle():
		unit := strings.TrimPrefix(string(req.Type), "candle.")
		for _, symbol := range req.Symbols {
			candles, err := r.quote.GetCandles(ctx, quote.CandleQuery{
				Market: symbol,
				Unit:   unit,
				Count:  intParam(req.Params, "count"),
				To:     candleUpperBound(req.TimeRange),
			})
			if err != nil {
				return model.DataResponse{}, err
			}
			resp.Candles = append(resp.Candles, candles...)
		}
		r.persistCandles(ctx, unit, resp.Candles)

	default:
		return model.DataResponse{}, fmt.Errorf("unsupported data type %q", req.Type)
	}

	return resp, nil
}

// persistCandles writes to the store when one is configured. Persistence is
// best effort; a failed write never fails the request.
func (r *Router) persistCandles(ctx context.Context, unit string, candles []model.Candle) {
	if r.store == nil || len(candles) == 0 {
		return
	}
	if err := r.store.SaveCandles(ctx, unit, candles); err != nil {
		r.logger.Warn("candle persistence failed", "unit", unit, "error", err)
	}
}

func candleUpperBound(tr model.TimeRange) string {
	if tr.To.IsZero() {
		return ""
	}
	return tr.To.UTC().Format(time.RFC3339)
}

func intParam(params map[string]any, key string) int {
	if params == nil {
		return 0
	}
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// requestKey is the cache and singleflight key: type, sorted symbols, and
// the parameters that change the upstream response.
func requestKey(req model.DataRequest) string {
	symbols := make([]string, len(req.Symbols))
	copy(symbols, req.Symbols)
	sort.Strings(symbols)

	var b strings.Builder
	b.WriteString(string(req.Type))
	b.WriteByte('|')
	b.WriteString(strings.Join(symbols, ","))
	if n := intParam(req.Params, "count"); n > 0 {
		fmt.Fprintf(&b, "|count=%d", n)
	}
	if !req.TimeRange.IsZero() {
		fmt.Fprintf(&b, "|to=%d", req.TimeRange.To.Unix())
	}
	return b.String()
}
