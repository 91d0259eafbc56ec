package quote

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/joonwoo-kim/upbit-feed/internal/model"
)

// GetTicker fetches current quotes for the given markets.
func (c *Client) GetTicker(ctx context.Context, markets []string) ([]model.Ticker, error) {
	query := url.Values{}
	query.Set("markets", strings.Join(markets, ","))

	var tickers []model.Ticker
	if err := c.get(ctx, "/v1/ticker", query, &tickers); err != nil {
		return nil, fmt.Errorf("get ticker: %w", err)
	}
	return tickers, nil
}

// GetOrderbook fetches depth snapshots for the given markets.
func (c *Client) GetOrderbook(ctx context.Context, markets []string) ([]model.Orderbook, error) {
	query := url.Values{}
	query.Set("markets", strings.Join(markets, ","))

	var books []model.Orderbook
	if err := c.get(ctx, "/v1/orderbook", query, &books); err != nil {
		return nil, fmt.Errorf("get orderbook: %w", err)
	}
	return books, nil
}

// GetTrades fetches recent trade ticks for one market.
func (c *Client) GetTrades(ctx context.Context, market string, count int) ([]model.Trade, error) {
	query := url.Values{}
	query.Set("market", market)
	if count > 0 {
		query.Set("count", strconv.Itoa(count))
	}

	var trades []model.Trade
	if err := c.get(ctx, "/v1/trades/ticks", query, &trades); err != nil {
		return nil, fmt.Errorf("get trades: %w", err)
	}
	return trades, nil
}

// CandleQuery bounds a candle fetch.
type CandleQuery struct {
	Market string
	Unit   string // normalized unit without the "candle." prefix, e.g. "5m"
	Count  int
	To     string // exclusive upper bound, RFC3339 (empty = latest)
}

// GetCandles fetches OHLCV bars. The unit selects the endpoint:
// "<n>m" maps to /v1/candles/minutes/<n>, "1s" to /v1/candles/seconds.
func (c *Client) GetCandles(ctx context.Context, q CandleQuery) ([]model.Candle, error) {
	path, err := candlePath(q.Unit)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("market", q.Market)
	if q.Count > 0 {
		query.Set("count", strconv.Itoa(q.Count))
	}
	if q.To != "" {
		query.Set("to", q.To)
	}

	var candles []model.Candle
	if err := c.get(ctx, path, query, &candles); err != nil {
		return nil, fmt.Errorf("get candles %s: %w", q.Unit, err)
	}
	return candles, nil
}

func candlePath(unit string) (string, error) {
	switch {
	case unit == "1s":
		return "/v1/candles/seconds", nil
	case strings.HasSuffix(unit, "m"):
		n, err := strconv.Atoi(strings.TrimSuffix(unit, "m"))
		if err != nil {
			return "", fmt.Errorf("invalid candle unit %q", unit)
		}
		return "/v1/candles/minutes/" + strconv.Itoa(n), nil
	default:
		return "", fmt.Errorf("invalid candle unit %q", unit)
	}
}
