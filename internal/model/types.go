package model

import (
	"encoding/json"
	"time"
)

// -----------------------------------------------------------------------------
// Request Types
// -----------------------------------------------------------------------------

// DataType identifies a kind of market data stream or snapshot.
type DataType string

const (
	TypeTicker    DataType = "ticker"
	TypeTrade     DataType = "trade"
	TypeOrderbook DataType = "orderbook"
)

// IsCandle reports whether the data type is a candle stream ("candle.<unit>").
func (t DataType) IsCandle() bool {
	return len(t) > 7 && t[:7] == "candle."
}

// Priority is a caller-supplied hint for how time-sensitive a request is.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// TimeRange bounds a historical request. A zero TimeRange means "latest".
type TimeRange struct {
	From time.Time
	To   time.Time
}

// IsZero reports whether the range is unset.
func (r TimeRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// DataRequest describes one market-data request from a caller.
type DataRequest struct {
	Symbols    []string       // Market codes (e.g., "KRW-BTC")
	Type       DataType       // What kind of data
	Priority   Priority       // Realtime priority hint
	TimeRange  TimeRange      // Optional historical bound; forces one-shot
	IsSnapshot bool           // One point-in-time read vs continuous interest
	Params     map[string]any // Type-specific params (e.g., candle unit)
}

// Source tags where a DataResponse was served from.
type Source string

const (
	SourceStream  Source = "stream"
	SourceOneshot Source = "oneshot"
	SourceCache   Source = "cache"
)

// DataResponse carries the payload returned to a caller.
type DataResponse struct {
	Type      DataType
	Source    Source
	Payload   json.RawMessage
	Tickers   []Ticker
	Trades    []Trade
	Orderbook *Orderbook
	Candles   []Candle
	ServedAt  time.Time
}

// -----------------------------------------------------------------------------
// Upbit Payload Types
// -----------------------------------------------------------------------------

// Ticker is a point-in-time quote for one market.
type Ticker struct {
	Market             string  `json:"market"`
	TradePrice         float64 `json:"trade_price"`
	OpeningPrice       float64 `json:"opening_price"`
	HighPrice          float64 `json:"high_price"`
	LowPrice           float64 `json:"low_price"`
	PrevClosingPrice   float64 `json:"prev_closing_price"`
	SignedChangeRate   float64 `json:"signed_change_rate"`
	AccTradeVolume24H  float64 `json:"acc_trade_volume_24h"`
	AccTradePrice24H   float64 `json:"acc_trade_price_24h"`
	TimestampMs        int64   `json:"timestamp"`
	TradeTimestampMs   int64   `json:"trade_timestamp"`
	HighestWeekPrice   float64 `json:"highest_52_week_price"`
	LowestWeekPrice    float64 `json:"lowest_52_week_price"`
	ChangeIndicator    string  `json:"change"` // RISE, FALL, EVEN
	MarketWarningState string  `json:"market_warning,omitempty"`
}

// Trade is one executed trade.
type Trade struct {
	Market           string  `json:"market"`
	TradePrice       float64 `json:"trade_price"`
	TradeVolume      float64 `json:"trade_volume"`
	AskBid           string  `json:"ask_bid"` // ASK or BID
	TimestampMs      int64   `json:"timestamp"`
	SequentialID     int64   `json:"sequential_id"`
	PrevClosingPrice float64 `json:"prev_closing_price,omitempty"`
}

// OrderbookUnit is one price level of an orderbook.
type OrderbookUnit struct {
	AskPrice float64 `json:"ask_price"`
	BidPrice float64 `json:"bid_price"`
	AskSize  float64 `json:"ask_size"`
	BidSize  float64 `json:"bid_size"`
}

// Orderbook is a full depth snapshot for one market.
type Orderbook struct {
	Market       string          `json:"market"`
	TimestampMs  int64           `json:"timestamp"`
	TotalAskSize float64         `json:"total_ask_size"`
	TotalBidSize float64         `json:"total_bid_size"`
	Units        []OrderbookUnit `json:"orderbook_units"`
}

// Candle is one OHLCV bar.
type Candle struct {
	Market           string  `json:"market"`
	Unit             string  `json:"unit,omitempty"` // e.g. "5m"
	OpeningPrice     float64 `json:"opening_price"`
	HighPrice        float64 `json:"high_price"`
	LowPrice         float64 `json:"low_price"`
	TradePrice       float64 `json:"trade_price"` // close
	CandleDateTimeUTC string `json:"candle_date_time_utc"`
	TimestampMs      int64   `json:"timestamp"`
	AccTradeVolume   float64 `json:"candle_acc_trade_volume"`
	AccTradePrice    float64 `json:"candle_acc_trade_price"`
}

// StreamPayload is a decoded message delivered by the stream transport.
type StreamPayload struct {
	Type       DataType
	Market     string
	Data       json.RawMessage
	ReceivedAt time.Time
}
