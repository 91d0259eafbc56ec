package store

import (
	"testing"
	"time"

	"github.com/joonwoo-kim/upbit-feed/internal/model"
)

func TestCandleTime(t *testing.T) {
	c := model.Candle{
		Market:            "KRW-BTC",
		CandleDateTimeUTC: "2026-08-29T09:05:00",
		TimestampMs:       1700000000000,
	}

	got := candleTime(c)
	want := time.Date(2026, 8, 29, 9, 5, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("candleTime = %v, want %v", got, want)
	}
}

func TestCandleTime_FallsBackToTimestamp(t *testing.T) {
	c := model.Candle{
		Market:      "KRW-BTC",
		TimestampMs: 1700000000000,
	}

	got := candleTime(c)
	want := time.UnixMilli(1700000000000).UTC()
	if !got.Equal(want) {
		t.Errorf("candleTime = %v, want %v", got, want)
	}
}
