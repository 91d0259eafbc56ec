package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joonwoo-kim/upbit-feed/internal/config"
	"github.com/joonwoo-kim/upbit-feed/internal/model"
)

// Store writes candles to a PostgreSQL pool.
type Store struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(ConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: pool, logger: logger}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// Ping verifies the connection is healthy.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// SaveCandles upserts a batch of candles for one market and unit.
func (s *Store) SaveCandles(ctx context.Context, unit string, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(`
			INSERT INTO candles (market, unit, candle_time, open, high, low, close, volume, value)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (market, unit, candle_time) DO UPDATE SET
				open = EXCLUDED.open,
				high = EXCLUDED.high,
				low = EXCLUDED.low,
				close = EXCLUDED.close,
				volume = EXCLUDED.volume,
				value = EXCLUDED.value`,
			c.Market,
			unit,
			candleTime(c),
			c.OpeningPrice,
			c.HighPrice,
			c.LowPrice,
			c.TradePrice,
			c.AccTradeVolume,
			c.AccTradePrice,
		)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range candles {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert candle: %w", err)
		}
	}

	s.logger.Debug("candles saved",
		"market", candles[0].Market,
		"unit", unit,
		"count", len(candles),
	)
	return nil
}

// candleTime prefers the exchange's UTC bar time; the receive timestamp is
// the fallback for payloads that omit it.
func candleTime(c model.Candle) time.Time {
	if t, err := time.Parse("2006-01-02T15:04:05", c.CandleDateTimeUTC); err == nil {
		return t.UTC()
	}
	return time.UnixMilli(c.TimestampMs).UTC()
}

// RecentPrice returns the latest stored close for a market, across any unit.
func (s *Store) RecentPrice(ctx context.Context, market string) (float64, time.Time, error) {
	var price float64
	var at time.Time

	err := s.db.QueryRow(ctx, `
		SELECT close, candle_time
		FROM candles
		WHERE market = $1
		ORDER BY candle_time DESC
		LIMIT 1`,
		market,
	).Scan(&price, &at)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("query recent price: %w", err)
	}

	return price, at, nil
}
