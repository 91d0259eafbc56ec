package config

import (
	"time"

	"github.com/joonwoo-kim/upbit-feed/internal/ratelimit"
)

// Default values for optional configuration fields.
const (
	DefaultRestURL            = "https://api.upbit.com"
	DefaultWSURL              = "wss://api.upbit.com/websocket/v1"
	DefaultAPITimeout         = 30 * time.Second
	DefaultMaxRetries         = 3
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultDebounceDelay      = 100 * time.Millisecond
	DefaultMaxTypesPerTicket  = 5
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultPingInterval       = 30 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultBufferSize         = 10000
	DefaultCacheTTL           = 1 * time.Second
	DefaultCacheMaxEntries    = 10000
)

// DefaultRateGroups mirrors the published per-group limits: quotation REST
// calls and websocket connect/message budgets are throttled separately.
func DefaultRateGroups() []ratelimit.GroupConfig {
	return []ratelimit.GroupConfig{
		{
			Name:     "rest-market",
			RPS:      10,
			RPSBurst: 10,
			RPM:      600,
			RPMBurst: 20,
			Strategy: ratelimit.StrategyBalanced,
		},
		{
			Name:     "rest-candle",
			RPS:      10,
			RPSBurst: 10,
			RPM:      600,
			RPMBurst: 20,
			Strategy: ratelimit.StrategyBalanced,
		},
		{
			Name:     "websocket-connect",
			RPS:      5,
			RPSBurst: 5,
			RPM:      100,
			RPMBurst: 10,
			Strategy: ratelimit.StrategyConservative,
		},
	}
}

func (c *Config) applyDefaults() {
	if c.Exchange.RestURL == "" {
		c.Exchange.RestURL = DefaultRestURL
	}
	if c.Exchange.WSURL == "" {
		c.Exchange.WSURL = DefaultWSURL
	}
	if c.Exchange.Timeout == 0 {
		c.Exchange.Timeout = DefaultAPITimeout
	}
	if c.Exchange.MaxRetries == 0 {
		c.Exchange.MaxRetries = DefaultMaxRetries
	}

	if len(c.RateGroups) == 0 {
		c.RateGroups = DefaultRateGroups()
	}

	if c.Stream.DebounceDelay == 0 {
		c.Stream.DebounceDelay = DefaultDebounceDelay
	}
	if c.Stream.MaxTypesPerTicket == 0 {
		c.Stream.MaxTypesPerTicket = DefaultMaxTypesPerTicket
	}
	if c.Stream.ReconnectBaseDelay == 0 {
		c.Stream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Stream.ReconnectMaxDelay == 0 {
		c.Stream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = DefaultPingInterval
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = DefaultBufferSize
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = DefaultCacheMaxEntries
	}

	// Database defaults only apply when a store is configured.
	if c.Database.Postgres.Host != "" {
		applyDBDefaults(&c.Database.Postgres)
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
