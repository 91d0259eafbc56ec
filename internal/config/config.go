package config

import (
	"time"

	"github.com/joonwoo-kim/upbit-feed/internal/ratelimit"
)

// Config is the root configuration for a feed instance.
type Config struct {
	Instance   InstanceConfig          `yaml:"instance"`
	Exchange   ExchangeConfig          `yaml:"exchange"`
	RateGroups []ratelimit.GroupConfig `yaml:"rate_groups"`
	Stream     StreamConfig            `yaml:"stream"`
	Cache      CacheConfig             `yaml:"cache"`
	Database   DatabaseConfig          `yaml:"database"`
}

// InstanceConfig identifies this feed process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ExchangeConfig holds Upbit endpoint settings.
type ExchangeConfig struct {
	RestURL    string        `yaml:"rest_url"`
	WSURL      string        `yaml:"ws_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// StreamConfig holds WebSocket stream settings.
type StreamConfig struct {
	DebounceDelay      time.Duration `yaml:"debounce_delay"`
	MaxTypesPerTicket  int           `yaml:"max_types_per_ticket"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	BufferSize         int           `yaml:"buffer_size"`
}

// CacheConfig bounds the in-memory response cache.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// DatabaseConfig holds the optional candle persistence target.
// Leave postgres.host empty to run without a store.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}
