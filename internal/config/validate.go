package config

import (
	"errors"
	"fmt"

	"github.com/joonwoo-kim/upbit-feed/internal/ratelimit"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Exchange.RestURL == "" {
		return errors.New("exchange.rest_url is required")
	}
	if c.Exchange.WSURL == "" {
		return errors.New("exchange.ws_url is required")
	}

	seen := make(map[string]bool, len(c.RateGroups))
	for i, g := range c.RateGroups {
		if g.Name == "" {
			return fmt.Errorf("rate_groups[%d].name is required", i)
		}
		if seen[g.Name] {
			return fmt.Errorf("rate_groups: duplicate group %q", g.Name)
		}
		seen[g.Name] = true

		if g.RPS <= 0 {
			return fmt.Errorf("rate_groups[%s].rps must be > 0", g.Name)
		}
		if g.RPM <= 0 {
			return fmt.Errorf("rate_groups[%s].rpm must be > 0", g.Name)
		}
		switch g.Strategy {
		case "", ratelimit.StrategyConservative, ratelimit.StrategyBalanced, ratelimit.StrategyAggressive:
		default:
			return fmt.Errorf("rate_groups[%s].strategy %q is not one of conservative|balanced|aggressive", g.Name, g.Strategy)
		}
	}

	if c.Stream.MaxTypesPerTicket < 1 {
		return errors.New("stream.max_types_per_ticket must be >= 1")
	}
	if c.Stream.BufferSize < 1 {
		return errors.New("stream.buffer_size must be >= 1")
	}
	if c.Stream.ReconnectBaseDelay > c.Stream.ReconnectMaxDelay {
		return fmt.Errorf("stream.reconnect_base_delay (%s) cannot exceed reconnect_max_delay (%s)",
			c.Stream.ReconnectBaseDelay, c.Stream.ReconnectMaxDelay)
	}

	if c.Cache.MaxEntries < 1 {
		return errors.New("cache.max_entries must be >= 1")
	}

	if c.Database.Postgres.Host != "" {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
