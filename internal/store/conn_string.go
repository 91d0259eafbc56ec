package store

import (
	"fmt"
	"net/url"

	"github.com/joonwoo-kim/upbit-feed/internal/config"
)

// ConnString renders cfg as a pgx-compatible PostgreSQL URL. Credentials are
// escaped, so passwords may carry any symbol. An unset sslmode falls back to
// "prefer".
func ConnString(cfg config.DBConfig) string {
	mode := cfg.SSLMode
	if mode == "" {
		mode = "prefer"
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: "sslmode=" + mode,
	}
	return u.String()
}
