package state

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/floworc/floworc/internal/config"
)

// NewClient creates a Redis client from the configuration. A URL takes
// precedence over host settings and supports redis:// and rediss:// schemes.
func NewClient(cfg config.Redis) (redis.UniversalClient, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		if cfg.Password != "" {
			opts.Password = cfg.Password
		}
		if cfg.Username != "" {
			opts.Username = cfg.Username
		}
		return redis.NewClient(opts), nil
	}

	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}
