// Package bootstrap wires the process-wide dependencies (DB, Redis,
// message bus) shared by the chat server and dispatcher entrypoints.
package bootstrap

import (
	"fmt"

	"relaycore/internal/cache"
	"relaycore/internal/config"
	"relaycore/internal/database"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Runtime holds the process-wide connections initialized once at start and
// torn down on shutdown (spec §9: global state is process-wide, never
// reinitialized per request).
type Runtime struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// InitRuntime connects to Postgres and Redis.
func InitRuntime(cfg *config.Config) (*Runtime, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	r := cache.GetClient()
	if r == nil {
		return nil, fmt.Errorf("redis connection failed: unable to reach %s", cfg.RedisURL)
	}

	return &Runtime{DB: db, Redis: r}, nil
}
