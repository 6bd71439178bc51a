package database

import (
	"context"
	"fmt"
	"time"

	"github.com/priceloom/feedgate/pkg/common/config"
	"github.com/priceloom/feedgate/pkg/common/logger"
	"github.com/redis/go-redis/v9"
)

// NewRedis builds a client from config and verifies connectivity. A failed
// ping is logged but not fatal so the service can start while Redis recovers.
func NewRedis(cfg *config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Log.WithError(err).Error("Failed to connect to Redis")
	} else {
		logger.Log.Info("Connected to Redis")
	}

	return client
}
