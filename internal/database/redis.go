package database

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"recruitment-sync-service/internal/config"
)

// Redis wraps the cache client.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds a client with short timeouts so a slow cache never stalls a request.
func NewRedis(cfg config.RedisConfig) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

func (r *Redis) Close() error {
	return r.Client.Close()
}
