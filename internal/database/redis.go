package database

import (
	"context"
	"log"

	"github.com/go-redis/redis/v8"

	"github.com/coralbank/backend/internal/config"
)

// InitRedis returns a verified Redis client, or nil if Redis is unreachable.
// Callers must tolerate a nil client; the service degrades to no blacklist
// checks and no receive-QR support.
func InitRedis(cfg config.RedisConfig) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("Redis connection failed, continuing without Redis: %v", err)
		return nil
	}

	log.Println("Redis connection established")
	return rdb
}
