package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Redis invalidates cache keys on a redis backend.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to redis at addr and verifies the connection.
func NewRedis(addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{client: client}, nil
}

func (r *Redis) Close() error { return r.client.Close() }

// Purge deletes the given keys. Keys containing '*' are expanded with
// SCAN so the wildcard semantics match the cache backend's.
func (r *Redis) Purge(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if !strings.Contains(key, "*") {
			if err := r.client.Del(ctx, key).Err(); err != nil {
				return fmt.Errorf("del %s: %w", key, err)
			}
			continue
		}

		iter := r.client.Scan(ctx, 0, key, 100).Iterator()
		var expanded []string
		for iter.Next(ctx) {
			expanded = append(expanded, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan %s: %w", key, err)
		}
		if len(expanded) == 0 {
			continue
		}
		if err := r.client.Del(ctx, expanded...).Err(); err != nil {
			return fmt.Errorf("del %s: %w", key, err)
		}
		log.WithFields(log.Fields{"pattern": key, "count": len(expanded)}).Debug("purged wildcard cache keys")
	}
	return nil
}
