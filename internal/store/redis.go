package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Redis is a KV backed by a redis server. Keys are namespaced with a prefix so several
// clients can share one database.
type Redis struct {
	inner  *redis.Client
	prefix string
}

// OpenRedis connects using a redis:// URL and pings the server.
func OpenRedis(url, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Redis{inner: client, prefix: prefix}, nil
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

// Get returns the value for key or ErrMissing.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	if r == nil || r.inner == nil {
		return "", errors.New("redis client not initialized")
	}
	v, err := r.inner.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMissing
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return v, nil
}

// Set stores key without expiry.
func (r *Redis) Set(ctx context.Context, key, value string) error {
	if r == nil || r.inner == nil {
		return errors.New("redis client not initialized")
	}
	if err := r.inner.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if r == nil || r.inner == nil {
		return errors.New("redis client not initialized")
	}
	return r.inner.Del(ctx, r.key(key)).Err()
}

// Close closes client.
func (r *Redis) Close() error {
	if r == nil || r.inner == nil {
		return nil
	}
	return r.inner.Close()
}
