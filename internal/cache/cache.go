package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a best-effort key/value layer over opaque byte payloads. It is
// never authoritative: every method degrades to a miss or a no-op on backend
// failure, and callers must not depend on it for correctness.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	DeletePrefix(ctx context.Context, prefix string)
}

// IssuesPrefix namespaces every issue-listing cache entry so mutations can
// invalidate them in one prefix sweep.
const IssuesPrefix = "issues:"

// Key builds a deterministic cache key from sorted name/value parts.
func Key(prefix, keyType string, parts map[string]string) string {
	names := make([]string, 0, len(parts))
	for name, v := range parts {
		if v == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(keyType)
	for _, name := range names {
		fmt.Fprintf(&b, ":%s=%s", name, parts[name])
	}
	return b.String()
}

// Redis implements Cache on a go-redis client.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	return &Redis{client: client, logger: logger}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	value, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Error("Cache read error", "key", key, "error", err)
		}
		return nil, false
	}
	return value, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.logger.Error("Cache write error", "key", key, "error", err)
	}
}

func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.logger.Error("Cache delete error", "key", key, "error", err)
	}
}

// DeletePrefix removes every key under prefix using SCAN, so it stays safe on
// a shared Redis with large keyspaces.
func (r *Redis) DeletePrefix(ctx context.Context, prefix string) {
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == 100 {
			r.deleteKeys(ctx, keys)
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		r.logger.Error("Cache scan error", "prefix", prefix, "error", err)
	}
	if len(keys) > 0 {
		r.deleteKeys(ctx, keys)
	}
}

func (r *Redis) deleteKeys(ctx context.Context, keys []string) {
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.logger.Error("Cache bulk delete error", "count", len(keys), "error", err)
	}
}
