package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "studybuddy:"

// RedisKV implements KV on Redis. Keys are laid out as
// <prefix><namespace>:<key>; a non-zero ttl is refreshed on every write.
type RedisKV struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ KV = (*RedisKV)(nil)

// NewRedisKV creates a Redis-backed KV.
func NewRedisKV(client *redis.Client, prefix string, ttl time.Duration) *RedisKV {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisKV{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisKV) key(ns, key string) string {
	return s.prefix + ns + ":" + key
}

// Get implements KV.
func (s *RedisKV) Get(ctx context.Context, ns, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.key(ns, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

// Set implements KV.
func (s *RedisKV) Set(ctx context.Context, ns, key, value string) error {
	if err := s.client.Set(ctx, s.key(ns, key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete implements KV.
func (s *RedisKV) Delete(ctx context.Context, ns, key string) error {
	if err := s.client.Del(ctx, s.key(ns, key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Take implements KV using GETDEL, which Redis executes atomically.
func (s *RedisKV) Take(ctx context.Context, ns, key string) (string, bool, error) {
	val, err := s.client.GetDel(ctx, s.key(ns, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis getdel %s: %w", key, err)
	}
	return val, true, nil
}

// Keys implements KV.
func (s *RedisKV) Keys(ctx context.Context, ns, prefix string) ([]string, error) {
	base := s.key(ns, "")
	var keys []string
	iter := s.client.Scan(ctx, 0, escapeGlob(base+prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), base))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// DeleteNamespace implements KV.
func (s *RedisKV) DeleteNamespace(ctx context.Context, ns string) (int64, error) {
	var full []string
	iter := s.client.Scan(ctx, 0, escapeGlob(s.key(ns, ""))+"*", 100).Iterator()
	for iter.Next(ctx) {
		full = append(full, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan: %w", err)
	}
	if len(full) == 0 {
		return 0, nil
	}
	deleted, err := s.client.Del(ctx, full...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del namespace: %w", err)
	}
	return deleted, nil
}

// Close implements KV.
func (s *RedisKV) Close() error {
	return s.client.Close()
}

// escapeGlob escapes the characters Redis MATCH patterns treat specially.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
