// Package redis provides a Redis-backed task state store. Each task's
// scope maps onto one Redis hash keyed by the task identifier.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/webreport/scrapetask/internal/task"
)

// Store hands out hash-backed scopes over a shared Redis client.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, url, keyPrefix string) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if keyPrefix == "" {
		keyPrefix = "scrapetask"
	}
	return &Store{client: client, keyPrefix: keyPrefix}, nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

// Scope returns the hash-backed scope for one task identifier.
func (s *Store) Scope(taskID string) task.StateScope {
	return &scope{
		client: s.client,
		key:    fmt.Sprintf("%s:task:%s", s.keyPrefix, taskID),
	}
}

type scope struct {
	client *redis.Client
	key    string
}

func (sc *scope) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := sc.client.HGet(ctx, sc.key, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("hget %s: %w", key, err)
	}
	return value, true, nil
}

func (sc *scope) SetMulti(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	fields := make(map[string]any, len(values))
	for k, v := range values {
		fields[k] = v
	}
	if err := sc.client.HSet(ctx, sc.key, fields).Err(); err != nil {
		return fmt.Errorf("hset state: %w", err)
	}
	return nil
}

func (sc *scope) DeleteMulti(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := sc.client.HDel(ctx, sc.key, keys...).Err(); err != nil {
		return fmt.Errorf("hdel state: %w", err)
	}
	return nil
}
