package redis

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/Digital-Creators-Team/slot-progressives/config"
	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
	"github.com/go-redis/redis/v8"
)

const (
	connectTimeout = 5 * time.Second
	scanBatch      = 100
)

// HashWrite is one field assignment applied by HSetMulti.
type HashWrite struct {
	Key   string
	Field string
	Value []byte
}

// Client is the narrow set of hash operations behind the progressive block store and the
// disable mirror. Failures carry apperrors.ErrRedisError.
type Client struct {
	client *redis.Client
}

// New dials Redis and fails unless it answers PING within connectTimeout
func New(cfg config.RedisConfig) (*Client, error) {
	c := NewFromClient(redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  connectTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// NewFromClient wraps an already configured go-redis client
func NewFromClient(client *redis.Client) *Client {
	return &Client{client: client}
}

func redisError(err error, format string, args ...any) error {
	return apperrors.Wrap(err, apperrors.ErrRedisError, fmt.Sprintf(format, args...))
}

// HGet reads one field; ok is false when the field is absent.
func (r *Client) HGet(ctx context.Context, key, field string) (val []byte, ok bool, err error) {
	val, err = r.client.HGet(ctx, key, field).Bytes()
	switch {
	case stderrors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, redisError(err, "hget %s.%s", key, field)
	}
	return val, true, nil
}

// HGetAll reads a whole hash
func (r *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	val, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, redisError(err, "hgetall %s", key)
	}
	return val, nil
}

// HSetMulti applies all writes in one MULTI/EXEC: every field lands or none does
func (r *Client) HSetMulti(ctx context.Context, writes []HashWrite) error {
	if len(writes) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, w := range writes {
			pipe.HSet(ctx, w.Key, w.Field, w.Value)
		}
		return nil
	})
	if err != nil {
		return redisError(err, "commit %d hash writes", len(writes))
	}
	return nil
}

func (r *Client) HDel(ctx context.Context, key string, fields ...string) error {
	if err := r.client.HDel(ctx, key, fields...).Err(); err != nil {
		return redisError(err, "hdel %s", key)
	}
	return nil
}

// DeleteByPattern removes every key matching pattern and returns how many were removed
func (r *Client) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return removed, redisError(err, "scan %s", pattern)
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, redisError(err, "delete keys for %s", pattern)
			}
			removed += int(n)
		}
		if cursor = next; cursor == 0 {
			return removed, nil
		}
	}
}

func (r *Client) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return redisError(err, "ping %s", r.client.Options().Addr)
	}
	return nil
}

func (r *Client) Close() error {
	return r.client.Close()
}
