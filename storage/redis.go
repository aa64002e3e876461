// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is the key prefix used by RedisKV unless WithPrefix is
// provided.
const DefaultRedisPrefix = "gladview:"

// RedisKV is a KV backed by redis.  TTLs are enforced by redis itself.  It
// owns its client, see Close.
type RedisKV struct {
	client redis.UniversalClient
	prefix string
}

var _ KV = (*RedisKV)(nil)

// NewRedisKV creates a RedisKV using an existing client.
// Supported options: WithPrefix
func NewRedisKV(client redis.UniversalClient, opt ...Option) (*RedisKV, error) {
	const op = "storage.NewRedisKV"
	if client == nil {
		return nil, fmt.Errorf("%s: client is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	prefix := DefaultRedisPrefix
	if opts.withPrefix != "" {
		prefix = opts.withPrefix
	}
	return &RedisKV{
		client: client,
		prefix: prefix,
	}, nil
}

// DialRedis connects to addr and pings the server before returning the client.
func DialRedis(ctx context.Context, addr, password string) (*redis.Client, error) {
	const op = "storage.DialRedis"
	if addr == "" {
		return nil, fmt.Errorf("%s: addr is empty: %w", op, ErrInvalidParameter)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s: unable to reach %s: %w", op, addr, err)
	}
	return client, nil
}

// Close closes the redis client of the RedisKV.
func (r *RedisKV) Close() error {
	const op = "RedisKV.Close"
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *RedisKV) key(k string) string {
	return r.prefix + k
}

// Get implements KV.Get
func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	const op = "RedisKV.Get"
	if err := validKey(key); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	v, err := r.client.Get(ctx, r.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("%s: %q: %w", op, key, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

// Set implements KV.Set
func (r *RedisKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	const op = "RedisKV.Set"
	if err := validKey(key); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ttl < 0 {
		return fmt.Errorf("%s: negative ttl: %w", op, ErrInvalidParameter)
	}
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Take implements KV.Take with GETDEL, which is atomic on the server.
func (r *RedisKV) Take(ctx context.Context, key string) ([]byte, error) {
	const op = "RedisKV.Take"
	if err := validKey(key); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	v, err := r.client.GetDel(ctx, r.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("%s: %q: %w", op, key, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

// Delete implements KV.Delete
func (r *RedisKV) Delete(ctx context.Context, key string) error {
	const op = "RedisKV.Delete"
	if err := validKey(key); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
