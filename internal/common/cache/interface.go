package cache

import (
	"context"
	"time"
)

// Cache is the subset of Redis operations the services rely on.
type Cache interface {
	BasicOps
	SetOps

	Ping(ctx context.Context) error
	Close() error
}

// BasicOps covers string keys. Get returns "" without error on a miss.
type BasicOps interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

// SetOps covers Redis sets.
type SetOps interface {
	SAdd(ctx context.Context, key string, members ...interface{}) error
	SRem(ctx context.Context, key string, members ...interface{}) error
	SIsMember(ctx context.Context, key string, member interface{}) (bool, error)
}
