package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"solveq/internal/common/cache"
)

const (
	userBlockedKey = "user:blocked"
	userSyncedKey  = "user:block:synced"
)

// ErrBlockStateUnknown means the projection has never seen the user.
var ErrBlockStateUnknown = errors.New("block state not projected")

// BlockCacheRepository holds the replicated block flags: a local LRU in front
// of two Redis sets. userSyncedKey records which users have a known state so
// an absent member of userBlockedKey can be trusted as "not blocked".
type BlockCacheRepository struct {
	local        *cache.LRUCache
	redis        cache.SetOps
	localTTL     time.Duration
	redisTimeout time.Duration
}

func NewBlockCacheRepository(local *cache.LRUCache, redis cache.SetOps, localTTL, redisTimeout time.Duration) *BlockCacheRepository {
	if redisTimeout <= 0 {
		redisTimeout = 200 * time.Millisecond
	}
	return &BlockCacheRepository{
		local:        local,
		redis:        redis,
		localTTL:     localTTL,
		redisTimeout: redisTimeout,
	}
}

// Lookup returns the projected flag, or ErrBlockStateUnknown.
func (r *BlockCacheRepository) Lookup(ctx context.Context, userID int64) (bool, error) {
	key := strconv.FormatInt(userID, 10)
	if r.local != nil {
		if val, ok := r.local.Get(key); ok {
			return val, nil
		}
	}
	if r.redis == nil {
		return false, ErrBlockStateUnknown
	}

	ctxCache, cancel := context.WithTimeout(ctx, r.redisTimeout)
	defer cancel()
	synced, err := r.redis.SIsMember(ctxCache, userSyncedKey, userID)
	if err != nil {
		return false, err
	}
	if !synced {
		return false, ErrBlockStateUnknown
	}
	blocked, err := r.redis.SIsMember(ctxCache, userBlockedKey, userID)
	if err != nil {
		return false, err
	}
	if r.local != nil {
		r.local.Set(key, blocked, r.localTTL)
	}
	return blocked, nil
}

// Store records the flag in Redis and the local cache.
func (r *BlockCacheRepository) Store(ctx context.Context, userID int64, blocked bool) error {
	if r.local != nil {
		r.local.Set(strconv.FormatInt(userID, 10), blocked, r.localTTL)
	}
	if r.redis == nil {
		return nil
	}
	ctxCache, cancel := context.WithTimeout(ctx, r.redisTimeout)
	defer cancel()
	if blocked {
		if err := r.redis.SAdd(ctxCache, userBlockedKey, userID); err != nil {
			return err
		}
	} else if err := r.redis.SRem(ctxCache, userBlockedKey, userID); err != nil {
		return err
	}
	return r.redis.SAdd(ctxCache, userSyncedKey, userID)
}
