package repository

import (
	"context"
	"time"

	"solveq/internal/common/cache"
)

const chargeKeyPrefix = "credits:charge:"

// ChargeDedupe remembers which charge messages were already applied. A claim
// is a Redis SETNX on the message id that expires after ttl.
type ChargeDedupe struct {
	cache cache.BasicOps
	ttl   time.Duration
}

func NewChargeDedupe(c cache.BasicOps, ttl time.Duration) *ChargeDedupe {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &ChargeDedupe{cache: c, ttl: ttl}
}

// Claim reports true when messageID has not been claimed before. Without a
// cache every claim succeeds.
func (d *ChargeDedupe) Claim(ctx context.Context, messageID string) (bool, error) {
	if d == nil || d.cache == nil || messageID == "" {
		return true, nil
	}
	return d.cache.SetNX(ctx, chargeKeyPrefix+messageID, "1", d.ttl)
}

// Release forgets a claim so a redelivery of the message is applied.
func (d *ChargeDedupe) Release(ctx context.Context, messageID string) error {
	if d == nil || d.cache == nil || messageID == "" {
		return nil
	}
	return d.cache.Del(ctx, chargeKeyPrefix+messageID)
}
