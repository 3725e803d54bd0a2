package repository

import (
	"context"
	"testing"
	"time"

	"solveq/internal/common/cache"
	"solveq/internal/credit/model"
	"solveq/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionInsertIgnoresDuplicates(t *testing.T) {
	database := testutil.NewSQLite(t)
	repo := NewTransactionRepository(database)
	ctx := context.Background()
	problemID := int64(12)
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	inserted, err := repo.Insert(ctx, nil, &model.Transaction{
		ID: "t-1", UserID: 3, Amount: 20, Type: "ADD_CREDITS", Description: "Credits added", CreatedAt: base,
	})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.Insert(ctx, nil, &model.Transaction{
		ID: "t-2", UserID: 3, Amount: -7, Type: "CHARGE", ProblemID: &problemID, Description: "Problem execution fees", CreatedAt: base.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.Insert(ctx, nil, &model.Transaction{
		ID: "t-2", UserID: 3, Amount: -7, Type: "CHARGE", Description: "again", CreatedAt: base.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.False(t, inserted)

	entries, err := repo.ListByUser(ctx, 3, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "t-2", entries[0].ID)
	require.NotNil(t, entries[0].ProblemID)
	assert.Equal(t, problemID, *entries[0].ProblemID)
	assert.Nil(t, entries[1].ProblemID)
	assert.Equal(t, int64(20), entries[1].Amount)

	entries, err = repo.ListByUser(ctx, 3, 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	entries, err = repo.ListByUser(ctx, 4, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestChargeDedupe(t *testing.T) {
	mr := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	require.NoError(t, err)
	dedupe := NewChargeDedupe(redisCache, time.Hour)
	ctx := context.Background()

	first, err := dedupe.Claim(ctx, "charge:1:abc")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := dedupe.Claim(ctx, "charge:1:abc")
	require.NoError(t, err)
	assert.False(t, second)

	require.NoError(t, dedupe.Release(ctx, "charge:1:abc"))
	again, err := dedupe.Claim(ctx, "charge:1:abc")
	require.NoError(t, err)
	assert.True(t, again)

	mr.FastForward(2 * time.Hour)
	expired, err := dedupe.Claim(ctx, "charge:1:abc")
	require.NoError(t, err)
	assert.True(t, expired, "claims expire after the ttl")

	open, err := NewChargeDedupe(nil, 0).Claim(ctx, "charge:1:abc")
	require.NoError(t, err)
	assert.True(t, open)
}
