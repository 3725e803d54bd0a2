package repository

import (
	"context"
	"testing"
	"time"

	"solveq/internal/common/cache"
	"solveq/internal/common/db"
	"solveq/internal/problem/model"
	"solveq/internal/problem/statemachine"
	"solveq/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProblem(t *testing.T, repo ProblemRepository, userID, modelID int64, name string) *model.Problem {
	t.Helper()
	p := &model.Problem{UserID: userID, ModelID: modelID, Name: name, Status: model.StatusNotReady}
	_, err := repo.Create(context.Background(), nil, p)
	require.NoError(t, err)
	return p
}

func TestProblemCreateAndUniqueName(t *testing.T) {
	database := testutil.NewSQLite(t)
	repo := NewProblemRepository(database)
	ctx := context.Background()

	p := newProblem(t, repo, 1, 1, "knapsack")
	assert.Positive(t, p.ID)

	_, err := repo.Create(ctx, nil, &model.Problem{UserID: 1, ModelID: 1, Name: "knapsack"})
	assert.ErrorIs(t, err, ErrProblemNameTaken)

	// the same name in another user's namespace is fine
	newProblem(t, repo, 2, 1, "knapsack")

	got, err := repo.Get(ctx, nil, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "knapsack", got.Name)
	assert.Equal(t, model.StatusNotReady, got.Status)
	assert.Nil(t, got.ExecutedOn)

	_, err = repo.Get(ctx, nil, 999)
	assert.ErrorIs(t, err, ErrProblemNotFound)
}

func TestProblemTransitionIsGuardedByStatus(t *testing.T) {
	database := testutil.NewSQLite(t)
	repo := NewProblemRepository(database)
	ctx := context.Background()
	p := newProblem(t, repo, 1, 1, "vrp")

	applied, err := repo.Transition(ctx, nil, p.ID, statemachine.EventRunRequested, time.Now())
	require.NoError(t, err)
	assert.False(t, applied, "NOT_READY cannot run")

	for _, ev := range []statemachine.Event{
		statemachine.EventInputUploaded,
		statemachine.EventRunRequested,
		statemachine.EventSolverAck,
	} {
		applied, err := repo.Transition(ctx, nil, p.ID, ev, time.Now())
		require.NoError(t, err)
		require.True(t, applied, "event %s", ev)
	}

	executedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	applied, err = repo.Transition(ctx, nil, p.ID, statemachine.EventResultSuccess, executedAt)
	require.NoError(t, err)
	assert.True(t, applied)

	// a duplicate result finds EXECUTED and does nothing
	applied, err = repo.Transition(ctx, nil, p.ID, statemachine.EventResultSuccess, time.Now())
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := repo.Get(ctx, nil, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExecuted, got.Status)
	require.NotNil(t, got.ExecutedOn)
	assert.True(t, executedAt.Equal(*got.ExecutedOn))

	applied, err = repo.Transition(ctx, nil, 12345, statemachine.EventInputUploaded, time.Now())
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestResendFromPendingCountsAsApplied(t *testing.T) {
	database := testutil.NewSQLite(t)
	repo := NewProblemRepository(database)
	ctx := context.Background()
	p := newProblem(t, repo, 1, 1, "tsp")

	for _, ev := range []statemachine.Event{statemachine.EventInputUploaded, statemachine.EventRunRequested} {
		_, err := repo.Transition(ctx, nil, p.ID, ev, time.Now())
		require.NoError(t, err)
	}

	// PENDING -> PENDING rewrites the status with its current value
	applied, err := repo.Transition(ctx, nil, p.ID, statemachine.EventResend, time.Now())
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := repo.Get(ctx, nil, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
}

func TestProblemDeleteAndRestoreRoundTrip(t *testing.T) {
	database := testutil.NewSQLite(t)
	repo := NewProblemRepository(database)
	ctx := context.Background()
	p := newProblem(t, repo, 3, 2, "tsp")
	_, err := repo.Transition(ctx, nil, p.ID, statemachine.EventInputUploaded, time.Now())
	require.NoError(t, err)

	before, err := repo.Get(ctx, nil, p.ID)
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, nil, p.ID))
	assert.ErrorIs(t, repo.Delete(ctx, nil, p.ID), ErrProblemNotFound)

	require.NoError(t, repo.Restore(ctx, nil, before))
	after, err := repo.Get(ctx, nil, p.ID)
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.Name, after.Name)
	assert.Equal(t, before.Status, after.Status)
	assert.True(t, before.SubmittedOn.Equal(after.SubmittedOn))
}

func TestInputReplaceClearsError(t *testing.T) {
	database := testutil.NewSQLite(t)
	repo := NewInputRepository(database)
	ctx := context.Background()

	_, err := repo.GetInput(ctx, nil, 7)
	assert.ErrorIs(t, err, ErrInputNotFound)

	require.NoError(t, repo.ReplaceInput(ctx, nil, &model.InputData{ProblemID: 7, Payload: `{"a":1}`}))
	ok, err := repo.SetInputError(ctx, nil, 7, "bad matrix")
	require.NoError(t, err)
	assert.True(t, ok)

	in, err := repo.GetInput(ctx, nil, 7)
	require.NoError(t, err)
	assert.Equal(t, "bad matrix", in.Error)

	require.NoError(t, repo.ReplaceInput(ctx, nil, &model.InputData{ProblemID: 7, Payload: `{"a":2}`}))
	in, err = repo.GetInput(ctx, nil, 7)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, in.Payload)
	assert.Empty(t, in.Error)

	ok, err = repo.SetInputError(ctx, nil, 8, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.DeleteInput(ctx, nil, 7))
	require.NoError(t, repo.DeleteInput(ctx, nil, 7))
}

func TestMetadataDefaultsToEmpty(t *testing.T) {
	database := testutil.NewSQLite(t)
	repo := NewInputRepository(database)
	ctx := context.Background()

	md, err := repo.GetMetadata(ctx, nil, 1)
	require.NoError(t, err)
	assert.Empty(t, md.Payload)

	require.NoError(t, repo.ReplaceMetadata(ctx, nil, &model.Metadata{ProblemID: 1, Payload: `{"timeLimit":5}`}))
	require.NoError(t, repo.ReplaceMetadata(ctx, nil, &model.Metadata{ProblemID: 1, Payload: `{"timeLimit":9}`}))
	md, err = repo.GetMetadata(ctx, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, `{"timeLimit":9}`, md.Payload)
}

func TestResultLifecycle(t *testing.T) {
	database := testutil.NewSQLite(t)
	repo := NewResultRepository(database)
	ctx := context.Background()

	res := &model.Result{
		ID:            "r-1",
		ProblemID:     4,
		ObjectKey:     "results/4/r-1.zst",
		ExecutionTime: 3.4,
		Cost:          7,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, repo.Create(ctx, nil, res))
	dup := *res
	dup.ID = "r-2"
	assert.ErrorIs(t, repo.Create(ctx, nil, &dup), ErrResultExists)

	changed, err := repo.SetAvailable(ctx, nil, 4, true)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = repo.SetAvailable(ctx, nil, 4, true)
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := repo.Get(ctx, nil, 4)
	require.NoError(t, err)
	assert.True(t, got.IsAvailable)
	assert.Equal(t, int64(7), got.Cost)

	removed, err := repo.DeleteByProblem(ctx, nil, 4)
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Equal(t, "results/4/r-1.zst", removed.ObjectKey)

	removed, err = repo.DeleteByProblem(ctx, nil, 4)
	require.NoError(t, err)
	assert.Nil(t, removed)
}

func TestResultCreateRollsBackWithTransaction(t *testing.T) {
	database := testutil.NewSQLite(t)
	repo := NewResultRepository(database)
	ctx := context.Background()

	err := database.Transaction(ctx, func(tx db.Transaction) error {
		if err := repo.Create(ctx, tx, &model.Result{ID: "r", ProblemID: 9, CreatedAt: time.Now()}); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	_, err = repo.Get(ctx, nil, 9)
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestModelPriceIsCached(t *testing.T) {
	database := testutil.NewSQLite(t)
	mr := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	require.NoError(t, err)

	modelID := testutil.SeedModel(t, database, "cbc", 2)
	repo := NewModelRepository(database, redisCache)
	ctx := context.Background()

	m, err := repo.Get(ctx, modelID)
	require.NoError(t, err)
	assert.Equal(t, 2.0, m.Price)
	assert.True(t, mr.Exists(modelKey(modelID)))

	// the cached price wins until invalidated
	_, err = database.Exec(ctx, "UPDATE models SET price = 5 WHERE id = ?", modelID)
	require.NoError(t, err)
	m, err = repo.Get(ctx, modelID)
	require.NoError(t, err)
	assert.Equal(t, 2.0, m.Price)

	require.NoError(t, repo.InvalidateCache(ctx, modelID))
	m, err = repo.Get(ctx, modelID)
	require.NoError(t, err)
	assert.Equal(t, 5.0, m.Price)

	_, err = repo.Get(ctx, 404)
	assert.ErrorIs(t, err, ErrModelNotFound)
	got, _ := mr.Get(modelKey(404))
	assert.Equal(t, cache.NullCacheValue, got)
}
