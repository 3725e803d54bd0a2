package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"solveq/internal/common/auth"
	"solveq/internal/common/cache"
	"solveq/internal/common/events"
	"solveq/internal/common/metrics"
	"solveq/internal/common/mq"
	"solveq/internal/common/storage"
	creditrepo "solveq/internal/credit/repository"
	creditservice "solveq/internal/credit/service"
	"solveq/internal/problem/model"
	"solveq/internal/problem/repository"
	"solveq/internal/testutil"
	userrepo "solveq/internal/user/repository"
	userservice "solveq/internal/user/service"
	pkgerrors "solveq/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// solverStub records execute requests like an external solver would.
type solverStub struct {
	mu       sync.Mutex
	requests []events.ExecuteRequest
}

func (s *solverStub) handle(ctx context.Context, message *mq.Message) error {
	var req events.ExecuteRequest
	if err := events.Decode(message, &req); err != nil {
		return err
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return nil
}

type flow struct {
	t       *testing.T
	bus     *mq.MemoryQueue
	problem *ProblemService
	credits *creditservice.CreditService
	users   userrepo.UserRepository
	solver  *solverStub
	topics  events.Topics
	owner   auth.Identity
	modelID int64
}

// newFlow wires both services over one in-process bus and database.
func newFlow(t *testing.T, credits int64, price float64) *flow {
	t.Helper()
	ctx := context.Background()
	database := testutil.NewSQLite(t)
	bus := mq.NewMemoryQueue()
	t.Cleanup(func() { _ = bus.Close() })
	topics := events.DefaultTopics()

	users := userrepo.NewUserRepository(database)
	blockCache := userrepo.NewBlockCacheRepository(cache.NewLRUCache(32, time.Minute), nil, time.Minute, 0)
	projection := userservice.NewBlockProjection(blockCache, users)
	mr := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	require.NoError(t, err)

	f := &flow{t: t, bus: bus, users: users, solver: &solverStub{}, topics: topics}
	f.problem = NewProblemService(Dependencies{
		DB:          database,
		Problems:    repository.NewProblemRepository(database),
		Inputs:      repository.NewInputRepository(database),
		Results:     repository.NewResultRepository(database),
		Models:      repository.NewModelRepository(database, nil),
		Users:       users,
		BlockWriter: userservice.NewBlockService(users, projection, bus, topics.BlockUser),
		BlockReader: projection,
		Payloads:    storage.NewCompressedStore(storage.NewMemoryStorage(), "results"),
		Producer:    bus,
		Metrics:     metrics.NewCollector("problem-flow"),
		Topics:      topics,
	})
	f.credits = creditservice.NewCreditService(creditservice.Dependencies{
		DB:           database,
		Users:        users,
		Transactions: creditrepo.NewTransactionRepository(database),
		Dedupe:       creditrepo.NewChargeDedupe(redisCache, time.Hour),
		Producer:     bus,
		Metrics:      metrics.NewCollector("credit-flow"),
		Topics:       topics,
	})

	require.NoError(t, NewSolverConsumer(bus, f.problem, "problem", time.Second).Subscribe(ctx))
	require.NoError(t, creditservice.NewCreditConsumer(bus, f.credits, "credit", time.Second).Subscribe(ctx))
	require.NoError(t, userservice.NewBlockEventConsumer(bus, projection).Subscribe(ctx, topics.BlockUser, "problem-block"))
	require.NoError(t, bus.SubscribeWithOptions(ctx, topics.ExecuteRequest, f.solver.handle, nil))
	require.NoError(t, bus.Start())

	f.owner = auth.Identity{UserID: testutil.SeedUser(t, database, "grace", credits), Role: auth.RoleUser}
	f.modelID = testutil.SeedModel(t, database, "knapsack", price)
	return f
}

func (f *flow) publish(topic string, payload interface{}) {
	f.t.Helper()
	msg, err := events.Encode("", 0, payload)
	require.NoError(f.t, err)
	require.NoError(f.t, f.bus.Publish(context.Background(), topic, msg))
}

func (f *flow) balance() int64 {
	f.t.Helper()
	b, err := f.credits.GetCredits(context.Background(), f.owner, f.owner.UserID)
	require.NoError(f.t, err)
	return b.Credits
}

// run uploads input, runs the problem and lets the solver answer.
func (f *flow) run(problemID int64, executionTime float64) {
	f.t.Helper()
	ctx := context.Background()
	_, err := f.problem.UploadInputData(ctx, f.owner, problemID, UploadInput{InputData: `{"w":[3,4]}`})
	require.NoError(f.t, err)
	p, err := f.problem.RunProblem(ctx, f.owner, problemID)
	require.NoError(f.t, err)
	require.Equal(f.t, model.StatusPending, p.Status)

	f.publish(f.topics.ExecuteResponse, events.ExecuteResponse{ProblemID: events.ID(problemID)})
	f.publish(f.topics.Result, events.Result{ProblemID: events.ID(problemID), ExecutionTime: executionTime, Result: `{"best":7}`})
}

func TestSettlementFlowChargesThroughCreditService(t *testing.T) {
	f := newFlow(t, 20, 1.5)
	ctx := context.Background()
	p, err := f.problem.CreateProblem(ctx, f.owner, CreateInput{Name: "pack", ModelID: f.modelID})
	require.NoError(t, err)

	f.run(p.ID, 4)
	require.Len(t, f.solver.requests, 1)
	assert.Equal(t, `{"w":[3,4]}`, f.solver.requests[0].InputData)

	view, err := f.problem.GetResult(ctx, f.owner, p.ID)
	require.NoError(t, err)
	assert.True(t, view.IsAvailable)
	assert.Equal(t, int64(6), view.Cost)
	require.NotNil(t, view.Data)
	assert.Equal(t, `{"best":7}`, *view.Data)
	assert.Equal(t, int64(14), f.balance())

	// a redelivered result neither re-executes nor re-charges
	f.publish(f.topics.Result, events.Result{ProblemID: events.ID(p.ID), ExecutionTime: 4, Result: `{"best":7}`})
	assert.Equal(t, int64(14), f.balance())

	ledger, err := f.credits.ListTransactions(ctx, f.owner, f.owner.UserID, 10)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, int64(-6), ledger[0].Amount)
	assert.Equal(t, events.TransactionCharge, ledger[0].Type)
}

func TestSettlementFlowBlocksUntilTopUp(t *testing.T) {
	f := newFlow(t, 2, 3)
	ctx := context.Background()
	first, err := f.problem.CreateProblem(ctx, f.owner, CreateInput{Name: "first", ModelID: f.modelID})
	require.NoError(t, err)
	second, err := f.problem.CreateProblem(ctx, f.owner, CreateInput{Name: "second", ModelID: f.modelID})
	require.NoError(t, err)

	f.run(first.ID, 3)
	view, err := f.problem.GetResult(ctx, f.owner, first.ID)
	require.NoError(t, err)
	assert.False(t, view.IsAvailable)
	assert.Nil(t, view.Data)
	assert.Equal(t, int64(9), view.Cost)
	assert.Equal(t, int64(2), f.balance())

	_, err = f.problem.UploadInputData(ctx, f.owner, second.ID, UploadInput{InputData: "{}"})
	require.NoError(t, err)
	_, err = f.problem.RunProblem(ctx, f.owner, second.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.UserBlocked))

	_, err = f.problem.PayResult(ctx, f.owner, first.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.InsufficientCredits))

	_, err = f.credits.AddCredits(ctx, f.owner, f.owner.UserID, 10)
	require.NoError(t, err)
	view, err = f.problem.PayResult(ctx, f.owner, first.ID)
	require.NoError(t, err)
	assert.True(t, view.IsAvailable)
	assert.Equal(t, int64(3), f.balance())

	u, err := f.users.Get(ctx, nil, f.owner.UserID)
	require.NoError(t, err)
	assert.False(t, u.IsBlocked)
	_, err = f.problem.RunProblem(ctx, f.owner, second.ID)
	require.NoError(t, err)

	ledger, err := f.credits.ListTransactions(ctx, f.owner, f.owner.UserID, 10)
	require.NoError(t, err)
	assert.Len(t, ledger, 2)
}
