package service

import (
	"context"
	"testing"
	"time"

	"solveq/internal/common/auth"
	"solveq/internal/common/cache"
	"solveq/internal/common/db"
	"solveq/internal/common/events"
	"solveq/internal/common/metrics"
	"solveq/internal/common/mq"
	"solveq/internal/common/storage"
	"solveq/internal/problem/model"
	"solveq/internal/problem/repository"
	"solveq/internal/testutil"
	userrepo "solveq/internal/user/repository"
	userservice "solveq/internal/user/service"

	"github.com/stretchr/testify/require"
)

type fixture struct {
	t        *testing.T
	db       *db.SQLDatabase
	svc      *ProblemService
	producer *testutil.RecordingProducer
	objects  *storage.MemoryStorage
	users    userrepo.UserRepository
	blocks   *userservice.BlockService
	problems repository.ProblemRepository
	inputs   repository.InputRepository
	results  repository.ResultRepository
	metrics  *metrics.Collector
	topics   events.Topics

	owner   auth.Identity
	modelID int64
}

func newFixture(t *testing.T, credits int64, price float64) *fixture {
	return newFixtureWithPolicy(t, credits, price, DropEmptyResult)
}

func newFixtureWithPolicy(t *testing.T, credits int64, price float64, policy EmptyResultPolicy) *fixture {
	t.Helper()
	database := testutil.NewSQLite(t)
	producer := testutil.NewRecordingProducer()
	objects := storage.NewMemoryStorage()
	collector := metrics.NewCollector("problem-test")

	users := userrepo.NewUserRepository(database)
	blockCache := userrepo.NewBlockCacheRepository(cache.NewLRUCache(32, time.Minute), nil, time.Minute, 0)
	projection := userservice.NewBlockProjection(blockCache, users)
	topics := events.DefaultTopics()

	f := &fixture{
		t:        t,
		db:       database,
		producer: producer,
		objects:  objects,
		users:    users,
		blocks:   userservice.NewBlockService(users, projection, producer, topics.BlockUser),
		problems: repository.NewProblemRepository(database),
		inputs:   repository.NewInputRepository(database),
		results:  repository.NewResultRepository(database),
		metrics:  collector,
		topics:   topics,
	}
	f.svc = NewProblemService(Dependencies{
		DB:                database,
		Problems:          f.problems,
		Inputs:            f.inputs,
		Results:           f.results,
		Models:            repository.NewModelRepository(database, nil),
		Users:             users,
		BlockWriter:       f.blocks,
		BlockReader:       projection,
		Payloads:          storage.NewCompressedStore(objects, "results"),
		Producer:          producer,
		Metrics:           collector,
		Topics:            topics,
		EmptyResultPolicy: policy,
	})

	f.owner = auth.Identity{UserID: testutil.SeedUser(t, database, "owner", credits), Role: auth.RoleUser}
	f.modelID = testutil.SeedModel(t, database, "cbc", price)
	return f
}

func (f *fixture) ctx() context.Context {
	return context.Background()
}

// readyProblem creates a problem with input uploaded.
func (f *fixture) readyProblem(name string) *model.Problem {
	f.t.Helper()
	p, err := f.svc.CreateProblem(f.ctx(), f.owner, CreateInput{Name: name, ModelID: f.modelID})
	require.NoError(f.t, err)
	p, err = f.svc.UploadInputData(f.ctx(), f.owner, p.ID, UploadInput{InputData: `{"items":[1,2,3]}`, Metadata: `{"timeLimit":10}`})
	require.NoError(f.t, err)
	require.Equal(f.t, model.StatusReady, p.Status)
	return p
}

// runningProblem walks a problem to RUNNING.
func (f *fixture) runningProblem(name string) *model.Problem {
	f.t.Helper()
	p := f.readyProblem(name)
	_, err := f.svc.RunProblem(f.ctx(), f.owner, p.ID)
	require.NoError(f.t, err)
	require.NoError(f.t, f.svc.HandleExecuteResponse(f.ctx(), f.message(events.ExecuteResponse{ProblemID: events.ID(p.ID)})))
	require.Equal(f.t, model.StatusRunning, f.status(p.ID))
	return p
}

func (f *fixture) message(payload interface{}) *mq.Message {
	f.t.Helper()
	msg, err := events.Encode("", 0, payload)
	require.NoError(f.t, err)
	return msg
}

func (f *fixture) status(problemID int64) model.Status {
	f.t.Helper()
	p, err := f.problems.Get(f.ctx(), nil, problemID)
	require.NoError(f.t, err)
	return p.Status
}

func (f *fixture) user() *userrepo.User {
	f.t.Helper()
	u, err := f.users.Get(f.ctx(), nil, f.owner.UserID)
	require.NoError(f.t, err)
	return u
}

func (f *fixture) charges() []events.ChargeUser {
	f.t.Helper()
	var out []events.ChargeUser
	for _, msg := range f.producer.OnTopic(f.topics.ChargeUser) {
		var c events.ChargeUser
		require.NoError(f.t, events.Decode(msg, &c))
		out = append(out, c)
	}
	return out
}
