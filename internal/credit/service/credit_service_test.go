package service

import (
	"context"
	"testing"

	"solveq/internal/common/auth"
	"solveq/internal/common/cache"
	"solveq/internal/common/events"
	"solveq/internal/common/metrics"
	"solveq/internal/common/mq"
	"solveq/internal/credit/repository"
	"solveq/internal/testutil"
	userrepo "solveq/internal/user/repository"
	pkgerrors "solveq/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type creditFixture struct {
	t        *testing.T
	svc      *CreditService
	users    userrepo.UserRepository
	ledger   repository.TransactionRepository
	producer *testutil.RecordingProducer
	metrics  *metrics.Collector
	redis    *miniredis.Miniredis
	topics   events.Topics
	userID   int64
}

func newCreditFixture(t *testing.T, credits int64) *creditFixture {
	t.Helper()
	database := testutil.NewSQLite(t)
	mr := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	require.NoError(t, err)

	f := &creditFixture{
		t:        t,
		users:    userrepo.NewUserRepository(database),
		ledger:   repository.NewTransactionRepository(database),
		producer: testutil.NewRecordingProducer(),
		metrics:  metrics.NewCollector("credit-test"),
		redis:    mr,
		topics:   events.DefaultTopics(),
	}
	f.svc = NewCreditService(Dependencies{
		DB:           database,
		Users:        f.users,
		Transactions: f.ledger,
		Dedupe:       repository.NewChargeDedupe(redisCache, 0),
		Producer:     f.producer,
		Metrics:      f.metrics,
		Topics:       f.topics,
	})
	f.userID = testutil.SeedUser(t, database, "ada", credits)
	return f
}

func (f *creditFixture) credits() int64 {
	f.t.Helper()
	u, err := f.users.Get(context.Background(), nil, f.userID)
	require.NoError(f.t, err)
	return u.Credits
}

func (f *creditFixture) chargeMessage(id string, amount int64) *mq.Message {
	f.t.Helper()
	msg, err := events.Encode(id, f.userID, events.ChargeUser{ID: events.ID(f.userID), Amount: amount, ProblemID: events.IDPtr(77)})
	require.NoError(f.t, err)
	return msg
}

func TestHandleChargeDebitsOnce(t *testing.T) {
	f := newCreditFixture(t, 10)
	ctx := context.Background()
	msg := f.chargeMessage(events.ChargeMessageID(77, "r-1"), 7)

	require.NoError(t, f.svc.HandleCharge(ctx, msg))
	require.NoError(t, f.svc.HandleCharge(ctx, msg))
	assert.Equal(t, int64(3), f.credits())

	created := f.producer.OnTopic(f.topics.TransactionCreated)
	require.Len(t, created, 1)
	var entry events.TransactionCreated
	require.NoError(t, events.Decode(created[0], &entry))
	assert.Equal(t, int64(-7), entry.Amount)
	assert.Equal(t, events.TransactionCharge, entry.Type)
	assert.Equal(t, "Problem execution fees", entry.Description)
	require.NotNil(t, entry.ProblemID)
	assert.Equal(t, events.ID(77), *entry.ProblemID)

	changed := f.producer.OnTopic(f.topics.CreditsChanged)
	require.Len(t, changed, 1)
	var balance events.CreditsChanged
	require.NoError(t, events.Decode(changed[0], &balance))
	assert.Equal(t, int64(3), balance.Credits)
	assert.Equal(t, "ada", balance.Name)

	assert.Equal(t, 1.0, testutil.CounterValue(t, f.metrics.Registry(), "solveq_credit_charges_total",
		map[string]string{"outcome": "duplicate"}))
}

func TestHandleChargeDropsInvalidMessages(t *testing.T) {
	f := newCreditFixture(t, 10)
	ctx := context.Background()

	require.NoError(t, f.svc.HandleCharge(ctx, f.chargeMessage("", 0)))
	unknown, err := events.Encode("charge:1:x", 0, events.ChargeUser{ID: 4040, Amount: 2})
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleCharge(ctx, unknown))
	require.NoError(t, f.svc.HandleCharge(ctx, &mq.Message{ID: "junk", Body: []byte("{")}))

	assert.Equal(t, int64(10), f.credits())
	assert.Empty(t, f.producer.Sent())
	// the unknown-user claim was released
	assert.False(t, f.redis.Exists("credits:charge:charge:1:x"))
}

func TestHandleChargeProceedsWithoutDedupeCache(t *testing.T) {
	f := newCreditFixture(t, 10)
	f.redis.Close()

	require.NoError(t, f.svc.HandleCharge(context.Background(), f.chargeMessage("charge:5:z", 4)))
	assert.Equal(t, int64(6), f.credits())
}

func TestChargePublishFailureKeepsDebit(t *testing.T) {
	f := newCreditFixture(t, 10)
	f.producer.FailTopic(f.topics.TransactionCreated)
	f.producer.FailTopic(f.topics.CreditsChanged)

	require.NoError(t, f.svc.HandleCharge(context.Background(), f.chargeMessage("charge:9:q", 5)))
	assert.Equal(t, int64(5), f.credits())
}

func TestAddCreditsCommitsAndAnnounces(t *testing.T) {
	f := newCreditFixture(t, 10)
	owner := auth.Identity{UserID: f.userID, Role: auth.RoleUser}

	balance, err := f.svc.AddCredits(context.Background(), owner, f.userID, 15)
	require.NoError(t, err)
	assert.Equal(t, int64(25), balance.Credits)

	created := f.producer.OnTopic(f.topics.TransactionCreated)
	require.Len(t, created, 1)
	var entry events.TransactionCreated
	require.NoError(t, events.Decode(created[0], &entry))
	assert.Equal(t, int64(15), entry.Amount)
	assert.Equal(t, events.TransactionAddCredits, entry.Type)
	assert.Equal(t, "Credits added", entry.Description)
	assert.NotEmpty(t, entry.TransactionID)
	assert.Nil(t, entry.ProblemID)

	var changed events.CreditsChanged
	require.NoError(t, events.Decode(f.producer.OnTopic(f.topics.CreditsChanged)[0], &changed))
	assert.Equal(t, int64(25), changed.Credits)
}

func TestAddCreditsRevertsOnPublishFailure(t *testing.T) {
	f := newCreditFixture(t, 10)
	owner := auth.Identity{UserID: f.userID, Role: auth.RoleUser}
	f.producer.FailTopic(f.topics.CreditsChanged)

	_, err := f.svc.AddCredits(context.Background(), owner, f.userID, 15)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.PublishFailed))
	assert.Equal(t, int64(10), f.credits())
	// the ledger message went out before the failure
	assert.Len(t, f.producer.OnTopic(f.topics.TransactionCreated), 1)
	assert.Equal(t, 1.0, testutil.CounterValue(t, f.metrics.Registry(), "solveq_saga_operations_total",
		map[string]string{"operation": "add-credits", "outcome": "reverted"}))
}

func TestAddCreditsPermissions(t *testing.T) {
	f := newCreditFixture(t, 10)
	ctx := context.Background()
	owner := auth.Identity{UserID: f.userID, Role: auth.RoleUser}
	stranger := auth.Identity{UserID: f.userID + 1, Role: auth.RoleUser}
	admin := auth.Identity{UserID: 900, Role: auth.RoleAdmin}

	_, err := f.svc.AddCredits(ctx, stranger, f.userID, 5)
	assert.Equal(t, 401, pkgerrors.GetCode(err).HTTPStatus())

	_, err = f.svc.AddCredits(ctx, owner, f.userID, -5)
	assert.True(t, pkgerrors.Is(err, pkgerrors.InvalidAmount))
	_, err = f.svc.AddCredits(ctx, admin, f.userID, 0)
	assert.True(t, pkgerrors.Is(err, pkgerrors.InvalidAmount))

	balance, err := f.svc.AddCredits(ctx, admin, f.userID, -4)
	require.NoError(t, err)
	assert.Equal(t, int64(6), balance.Credits)

	var entry events.TransactionCreated
	require.NoError(t, events.Decode(f.producer.OnTopic(f.topics.TransactionCreated)[0], &entry))
	assert.Equal(t, "Credits added by administrator 900", entry.Description)

	_, err = f.svc.AddCredits(ctx, admin, 5050, 1)
	assert.True(t, pkgerrors.Is(err, pkgerrors.UserNotFound))
}

func TestLedgerRecordsTransactionsOnce(t *testing.T) {
	f := newCreditFixture(t, 10)
	ctx := context.Background()
	msg, err := events.Encode("", f.userID, events.TransactionCreated{
		TransactionID: "tx-1",
		ID:            events.ID(f.userID),
		Amount:        -3,
		Type:          events.TransactionCharge,
		Description:   "Problem execution fees",
		ProblemID:     events.IDPtr(8),
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleTransactionCreated(ctx, msg))
	require.NoError(t, f.svc.HandleTransactionCreated(ctx, msg))
	require.NoError(t, f.svc.HandleTransactionCreated(ctx, &mq.Message{Body: []byte(`{"id":0}`)}))

	entries, err := f.svc.ListTransactions(ctx, auth.Identity{UserID: f.userID}, f.userID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tx-1", entries[0].ID)
	require.NotNil(t, entries[0].ProblemID)
	assert.Equal(t, int64(8), *entries[0].ProblemID)
	assert.Equal(t, 1.0, testutil.CounterValue(t, f.metrics.Registry(), "solveq_handler_messages_total",
		map[string]string{"topic": f.topics.TransactionCreated, "outcome": "ignored"}))
}

func TestGetCreditsAccess(t *testing.T) {
	f := newCreditFixture(t, 42)
	ctx := context.Background()

	balance, err := f.svc.GetCredits(ctx, auth.Identity{UserID: f.userID}, f.userID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), balance.Credits)
	assert.Equal(t, "ada", balance.Name)

	_, err = f.svc.GetCredits(ctx, auth.Identity{UserID: f.userID + 1}, f.userID)
	assert.Equal(t, 401, pkgerrors.GetCode(err).HTTPStatus())

	_, err = f.svc.GetCredits(ctx, auth.Identity{UserID: 1, Role: auth.RoleAdmin}, 0)
	assert.Equal(t, 400, pkgerrors.GetCode(err).HTTPStatus())
}
