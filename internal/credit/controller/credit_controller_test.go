package controller

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"solveq/internal/common/auth"
	"solveq/internal/common/events"
	"solveq/internal/credit/repository"
	"solveq/internal/credit/service"
	"solveq/internal/testutil"
	userrepo "solveq/internal/user/repository"

	"github.com/gin-gonic/gin"
)

type creditAPI struct {
	router   *gin.Engine
	verifier *auth.Verifier
	producer *testutil.RecordingProducer
	userID   int64
}

func newCreditAPI(t *testing.T) *creditAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	database := testutil.NewSQLite(t)
	producer := testutil.NewRecordingProducer()
	svc := service.NewCreditService(service.Dependencies{
		DB:           database,
		Users:        userrepo.NewUserRepository(database),
		Transactions: repository.NewTransactionRepository(database),
		Producer:     producer,
	})

	verifier := auth.NewVerifier(auth.Config{Secret: "credit-secret"})
	router := gin.New()
	api := router.Group("/api/v1/credits", auth.Middleware(verifier))
	NewCreditController(svc).RegisterRoutes(api)
	return &creditAPI{
		router:   router,
		verifier: verifier,
		producer: producer,
		userID:   testutil.SeedUser(t, database, "lin", 4),
	}
}

func (a *creditAPI) call(t *testing.T, method, path string, identity auth.Identity, body string) *httptest.ResponseRecorder {
	t.Helper()
	token, err := a.verifier.Sign(identity)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func TestCreditEndpoints(t *testing.T) {
	api := newCreditAPI(t)
	self := auth.Identity{UserID: api.userID, Role: auth.RoleUser}
	path := "/api/v1/credits/" + strconv.FormatInt(api.userID, 10)

	rec := api.call(t, http.MethodPost, path, self, `{"amount": 6}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("add credits: status %d body %s", rec.Code, rec.Body.String())
	}
	var added struct {
		Data BalanceResponse `json:"data"`
	}
	testutil.MustUnmarshalJSON(t, rec.Body.Bytes(), &added)
	testutil.AssertEqual(t, added.Data.Credits, int64(10))
	testutil.AssertEqual(t, len(api.producer.OnTopic(events.DefaultTopics().CreditsChanged)), 1)

	rec = api.call(t, http.MethodGet, path, self, "")
	testutil.AssertEqual(t, rec.Code, http.StatusOK)
	testutil.AssertTrue(t, strings.Contains(rec.Body.String(), `"credits":10`), rec.Body.String())

	rec = api.call(t, http.MethodGet, path, auth.Identity{UserID: api.userID + 1}, "")
	testutil.AssertEqual(t, rec.Code, http.StatusUnauthorized)

	rec = api.call(t, http.MethodPost, path, self, `{"amount": "lots"}`)
	testutil.AssertEqual(t, rec.Code, http.StatusBadRequest)

	rec = api.call(t, http.MethodGet, "/api/v1/credits/zero", self, "")
	testutil.AssertEqual(t, rec.Code, http.StatusBadRequest)
}

func TestTransactionsEndpointReturnsEmptyList(t *testing.T) {
	api := newCreditAPI(t)
	rec := api.call(t, http.MethodGet, "/api/v1/credits/"+strconv.FormatInt(api.userID, 10)+"/transactions",
		auth.Identity{UserID: api.userID}, "")
	testutil.AssertEqual(t, rec.Code, http.StatusOK)

	var body struct {
		Data []TransactionResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	testutil.AssertEqual(t, len(body.Data), 0)
}
