package controller

import (
	"strconv"
	"time"

	"solveq/internal/common/auth"
	"solveq/internal/credit/model"
	"solveq/internal/credit/service"
	pkgerrors "solveq/pkg/errors"
	"solveq/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// CreditController handles credit HTTP endpoints.
type CreditController struct {
	creditService *service.CreditService
}

func NewCreditController(creditService *service.CreditService) *CreditController {
	return &CreditController{creditService: creditService}
}

// RegisterRoutes mounts the credit endpoints on api.
func (h *CreditController) RegisterRoutes(api gin.IRoutes) {
	api.GET("/:userId", h.Get)
	api.POST("/:userId", h.Add)
	api.GET("/:userId/transactions", h.Transactions)
}

// Get returns a balance.
func (h *CreditController) Get(c *gin.Context) {
	caller, userID, ok := requestScope(c)
	if !ok {
		return
	}
	balance, err := h.creditService.GetCredits(c.Request.Context(), caller, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toBalanceResponse(balance))
}

// Add tops up a balance.
func (h *CreditController) Add(c *gin.Context) {
	caller, userID, ok := requestScope(c)
	if !ok {
		return
	}
	var req AddCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	balance, err := h.creditService.AddCredits(c.Request.Context(), caller, userID, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toBalanceResponse(balance))
}

// Transactions lists the newest ledger entries.
func (h *CreditController) Transactions(c *gin.Context) {
	caller, userID, ok := requestScope(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := h.creditService.ListTransactions(c.Request.Context(), caller, userID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make([]TransactionResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, TransactionResponse{
			ID:          e.ID,
			Amount:      e.Amount,
			Type:        e.Type,
			ProblemID:   e.ProblemID,
			Description: e.Description,
			CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	response.Success(c, out)
}

func requestScope(c *gin.Context) (auth.Identity, int64, bool) {
	caller, ok := auth.IdentityOf(c)
	if !ok {
		response.Error(c, pkgerrors.UnauthorizedError("missing identity"))
		return auth.Identity{}, 0, false
	}
	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil || userID <= 0 {
		response.BadRequest(c, "Invalid user id")
		return auth.Identity{}, 0, false
	}
	return caller, userID, true
}

// AddCreditsRequest defines the top-up payload.
type AddCreditsRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

// BalanceResponse defines the balance payload.
type BalanceResponse struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Credits int64  `json:"credits"`
	Blocked bool   `json:"blocked"`
}

// TransactionResponse defines a ledger entry payload.
type TransactionResponse struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Type        string `json:"type"`
	ProblemID   *int64 `json:"problemId,omitempty"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
}

func toBalanceResponse(b *model.Balance) BalanceResponse {
	return BalanceResponse{ID: b.UserID, Name: b.Name, Credits: b.Credits, Blocked: b.IsBlocked}
}
