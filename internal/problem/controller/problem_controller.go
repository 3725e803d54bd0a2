package controller

import (
	"strconv"
	"time"

	"solveq/internal/common/auth"
	"solveq/internal/problem/model"
	"solveq/internal/problem/service"
	pkgerrors "solveq/pkg/errors"
	"solveq/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ProblemController handles problem HTTP endpoints.
type ProblemController struct {
	problemService *service.ProblemService
}

// NewProblemController creates a new ProblemController.
func NewProblemController(problemService *service.ProblemService) *ProblemController {
	return &ProblemController{problemService: problemService}
}

// RegisterRoutes mounts the problem endpoints on api. Callers install the
// auth middleware on api first.
func (h *ProblemController) RegisterRoutes(api gin.IRoutes) {
	api.POST("", h.Create)
	api.GET("/:id", h.Get)
	api.DELETE("/:id", h.Delete)
	api.PUT("/:id/input", h.UploadInput)
	api.DELETE("/:id/input", h.DeleteInput)
	api.POST("/:id/run", h.Run)
	api.GET("/:id/result", h.GetResult)
	api.POST("/:id/result/unlock", h.UnlockResult)
}

// Create handles problem creation.
func (h *ProblemController) Create(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	var req CreateProblemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	problem, err := h.problemService.CreateProblem(c.Request.Context(), caller, service.CreateInput{
		Name:    req.Name,
		ModelID: req.ModelID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, toProblemResponse(problem))
}

// Get returns one problem.
func (h *ProblemController) Get(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	problemID, ok := problemIDParam(c)
	if !ok {
		return
	}
	problem, err := h.problemService.GetProblem(c.Request.Context(), caller, problemID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toProblemResponse(problem))
}

// Delete handles problem deletion.
func (h *ProblemController) Delete(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	problemID, ok := problemIDParam(c)
	if !ok {
		return
	}
	if err := h.problemService.DeleteProblem(c.Request.Context(), caller, problemID); err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "Delete success", nil)
}

// UploadInput replaces the solver input of a problem.
func (h *ProblemController) UploadInput(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	problemID, ok := problemIDParam(c)
	if !ok {
		return
	}
	var req UploadInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	problem, err := h.problemService.UploadInputData(c.Request.Context(), caller, problemID, service.UploadInput{
		InputData: req.InputData,
		Metadata:  req.Metadata,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toProblemResponse(problem))
}

// DeleteInput removes the solver input of a problem.
func (h *ProblemController) DeleteInput(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	problemID, ok := problemIDParam(c)
	if !ok {
		return
	}
	if err := h.problemService.DeleteInputData(c.Request.Context(), caller, problemID); err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "Delete success", nil)
}

// Run sends a problem to the solvers.
func (h *ProblemController) Run(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	problemID, ok := problemIDParam(c)
	if !ok {
		return
	}
	problem, err := h.problemService.RunProblem(c.Request.Context(), caller, problemID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toProblemResponse(problem))
}

// GetResult returns the result of a problem; data is omitted while locked.
func (h *ProblemController) GetResult(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	problemID, ok := problemIDParam(c)
	if !ok {
		return
	}
	view, err := h.problemService.GetResult(c.Request.Context(), caller, problemID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toResultResponse(view))
}

// UnlockResult pays for a locked result.
func (h *ProblemController) UnlockResult(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	problemID, ok := problemIDParam(c)
	if !ok {
		return
	}
	view, err := h.problemService.PayResult(c.Request.Context(), caller, problemID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toResultResponse(view))
}

func callerOf(c *gin.Context) (auth.Identity, bool) {
	identity, ok := auth.IdentityOf(c)
	if !ok {
		response.Error(c, pkgerrors.UnauthorizedError("missing identity"))
		return auth.Identity{}, false
	}
	return identity, true
}

func problemIDParam(c *gin.Context) (int64, bool) {
	problemID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || problemID <= 0 {
		response.BadRequest(c, "Invalid problem id")
		return 0, false
	}
	return problemID, true
}

// CreateProblemRequest defines problem creation payload.
type CreateProblemRequest struct {
	Name    string `json:"name" binding:"required"`
	ModelID int64  `json:"modelId" binding:"required"`
}

// UploadInputRequest defines the input upload payload.
type UploadInputRequest struct {
	InputData string `json:"inputData" binding:"required"`
	Metadata  string `json:"metadata"`
}

// ProblemResponse defines the problem payload.
type ProblemResponse struct {
	ID          int64   `json:"id"`
	UserID      int64   `json:"userId"`
	ModelID     int64   `json:"modelId"`
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	SubmittedOn string  `json:"submittedOn"`
	ExecutedOn  *string `json:"executedOn,omitempty"`
}

// ModelResponse names the model a result was produced by.
type ModelResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ResultResponse defines the result payload.
type ResultResponse struct {
	ProblemID     int64         `json:"problemId"`
	Model         ModelResponse `json:"model"`
	ExecutedOn    *string       `json:"executedOn,omitempty"`
	ExecutionTime float64       `json:"executionTime"`
	Cost          int64         `json:"cost"`
	IsAvailable   bool          `json:"isAvailable"`
	Data          *string       `json:"data,omitempty"`
}

func toProblemResponse(p *model.Problem) ProblemResponse {
	return ProblemResponse{
		ID:          p.ID,
		UserID:      p.UserID,
		ModelID:     p.ModelID,
		Name:        p.Name,
		Status:      p.Status.String(),
		SubmittedOn: p.SubmittedOn.UTC().Format(time.RFC3339),
		ExecutedOn:  formatTime(p.ExecutedOn),
	}
}

func toResultResponse(v *service.ResultView) ResultResponse {
	return ResultResponse{
		ProblemID:     v.ProblemID,
		Model:         ModelResponse{ID: v.Model.ID, Name: v.Model.Name},
		ExecutedOn:    formatTime(v.ExecutedOn),
		ExecutionTime: v.ExecutionTime,
		Cost:          v.Cost,
		IsAvailable:   v.IsAvailable,
		Data:          v.Data,
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
