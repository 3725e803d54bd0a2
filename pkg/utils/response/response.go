package response

import (
	"net/http"

	"solveq/pkg/errors"
	"solveq/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response represents a standard API response
type Response struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    interface{}      `json:"data,omitempty"`
	Details interface{}      `json:"details,omitempty"`
	TraceID string           `json:"trace_id,omitempty"`
}

// Success sends a 200 response with data
func Success(c *gin.Context, data interface{}) {
	write(c, http.StatusOK, "Success", data)
}

// Created sends a 201 response with data
func Created(c *gin.Context, data interface{}) {
	write(c, http.StatusCreated, "Created", data)
}

// SuccessWithMessage sends a 200 response with custom message
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	write(c, http.StatusOK, message, data)
}

func write(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, Response{
		Code:    errors.Success,
		Message: message,
		Data:    data,
		TraceID: getTraceID(c),
	})
}

// Error sends an error response derived from the error code.
// Client errors are logged at warn level, server errors at error level with the stack.
func Error(c *gin.Context, err error) {
	customErr := errors.GetError(err)
	status := customErr.Code.HTTPStatus()

	fields := []zap.Field{
		zap.Int("code", int(customErr.Code)),
		zap.Int("status", status),
		zap.String("kind", string(customErr.Kind())),
		zap.String("message", customErr.Error()),
	}
	if len(customErr.Details) > 0 {
		fields = append(fields, zap.Any("details", customErr.Details))
	}
	if status >= http.StatusInternalServerError {
		if customErr.Err != nil {
			fields = append(fields, zap.Error(customErr.Err))
		}
		fields = append(fields, zap.String("stack", customErr.Stack))
		logger.Error(c.Request.Context(), "request error", fields...)
	} else {
		logger.Warn(c.Request.Context(), "request rejected", fields...)
	}

	resp := Response{
		Code:    customErr.Code,
		Message: customErr.Error(),
		TraceID: getTraceID(c),
	}
	if len(customErr.Details) > 0 {
		resp.Details = customErr.Details
	}
	c.JSON(status, resp)
}

// ErrorWithCode sends an error response with specific error code
func ErrorWithCode(c *gin.Context, code errors.ErrorCode, message string) {
	if message == "" {
		message = code.Message()
	}
	Error(c, errors.New(code).WithMessage(message))
}

// BadRequest sends a 400 bad request error
func BadRequest(c *gin.Context, message string) {
	ErrorWithCode(c, errors.InvalidParams, message)
}

// Unauthorized sends a 401 unauthorized error
func Unauthorized(c *gin.Context, message string) {
	ErrorWithCode(c, errors.Unauthorized, message)
}

// getTraceID extracts trace ID from context
func getTraceID(c *gin.Context) string {
	if traceID, exists := c.Get("trace_id"); exists {
		if s, ok := traceID.(string); ok {
			return s
		}
	}
	return ""
}

// AbortWithError aborts the request and sends error response
func AbortWithError(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}

// AbortWithErrorCode aborts the request with error code
func AbortWithErrorCode(c *gin.Context, code errors.ErrorCode, message string) {
	ErrorWithCode(c, code, message)
	c.Abort()
}
