package middleware

import (
	"context"
	"strings"

	"solveq/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"
)

// TraceContextMiddleware ensures trace and request ids are present in the gin context,
// the request context and the response headers.
func TraceContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := headerOrNew(c, traceIDHeader)
		requestID := headerOrNew(c, requestIDHeader)

		c.Set(string(contextkey.TraceID), traceID)
		c.Set(string(contextkey.RequestID), requestID)

		ctx := context.WithValue(c.Request.Context(), contextkey.TraceID, traceID)
		ctx = context.WithValue(ctx, contextkey.RequestID, requestID)
		c.Request = c.Request.WithContext(ctx)

		c.Writer.Header().Set(traceIDHeader, traceID)
		c.Writer.Header().Set(requestIDHeader, requestID)
		c.Next()
	}
}

func headerOrNew(c *gin.Context, header string) string {
	value := strings.TrimSpace(c.GetHeader(header))
	if value == "" {
		value = uuid.NewString()
	}
	return value
}
