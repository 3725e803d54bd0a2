package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"solveq/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

type traceResponse struct {
	TraceID      string `json:"trace_id"`
	RequestID    string `json:"request_id"`
	CtxTraceID   string `json:"ctx_trace_id"`
	CtxRequestID string `json:"ctx_request_id"`
}

func TestTraceContextMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(TraceContextMiddleware())
	router.GET("/trace", func(c *gin.Context) {
		ctx := c.Request.Context()
		c.JSON(http.StatusOK, traceResponse{
			TraceID:      c.GetString(string(contextkey.TraceID)),
			RequestID:    c.GetString(string(contextkey.RequestID)),
			CtxTraceID:   toString(ctx.Value(contextkey.TraceID)),
			CtxRequestID: toString(ctx.Value(contextkey.RequestID)),
		})
	})

	cases := []struct {
		name              string
		headers           map[string]string
		expectedTraceID   string
		expectedRequestID string
	}{
		{name: "generate trace and request id"},
		{
			name: "preserve trace and request id",
			headers: map[string]string{
				"X-Trace-Id":   "trace-123",
				"X-Request-Id": "req-123",
			},
			expectedTraceID:   "trace-123",
			expectedRequestID: "req-123",
		},
		{
			name:    "blank headers are replaced",
			headers: map[string]string{"X-Trace-Id": "   "},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/trace", nil)
			for key, value := range tc.headers {
				req.Header.Set(key, value)
			}
			router.ServeHTTP(rec, req)

			var resp traceResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response failed: %v", err)
			}
			if resp.TraceID == "" || resp.RequestID == "" {
				t.Fatalf("expected trace and request id in gin context, got %+v", resp)
			}
			if resp.CtxTraceID != resp.TraceID || resp.CtxRequestID != resp.RequestID {
				t.Fatalf("request context disagrees with gin context: %+v", resp)
			}
			if rec.Header().Get("X-Trace-Id") != resp.TraceID {
				t.Fatalf("expected trace id header %s, got %s", resp.TraceID, rec.Header().Get("X-Trace-Id"))
			}
			if rec.Header().Get("X-Request-Id") != resp.RequestID {
				t.Fatalf("expected request id header")
			}
			if tc.expectedTraceID != "" && resp.TraceID != tc.expectedTraceID {
				t.Fatalf("expected trace id %s, got %s", tc.expectedTraceID, resp.TraceID)
			}
			if tc.expectedRequestID != "" && resp.RequestID != tc.expectedRequestID {
				t.Fatalf("expected request id %s, got %s", tc.expectedRequestID, resp.RequestID)
			}
		})
	}
}

func toString(value interface{}) string {
	if v, ok := value.(string); ok {
		return v
	}
	return ""
}
