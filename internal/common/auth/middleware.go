package auth

import (
	"strings"

	"solveq/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// Middleware enforces bearer token authentication on protected routes.
func Middleware(verifier *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := verifier.Verify(extractBearerToken(c.GetHeader("Authorization")))
		if err != nil {
			response.AbortWithError(c, err)
			return
		}
		c.Set(identityKey, identity)
		c.Set("user_id", identity.UserID)
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), identity))
		c.Next()
	}
}

// IdentityOf returns the caller set by Middleware.
func IdentityOf(c *gin.Context) (Identity, bool) {
	value, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	identity, ok := value.(Identity)
	return identity, ok
}

func extractBearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
