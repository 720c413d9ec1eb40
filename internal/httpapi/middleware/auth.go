package middleware

import (
	"context"
	"net/http"

	"github.com/K3NXXX/social-network-backend/internal/auth"
	"github.com/K3NXXX/social-network-backend/internal/common"
	"github.com/gin-gonic/gin"
)

const UserIDKey = "user_id"

type Verifier interface {
	Verify(ctx context.Context, credential string) (string, error)
}

// AuthRequired accepts "Authorization: Bearer <jwt>" and stores the user id under UserIDKey.
func AuthRequired(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := auth.BearerToken(c.GetHeader("Authorization"))
		if tok == "" {
			common.Fail(c, http.StatusUnauthorized, 40101, "missing bearer token")
			c.Abort()
			return
		}

		uid, err := v.Verify(c.Request.Context(), tok)
		if err != nil || uid == "" {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid token")
			c.Abort()
			return
		}

		c.Set(UserIDKey, uid)
		c.Next()
	}
}

func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
