package auth

import (
	"log/slog"
	"net/http"

	"rtchat/internal/errs"

	"github.com/gin-gonic/gin"
)

// ContextUserKey is the gin context key under which the verified user is
// stored by Middleware.
const ContextUserKey = "auth.user"

// Middleware verifies the bearer credential on every request and attaches the
// resolved user to the context. Requests without a valid credential are
// rejected with 401 before the handler runs.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c.Request)
		if token == "" {
			slog.Warn("[AUTH] No token provided", "path", c.Request.URL.Path, "from", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errs.New(errs.KindAuth, "token required")})
			return
		}

		user, err := v.Verify(c.Request.Context(), token)
		if err != nil {
			slog.Warn("[AUTH] Token verification failed", "path", c.Request.URL.Path, "from", c.ClientIP(), "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err})
			return
		}

		c.Set(ContextUserKey, user)
		c.Next()
	}
}
