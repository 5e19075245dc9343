package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"base-api/internal/domain"
	"base-api/internal/service"
)

const authUserKey = "auth_user"

// AuthMiddleware resuelve el header Authorization a un usuario habilitado y lo
// guarda en el contexto. En modo offline el header se ignora.
func AuthMiddleware(logger *zap.Logger, authSvc *service.AuthService) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if authSvc == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
			return
		}

		user, err := authSvc.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			switch {
			case errors.Is(err, service.ErrMissingToken):
				unauthorized(c, "Missing bearer token")
			case errors.Is(err, service.ErrInvalidCredentials):
				unauthorized(c, "Invalid or expired credentials")
			default:
				logger.Error("authenticate request failed", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "could not authenticate"})
			}
			return
		}

		c.Set(authUserKey, user)
		c.Next()
	}
}

// GetAuthUser obtiene el usuario autenticado desde el contexto.
func GetAuthUser(c *gin.Context) (domain.User, bool) {
	val, ok := c.Get(authUserKey)
	if !ok {
		return domain.User{}, false
	}
	user, ok := val.(domain.User)
	return user, ok
}

func unauthorized(c *gin.Context, detail string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": detail})
}
